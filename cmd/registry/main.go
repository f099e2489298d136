// サービスレジストリのエントリポイント。
// Gatewayと別プロセスでレジストリを動かす場合に使用する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	registryapi "github.com/nao1215/msagate/internal/registry"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/metrics"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadRegistry()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	reg, err := registry.New(cfg.Registry)
	if err != nil {
		log.Fatalf("サービスレジストリの初期化に失敗: %v", err)
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg.Start()
	defer reg.Stop()

	server := registryapi.NewServer(reg, prometheus.DefaultGatherer)
	log.Printf("サービスレジストリを起動します: :%s", cfg.Port)
	if err := server.Run(ctx, cfg.Port); err != nil {
		log.Printf("サービスレジストリが異常終了しました: %v", err)
		return
	}
	log.Println("サービスレジストリを停止しました")
}
