// API Gatewayのエントリポイント。
// 外部からアクセス可能な唯一のサービスであり、トークン検証とルーティングを担当する。
// REGISTRY_URLが未設定の場合はサービスレジストリを同じプロセスで起動する。
// いずれの場合も自身をレジストリへ登録し、登録状況を /services で公開する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nao1215/msagate/internal/gateway"
	registryapi "github.com/nao1215/msagate/internal/registry"
	"github.com/nao1215/msagate/pkg/balancer"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/discovery"
	"github.com/nao1215/msagate/pkg/metrics"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/nao1215/msagate/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// registryBackend はGatewayが自身の登録と登録状況の参照に使うレジストリ。
type registryBackend interface {
	discovery.Registrar
	gateway.Catalog
}

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("PORTが不正です: %v", err)
	}

	tokens, err := token.NewService(cfg.Token)
	if err != nil {
		log.Fatalf("トークンサービスの初期化に失敗: %v", err)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var (
		lister  balancer.Lister
		backend registryBackend
	)
	if cfg.RegistryURL != "" {
		log.Printf("外部のサービスレジストリを使用します: %s", cfg.RegistryURL)
		client := discovery.NewClient(cfg.RegistryURL)
		lister = client
		backend = client
	} else {
		reg, err := registry.New(cfg.Registry)
		if err != nil {
			log.Fatalf("サービスレジストリの初期化に失敗: %v", err)
		}
		reg.Start()
		defer reg.Stop()
		lister = reg
		backend = discovery.Local{Registry: reg}

		registryServer := registryapi.NewServer(reg, prometheus.DefaultGatherer)
		log.Printf("サービスレジストリを起動します: :%s", cfg.RegistryPort)
		g.Go(func() error {
			return registryServer.Run(ctx, cfg.RegistryPort)
		})
	}

	server := gateway.NewServer(cfg, tokens, balancer.NewRoundRobin(lister), prometheus.DefaultGatherer,
		gateway.WithCatalog(backend))
	log.Printf("Gatewayサービスを起動します: :%s", cfg.Port)
	g.Go(func() error {
		return server.Run(ctx, cfg.Port)
	})

	agent := discovery.NewAgent(backend, registry.Instance{
		ServiceName: cfg.Name,
		InstanceID:  cfg.InstanceID,
		Host:        cfg.Host,
		Port:        port,
	}, cfg.Registry.HeartbeatInterval)
	g.Go(func() error {
		return agent.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Gatewayサービスが異常終了しました: %v", err)
		return
	}
	log.Println("Gatewayサービスを停止しました")
}
