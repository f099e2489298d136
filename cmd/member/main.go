// メンバーサービスのエントリポイント。
// ログインとトークン発行を担当し、起動後はサービスレジストリへ自身を登録する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nao1215/msagate/internal/member"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/discovery"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/nao1215/msagate/pkg/token"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadService("member-service", "8081")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("PORTが不正です: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := token.NewService(cfg.Token)
	if err != nil {
		log.Fatalf("トークンサービスの初期化に失敗: %v", err)
	}

	db, err := member.OpenDB(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("データベースの初期化に失敗: %v", err)
	}
	defer db.Close()

	server, err := member.NewServer(ctx, db, tokens)
	if err != nil {
		log.Fatalf("メンバーサーバーの初期化に失敗: %v", err)
	}

	agent := discovery.NewAgent(discovery.NewClient(cfg.RegistryURL), registry.Instance{
		ServiceName: cfg.Name,
		InstanceID:  cfg.InstanceID,
		Host:        cfg.Host,
		Port:        port,
	}, cfg.HeartbeatInterval)

	g, ctx := errgroup.WithContext(ctx)
	log.Printf("メンバーサービスを起動します: :%s", cfg.Port)
	g.Go(func() error {
		return server.Run(ctx, cfg.Port)
	})
	g.Go(func() error {
		return agent.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("メンバーサービスが異常終了しました: %v", err)
		return
	}
	log.Println("メンバーサービスを停止しました")
}
