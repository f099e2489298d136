// 掲示板サービスのエントリポイント。
// 投稿作成時にメンバーサービスをサービス名で呼び出す。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/nao1215/msagate/internal/board"
	"github.com/nao1215/msagate/pkg/balancer"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/discovery"
	"github.com/nao1215/msagate/pkg/httpclient"
	"github.com/nao1215/msagate/pkg/registry"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadService("board-service", "8082")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("PORTが不正です: %v", err)
	}

	// 応答したインスタンスを識別できるよう、未指定の場合もここでIDを決める
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := board.OpenDB(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("データベースの初期化に失敗: %v", err)
	}
	defer db.Close()

	registryClient := discovery.NewClient(cfg.RegistryURL)
	members := httpclient.NewForService(balancer.NewRoundRobin(registryClient), board.MemberServiceName)
	server := board.NewServer(db, members, instanceID)

	agent := discovery.NewAgent(registryClient, registry.Instance{
		ServiceName: cfg.Name,
		InstanceID:  instanceID,
		Host:        cfg.Host,
		Port:        port,
	}, cfg.HeartbeatInterval)

	g, ctx := errgroup.WithContext(ctx)
	log.Printf("掲示板サービスを起動します: :%s (instance=%s)", cfg.Port, instanceID)
	g.Go(func() error {
		return server.Run(ctx, cfg.Port)
	})
	g.Go(func() error {
		return agent.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("掲示板サービスが異常終了しました: %v", err)
		return
	}
	log.Println("掲示板サービスを停止しました")
}
