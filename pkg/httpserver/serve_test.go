package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"
)

// TestRun はサーバーの起動と停止を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストのキャンセルで正常に停止すること", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- Run(ctx, "test", "127.0.0.1:0", http.NotFoundHandler())
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run()でエラーが発生: %v", err)
			}
		case <-time.After(ShutdownTimeout):
			t.Fatal("Run()が停止しなかった")
		}
	})

	t.Run("不正なアドレスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		err := Run(context.Background(), "test", "127.0.0.1:-1", http.NotFoundHandler())
		if err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}
	})
}
