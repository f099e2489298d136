// Package httpserver はHTTPサーバーの起動と停止を共通化する。
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ShutdownTimeout は停止時に処理中のリクエストを待つ最大時間。
const ShutdownTimeout = 10 * time.Second

// Run はaddrでhandlerを提供し、ctxがキャンセルされると停止する。
// 停止時は処理中のリクエストの完了をShutdownTimeoutまで待つ。
func Run(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[%s] 起動します: %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%sの起動に失敗: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[%s] 停止します", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%sの停止に失敗: %w", name, err)
	}
	return nil
}
