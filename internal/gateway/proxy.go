package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/metrics"
	"github.com/nao1215/msagate/pkg/middleware"
	"github.com/nao1215/msagate/pkg/registry"
)

// hopByHopHeaders は転送時に引き継がないヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// newForwardClient は転送用のHTTPクライアントを生成する。
// タイムアウトはリクエストごとのコンテキストで設定し、リダイレクトは追従せずにそのまま返す。
func newForwardClient() *http.Client {
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// forward はリクエストをインスタンスに転送し、レスポンスをそのまま返す。
// Authorizationヘッダーは転送しない。認証済みユーザー情報はJWTAuthが設定した
// X-USER-ID / X-USER-ROLEで伝わる。
func (s *Server) forward(c *gin.Context, route config.Route, inst registry.Instance) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.forwardTimeout)
	defer cancel()

	path, rawPath := forwardPath(route, c.Request.URL)
	target := url.URL{
		Scheme:   "http",
		Host:     inst.Addr(),
		Path:     path,
		RawPath:  rawPath,
		RawQuery: c.Request.URL.RawQuery,
	}

	var body io.Reader
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		body = c.Request.Body
	}
	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("転送リクエストの作成に失敗: %w", err)
	}
	req.ContentLength = c.Request.ContentLength

	copyHeaders(req.Header, c.Request.Header)
	req.Header.Del(middleware.HeaderAuthorization)
	req.Header.Set("X-Forwarded-For", c.ClientIP())
	req.Header.Set("X-Forwarded-Host", c.Request.Host)

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.GatewayForwardDuration.WithLabelValues(route.ServiceName).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s (%s): %w", ErrForwardTimeout, route.ServiceName, inst.Addr(), err)
		}
		return fmt.Errorf("%w: %s (%s): %w", ErrForwardTransport, route.ServiceName, inst.Addr(), err)
	}
	defer resp.Body.Close()

	copyHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// ステータスは送信済みのため、ログのみ出力する
		log.Printf("[Gateway] レスポンスの転送に失敗: service=%s, addr=%s, error=%v",
			route.ServiceName, inst.Addr(), err)
	}
	return nil
}

// forwardPath は転送先のパスをデコード済みとエスケープ済みの組で返す。
// %2Fなどのエスケープは受信時の表現のまま引き継ぐ。
func forwardPath(route config.Route, u *url.URL) (path, rawPath string) {
	escaped := u.EscapedPath()
	if !route.StripPrefix {
		return u.Path, escaped
	}
	if route.Matches(escaped) {
		rawPath = route.ForwardPath(escaped)
		if p, err := url.PathUnescape(rawPath); err == nil {
			return p, rawPath
		}
	}
	// 接頭辞自体がエスケープされて届いた場合は、デコード済みのパスから組み立て直す
	path = route.ForwardPath(u.Path)
	return path, (&url.URL{Path: path}).EscapedPath()
}

// copyHeaders はhop-by-hopヘッダーを除いてヘッダーを複製する。
// Connectionヘッダーで指定されたヘッダーも除外する。
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]struct{}, len(hopByHopHeaders))
	for _, h := range hopByHopHeaders {
		skip[h] = struct{}{}
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}

	for key, values := range src {
		if _, ok := skip[http.CanonicalHeaderKey(key)]; ok {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
