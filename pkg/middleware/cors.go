package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCORSMaxAge はプリフライト結果をブラウザがキャッシュする期間のデフォルト値。
const DefaultCORSMaxAge = 24 * time.Hour

// corsAllowedMethods はクロスオリジンで許可するメソッド。
var corsAllowedMethods = strings.Join([]string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}, ", ")

// corsAllowedHeaders はクライアントが送信してよいヘッダー。
// X-USER-ID / X-USER-ROLEはGatewayが付与するヘッダーのため含めない。
var corsAllowedHeaders = strings.Join([]string{HeaderAuthorization, "Content-Type"}, ", ")

// CORSConfig はCORSミドルウェアの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジン。空文字は無視する。
	AllowedOrigins []string
	// MaxAge はプリフライト結果のキャッシュ期間。0以下の場合はDefaultCORSMaxAgeを使う。
	MaxAge time.Duration
}

// CORS はブラウザからGatewayを直接呼び出すためのGinミドルウェアを返す。
// プリフライトリクエストは認証や転送を行わずに204で応答する。
// 許可されていないオリジンにはCORSヘッダーを付けないため、ブラウザ側で拒否される。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			origins[o] = struct{}{}
		}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultCORSMaxAge
	}
	maxAgeSeconds := strconv.Itoa(int(maxAge / time.Second))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		_, allowed := origins[origin]
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
		}

		if !isPreflight(c.Request) {
			c.Next()
			return
		}

		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		if allowed {
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", maxAgeSeconds)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// isPreflight はリクエストがCORSのプリフライトかを返す。
// Access-Control-Request-Methodの無いOPTIONSは通常のリクエストとして扱う。
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
