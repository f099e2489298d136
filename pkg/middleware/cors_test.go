package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const frontendOrigin = "http://localhost:3000"

// newCORSRouter はCORSミドルウェアの後ろに呼び出し回数を数えるハンドラを置いたルーターを返す。
func newCORSRouter(cfg CORSConfig, calls *int) *gin.Engine {
	router := gin.New()
	router.Use(CORS(cfg))
	router.Any("/boards", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"boards": []string{}})
	})
	return router
}

// preflight はプリフライトリクエストを生成する。
func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/boards", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	return req
}

// TestCORS_Preflight はプリフライトリクエストの扱いを検証する。
func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	t.Run("許可されたオリジンのプリフライトは後続を呼ばずに204で応答すること", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &calls)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, preflight(frontendOrigin))

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if calls != 0 {
			t.Errorf("後続のハンドラが %d 回呼ばれた", calls)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, frontendOrigin)
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
		}
	})

	t.Run("許可ヘッダーに認証情報の転送用ヘッダーが含まれないこと", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &calls)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, preflight(frontendOrigin))

		allowed := strings.ToUpper(w.Header().Get("Access-Control-Allow-Headers"))
		if !strings.Contains(allowed, "AUTHORIZATION") {
			t.Errorf("Access-Control-Allow-Headers = %q, Authorizationが必要", allowed)
		}
		if strings.Contains(allowed, "X-USER-") {
			t.Errorf("Access-Control-Allow-Headers = %q, X-USER-*を許可してはいけない", allowed)
		}
	})

	t.Run("許可されていないオリジンのプリフライトにはCORSヘッダーを付けないこと", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &calls)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, preflight("https://evil.example"))

		if w.Code != http.StatusNoContent || calls != 0 {
			t.Errorf("ステータスコード = %d, 呼び出し回数 = %d", w.Code, calls)
		}
		for _, h := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers"} {
			if got := w.Header().Get(h); got != "" {
				t.Errorf("%s = %q, want empty", h, got)
			}
		}
	})

	t.Run("Access-Control-Request-Methodの無いOPTIONSは後続に渡されること", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &calls)
		req := httptest.NewRequest(http.MethodOptions, "/boards", nil)
		req.Header.Set("Origin", frontendOrigin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if calls != 1 {
			t.Errorf("後続の呼び出し回数 = %d, want 1", calls)
		}
	})

	t.Run("MaxAgeを指定した場合は秒数で返ること", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}, MaxAge: 10 * time.Minute}, &calls)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, preflight(frontendOrigin))

		if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Errorf("Access-Control-Max-Age = %q, want 600", got)
		}
	})
}

// TestCORS_SimpleRequest はプリフライト以外のリクエストの扱いを検証する。
func TestCORS_SimpleRequest(t *testing.T) {
	t.Parallel()

	t.Run("許可されたオリジンにはAllow-OriginとVaryが付与されること", func(t *testing.T) {
		t.Parallel()

		var calls int
		// 末尾のスラッシュと空要素は設定の揺れとして無視する
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{"", frontendOrigin + "/"}}, &calls)
		req := httptest.NewRequest(http.MethodGet, "/boards", nil)
		req.Header.Set("Origin", frontendOrigin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK || calls != 1 {
			t.Fatalf("ステータスコード = %d, 呼び出し回数 = %d", w.Code, calls)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, frontendOrigin)
		}
		if got := w.Header().Get("Vary"); got != "Origin" {
			t.Errorf("Vary = %q, want Origin", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "" {
			t.Errorf("プリフライト以外にAccess-Control-Allow-Methodsが付与された: %q", got)
		}
	})

	t.Run("Originの無いリクエストにはCORSヘッダーを付けないこと", func(t *testing.T) {
		t.Parallel()

		var calls int
		router := newCORSRouter(CORSConfig{AllowedOrigins: []string{frontendOrigin}}, &calls)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boards", nil))

		if calls != 1 {
			t.Errorf("後続の呼び出し回数 = %d, want 1", calls)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
		if got := w.Header().Get("Vary"); got != "" {
			t.Errorf("Vary = %q, want empty", got)
		}
	})
}
