package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/config"
	"github.com/nao1215/msagate/pkg/httpserver"
	"github.com/nao1215/msagate/pkg/middleware"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// contextKeyRoute は公開パス判定で一致したルートを保持するGinコンテキストのキー。
const contextKeyRoute = "gateway_route"

// Selector はサービス名から転送先インスタンスを1つ選択する。
type Selector interface {
	Select(ctx context.Context, serviceName string) (registry.Instance, error)
}

// Catalog は全サービスの登録状況を返す。
// 内蔵レジストリではdiscovery.Local、外部レジストリではdiscovery.Clientが満たす。
type Catalog interface {
	Services(ctx context.Context) ([]registry.ServiceSnapshot, error)
}

// Option はServerの生成オプション。
type Option func(*Server)

// WithCatalog は認証済みユーザー向けに登録状況を返す /services を有効にする。
func WithCatalog(catalog Catalog) Option {
	return func(s *Server) {
		s.catalog = catalog
	}
}

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// routes は接頭辞の長い順に並べたルート定義。
	routes []config.Route
	// publicPaths は認証不要とするパスの一覧。
	publicPaths []string
	// tokens はアクセストークンを検証する。
	tokens middleware.TokenValidator
	// selector は転送先インスタンスを選択する。
	selector Selector
	// client は転送に使用するHTTPクライアント。
	client *http.Client
	// forwardTimeout は転送1回あたりのタイムアウト。
	forwardTimeout time.Duration
	// gatherer は/metricsで公開するメトリクスの取得元。
	gatherer prometheus.Gatherer
	// catalog は /services で返す登録状況の取得元。nilの場合は公開しない。
	catalog Catalog
}

// NewServer は新しいGatewayサーバーを生成する。
// フィルタチェーンはここで一度だけ組み立て、以降は変更しない。
func NewServer(cfg config.Gateway, tokens middleware.TokenValidator, selector Selector, gatherer prometheus.Gatherer, opts ...Option) *Server {
	routes := make([]config.Route, len(cfg.Routes))
	copy(routes, cfg.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})

	router := gin.New()
	router.Use(errorFilter())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: []string{cfg.FrontendURL}}))

	s := &Server{
		router:         router,
		routes:         routes,
		publicPaths:    cfg.PublicPaths,
		tokens:         tokens,
		selector:       selector,
		client:         newForwardClient(),
		forwardTimeout: cfg.ForwardTimeout,
		gatherer:       gatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされると停止する。
func (s *Server) Run(ctx context.Context, port string) error {
	return httpserver.Run(ctx, "Gateway", fmt.Sprintf(":%s", port), s.router)
}

// setupRoutes はGateway自身のエンドポイントと転送パイプラインを設定する。
// Gateway自身のエンドポイント以外はすべてNoRouteの転送パイプラインで処理する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	if s.catalog != nil {
		// サービスの登録状況（認証必須）
		s.router.GET("/services", middleware.StripIdentityHeaders(), middleware.JWTAuth(s.tokens), s.handleServices())
	}

	s.router.NoRoute(
		middleware.StripIdentityHeaders(),
		s.publicFilter(),
		middleware.JWTAuth(s.tokens),
		s.routingFilter(),
	)
}

// handleServices は全サービスの登録状況を返すハンドラを返す。
// 取得に失敗した場合はレジストリに到達できないものとして503とする。
func (s *Server) handleServices() gin.HandlerFunc {
	return func(c *gin.Context) {
		snaps, err := s.catalog.Services(c.Request.Context())
		if err != nil {
			_ = c.Error(fmt.Errorf("%w: 登録状況の取得に失敗: %w", ErrNoHealthyInstance, err))
			c.Abort()
			return
		}
		if snaps == nil {
			snaps = []registry.ServiceSnapshot{}
		}
		c.JSON(http.StatusOK, snaps)
	}
}

// matchRoute はpathに一致する最長接頭辞のルートを返す。
func (s *Server) matchRoute(path string) (config.Route, bool) {
	for _, r := range s.routes {
		if r.Matches(path) {
			return r, true
		}
	}
	return config.Route{}, false
}

// publicFilter は公開パスまたは認証不要ルートへのリクエストに印を付けるフィルタを返す。
// 一致したルートは後続のルーティングフィルタのためにコンテキストへ保存する。
func (s *Server) publicFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		route, ok := s.matchRoute(path)
		if ok {
			c.Set(contextKeyRoute, route)
		}
		if middleware.IsPublicPath(path, s.publicPaths) || (ok && !route.RequiresAuth) {
			middleware.MarkPublic(c)
		}
		c.Next()
	}
}

// routingFilter はルートを決定し、インスタンスを選択して転送するフィルタを返す。
// 失敗した場合はエラーを記録してチェーンを中断し、レスポンスはerrorFilterが書き込む。
func (s *Server) routingFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeFrom(c)
		if !ok {
			_ = c.Error(fmt.Errorf("%w: %s", ErrRouteNotFound, c.Request.URL.Path))
			c.Abort()
			return
		}

		inst, err := s.selector.Select(c.Request.Context(), route.ServiceName)
		if err != nil {
			_ = c.Error(fmt.Errorf("%w: %s: %w", ErrNoHealthyInstance, route.ServiceName, err))
			c.Abort()
			return
		}

		if err := s.forward(c, route, inst); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(contextKeyForwarded, true)
	}
}

// routeFrom はpublicFilterが保存したルートを取り出す。
func routeFrom(c *gin.Context) (config.Route, bool) {
	v, ok := c.Get(contextKeyRoute)
	if !ok {
		return config.Route{}, false
	}
	route, ok := v.(config.Route)
	return route, ok
}
