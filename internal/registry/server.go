package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/httpserver"
	"github.com/nao1215/msagate/pkg/middleware"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server はサービスレジストリのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// registry はインスタンスを保持するメンバーシップテーブル。
	registry *registry.Registry
	// gatherer は/metricsで公開するメトリクスの取得元。
	gatherer prometheus.Gatherer
}

// NewServer は新しいレジストリサーバーを生成する。
// スイープの開始と停止は呼び出し側がRegistryに対して行う。
func NewServer(reg *registry.Registry, gatherer prometheus.Gatherer) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:   router,
		registry: reg,
		gatherer: gatherer,
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
	return httpserver.Run(ctx, "Registry", fmt.Sprintf(":%s", port), s.router)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1/services")
	{
		// 全サービスの登録状況
		api.GET("", s.handleListServices())
		// インスタンス登録
		api.POST("/:service/instances", s.handleRegister())
		// 健全なインスタンス一覧
		api.GET("/:service/instances", s.handleListHealthy())
		// ハートビート
		api.PUT("/:service/instances/:id/heartbeat", s.handleHeartbeat())
		// 登録解除
		api.DELETE("/:service/instances/:id", s.handleDeregister())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "registry"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// registerRequest はインスタンス登録リクエストのJSON構造。
type registerRequest struct {
	// InstanceID はインスタンスID。空の場合はレジストリが採番する。
	InstanceID string `json:"instance_id"`
	// Host は転送先ホスト名。
	Host string `json:"host" binding:"required"`
	// Port は転送先ポート番号。
	Port int `json:"port" binding:"required"`
	// Metadata はインスタンス固有の任意情報。
	Metadata map[string]string `json:"metadata"`
}

// registerResponse はインスタンス登録レスポンスのJSON構造。
type registerResponse struct {
	// InstanceID は登録されたインスタンスID。
	InstanceID string `json:"instance_id"`
}

// handleRegister はインスタンス登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id, err := s.registry.Register(registry.Instance{
			ServiceName: c.Param("service"),
			InstanceID:  req.InstanceID,
			Host:        req.Host,
			Port:        req.Port,
			Metadata:    req.Metadata,
		})
		if errors.Is(err, registry.ErrInvalidInstance) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "インスタンスの登録に失敗しました"})
			log.Printf("[Registry] 登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, registerResponse{InstanceID: id})
	}
}

// handleHeartbeat はハートビートを処理するハンドラを返す。
// 未登録またはDOWNの場合は404を返し、クライアントに再登録を促す。
func (s *Server) handleHeartbeat() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.registry.Heartbeat(c.Param("service"), c.Param("id"))
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "インスタンスが登録されていません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ハートビートの処理に失敗しました"})
			log.Printf("[Registry] ハートビートエラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleDeregister は登録解除を処理するハンドラを返す。
func (s *Server) handleDeregister() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.registry.Deregister(c.Param("service"), c.Param("id"))
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "インスタンスが登録されていません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登録解除に失敗しました"})
			log.Printf("[Registry] 登録解除エラー: %v", err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// handleListHealthy は健全なインスタンス一覧を返すハンドラを返す。
// 該当が無い場合も空配列で200を返す。
func (s *Server) handleListHealthy() gin.HandlerFunc {
	return func(c *gin.Context) {
		instances, err := s.registry.ListHealthy(c.Request.Context(), c.Param("service"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "インスタンス一覧の取得に失敗しました"})
			log.Printf("[Registry] 一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, instances)
	}
}

// handleListServices は全サービスの登録状況を返すハンドラを返す。
func (s *Server) handleListServices() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.registry.Services())
	}
}
