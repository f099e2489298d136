package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/httpclient"
	"github.com/nao1215/msagate/pkg/httpserver"
	"github.com/nao1215/msagate/pkg/middleware"
)

// MemberServiceName はメンバーサービスのレジストリ上のサービス名。
const MemberServiceName = "member-service"

// memberFetchAttempts はメンバー情報取得の最大試行回数。
// 通信に失敗した場合のみ、次のインスタンスで再試行する。
const memberFetchAttempts = 2

// Server は掲示板サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store は投稿の永続化を担当する。
	store *Store
	// members はメンバーサービスへのHTTPクライアント。
	members *httpclient.Client
	// instanceID はこのインスタンスのID。どのインスタンスが応答したかをレスポンスに含める。
	instanceID string
}

// Option はServerの生成オプション。
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock は投稿日時の取得元を差し替える。
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewServer は新しい掲示板サーバーを生成する。
// dbはOpenDBで開いたデータベース、membersにはメンバーサービスをサービス名で解決するクライアントを渡す。
func NewServer(db *sql.DB, members *httpclient.Client, instanceID string, opts ...Option) *Server {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:     router,
		store:      NewStore(db, o.clock),
		members:    members,
		instanceID: instanceID,
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
	return httpserver.Run(ctx, "Board", fmt.Sprintf(":%s", port), s.router)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	boards := s.router.Group("/boards")
	boards.Use(middleware.TrustedIdentity())
	{
		// 投稿一覧取得
		boards.GET("", s.handleList())
		// ヘルスチェック
		boards.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "board-service", "instance_id": s.instanceID})
		})
		// 投稿詳細取得
		boards.GET("/:id", s.handleGet())

		write := boards.Group("")
		write.Use(middleware.RequireIdentity())
		{
			// 投稿作成
			write.POST("", s.handleCreate())
			// 投稿更新
			write.PUT("/:id", s.handleUpdate())
			// 投稿削除
			write.DELETE("/:id", s.handleDelete())
		}
	}
}

// boardRequest は投稿作成・更新リクエストのJSON構造。
type boardRequest struct {
	// Title は投稿のタイトル。
	Title string `json:"title" binding:"required,max=200"`
	// Content は投稿の本文。
	Content string `json:"content"`
}

// boardResponse は投稿のJSONレスポンス構造。
type boardResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// memberInfo はメンバーサービスが返すメンバー情報のうち、掲示板が使用する項目。
type memberInfo struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// toBoardResponse は投稿をJSONレスポンスに変換する。
func toBoardResponse(b Board) boardResponse {
	return boardResponse{
		ID:         b.ID,
		Title:      b.Title,
		Content:    b.Content,
		AuthorID:   b.AuthorID,
		AuthorName: b.AuthorName,
		CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleList は投稿一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.store.List(c.Request.Context())
		if err != nil {
			respondStoreError(c, err)
			return
		}
		boards := make([]boardResponse, 0, len(list))
		for _, b := range list {
			boards = append(boards, toBoardResponse(b))
		}

		c.JSON(http.StatusOK, gin.H{
			"boards":       boards,
			"instance_id":  s.instanceID,
			"requested_by": middleware.GetUserID(c),
		})
	}
}

// handleGet は投稿詳細取得を処理するハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := s.store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, toBoardResponse(b))
	}
}

// handleCreate は投稿作成を処理するハンドラを返す。
// 作成者の表示名はメンバーサービスから取得する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req boardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		author, err := s.fetchMember(c.Request.Context(), userID, middleware.GetUserRole(c))
		if err != nil {
			s.respondMemberError(c, userID, err)
			return
		}

		b, err := s.store.Create(c.Request.Context(), Board{
			Title:      req.Title,
			Content:    req.Content,
			AuthorID:   userID,
			AuthorName: author.Name,
		})
		if err != nil {
			respondStoreError(c, err)
			return
		}
		log.Printf("[Board] 投稿を作成しました: id=%s, author=%s", b.ID, userID)
		c.JSON(http.StatusCreated, toBoardResponse(b))
	}
}

// handleUpdate は投稿更新を処理するハンドラを返す。作成者のみ更新できる。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req boardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		b, err := s.store.Update(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Title, req.Content)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, toBoardResponse(b))
	}
}

// handleDelete は投稿削除を処理するハンドラを返す。作成者のみ削除できる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Delete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
			respondStoreError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// fetchMember はメンバーサービスからメンバー情報を取得する。
// 認証済みのメンバーIDとロールを転送し、メンバーサービス側でも参照者が分かるようにする。
// 停止したインスタンスがリース切れまで選択され得るため、通信失敗時は別のインスタンスで再試行する。
func (s *Server) fetchMember(ctx context.Context, userID, role string) (memberInfo, error) {
	ctx = httpclient.WithIdentity(ctx, userID, role)
	path := "/members/" + url.PathEscape(userID)

	var err error
	for attempt := 1; attempt <= memberFetchAttempts; attempt++ {
		var info memberInfo
		err = s.members.GetJSON(ctx, path, &info)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, httpclient.ErrTransport) || ctx.Err() != nil {
			break
		}
		log.Printf("[Board] メンバーサービスとの通信に失敗したため再試行します: attempt=%d, error=%v", attempt, err)
	}
	return memberInfo{}, err
}

// respondMemberError はメンバーサービス呼び出しの失敗をHTTPレスポンスに変換する。
func (s *Server) respondMemberError(c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, httpclient.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "メンバーサービスが利用できません"})
	case httpclient.IsStatus(err, http.StatusNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "作成者のメンバー情報が見つかりません"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "メンバー情報の取得に失敗しました"})
	}
	log.Printf("[Board] メンバー情報の取得に失敗: member=%s, error=%v", userID, err)
}

// respondStoreError はStoreのエラーをHTTPレスポンスに変換する。
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "投稿の作成者のみ変更できます"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.InternalErrorMessage})
		log.Printf("[Board] 投稿の操作に失敗: %v", err)
	}
}
