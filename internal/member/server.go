package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/httpserver"
	"github.com/nao1215/msagate/pkg/middleware"
	"github.com/nao1215/msagate/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

// 開発用アカウント。起動時に存在しなければ作成する。
const (
	devMemberID = "testuser"
	devPassword = "password123"
)

// Server はメンバーサービスのHTTPサーバー。
// ログイン時のトークン発行と、メンバー情報の参照を担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store はメンバーの永続化を担当する。
	store *Store
	// tokens はアクセストークンとリフレッシュトークンを発行する。
	tokens *token.Service
	// hashCost はパスワードハッシュのbcryptコスト。
	hashCost int
}

// NewServer は新しいメンバーサーバーを生成し、開発用アカウントを用意する。
func NewServer(ctx context.Context, db *sql.DB, tokens *token.Service) (*Server, error) {
	s := newServer(db, tokens, bcrypt.DefaultCost)
	if err := s.ensureMember(ctx, devMemberID, devPassword, "テストユーザー"); err != nil {
		return nil, fmt.Errorf("開発用アカウントの作成に失敗: %w", err)
	}
	return s, nil
}

func newServer(db *sql.DB, tokens *token.Service, hashCost int) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:   router,
		store:    NewStore(db),
		tokens:   tokens,
		hashCost: hashCost,
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
	return httpserver.Run(ctx, "Member", fmt.Sprintf(":%s", port), s.router)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	members := s.router.Group("/members")
	members.Use(middleware.TrustedIdentity())
	{
		// ログイン（トークン発行）
		members.POST("/login", s.handleLogin())
		// アクセストークンの再発行
		members.POST("/refresh", s.handleRefresh())
		// メンバー登録
		members.POST("/register", s.handleRegister())
		// ヘルスチェック
		members.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "member-service"})
		})
		// メンバー情報取得
		members.GET("/:id", s.handleGet())
		// メンバー情報更新（本人のみ）
		members.PUT("/:id", middleware.RequireIdentity(), s.handleUpdate())
		// 退会（本人のみ）
		members.DELETE("/:id", middleware.RequireIdentity(), s.handleDelete())
	}
}

// ensureMember はメンバーが存在しなければロールUSERで作成する。
func (s *Server) ensureMember(ctx context.Context, memberID, password, name string) error {
	_, err := s.store.FindByID(ctx, memberID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	err = s.store.Create(ctx, Member{
		MemberID:     memberID,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Name:         name,
	})
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	if err == nil {
		log.Printf("[Member] 開発用アカウントを作成しました: %s", memberID)
	}
	return err
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// MemberID はメンバーID。
	MemberID string `json:"member_id" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// loginResponse はログインレスポンスのJSON構造。
type loginResponse struct {
	MemberID     string `json:"member_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

// refreshRequest はトークン再発行リクエストのJSON構造。
type refreshRequest struct {
	// RefreshToken はログイン時に発行したリフレッシュトークン。
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// refreshResponse はトークン再発行レスポンスのJSON構造。
type refreshResponse struct {
	MemberID    string `json:"member_id"`
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
}

// registerRequest はメンバー登録リクエストのJSON構造。
type registerRequest struct {
	MemberID string `json:"member_id" binding:"required,max=64"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=100"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// updateRequest はメンバー情報更新リクエストのJSON構造。
// Passwordが空の場合はパスワードを変更しない。
type updateRequest struct {
	Name     string `json:"name" binding:"max=100"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"omitempty,min=8,max=72"`
}

// memberResponse はメンバー情報のJSON構造。パスワードハッシュは含めない。
type memberResponse struct {
	MemberID    string `json:"member_id"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	CreatedAt   string `json:"created_at"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// toMemberResponse はメンバーをJSONレスポンスに変換する。
func toMemberResponse(m Member) memberResponse {
	return memberResponse{
		MemberID:  m.MemberID,
		Role:      m.Role,
		Name:      m.Name,
		Email:     m.Email,
		CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// handleLogin はログインを処理するハンドラを返す。
// メンバーIDとパスワードを検証し、アクセストークンとリフレッシュトークンを発行する。
// 存在しないIDとパスワード誤りは区別せずに401を返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		m, err := s.store.FindByID(c.Request.Context(), req.MemberID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログイン処理に失敗しました"})
			log.Printf("[Member] メンバー取得エラー: %v", err)
			return
		}
		if err != nil || bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メンバーIDまたはパスワードが正しくありません"})
			return
		}

		access, err := s.tokens.IssueAccessToken(m.MemberID, m.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("[Member] アクセストークン発行エラー: %v", err)
			return
		}
		refresh, err := s.tokens.IssueRefreshToken(m.MemberID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("[Member] リフレッシュトークン発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, loginResponse{
			MemberID:     m.MemberID,
			AccessToken:  access.Value,
			RefreshToken: refresh.Value,
			Role:         m.Role,
		})
	}
}

// handleRefresh はリフレッシュトークンからアクセストークンを再発行するハンドラを返す。
// ロールはトークンではなく現在のメンバー情報から取得する。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		identity, err := s.tokens.Validate(req.RefreshToken)
		if err != nil || identity.Type != token.TypeRefresh {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		m, err := s.store.FindByID(c.Request.Context(), identity.Subject)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの再発行に失敗しました"})
			log.Printf("[Member] メンバー取得エラー: %v", err)
			return
		}

		access, err := s.tokens.IssueAccessToken(m.MemberID, m.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("[Member] アクセストークン発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, refreshResponse{
			MemberID:    m.MemberID,
			AccessToken: access.Value,
			Role:        m.Role,
		})
	}
}

// handleRegister はメンバー登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの登録に失敗しました"})
			log.Printf("[Member] パスワードハッシュ化エラー: %v", err)
			return
		}

		ctx := c.Request.Context()
		err = s.store.Create(ctx, Member{
			MemberID:     req.MemberID,
			PasswordHash: string(hash),
			Role:         RoleUser,
			Name:         req.Name,
			Email:        req.Email,
		})
		if errors.Is(err, ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "メンバーIDは既に使用されています"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの登録に失敗しました"})
			log.Printf("[Member] メンバー登録エラー: %v", err)
			return
		}

		created, err := s.store.FindByID(ctx, req.MemberID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登録したメンバーの取得に失敗しました"})
			log.Printf("[Member] メンバー取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toMemberResponse(created))
	}
}

// handleGet はメンバー情報取得を処理するハンドラを返す。
// Gatewayが付与したX-USER-IDがあれば、参照したメンバーとしてレスポンスに含める。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.store.FindByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メンバーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの取得に失敗しました"})
			log.Printf("[Member] メンバー取得エラー: %v", err)
			return
		}

		resp := toMemberResponse(m)
		resp.RequestedBy = middleware.GetUserID(c)
		c.JSON(http.StatusOK, resp)
	}
}

// isSelf はパスのメンバーIDがGatewayから渡されたX-USER-IDと一致するかを返す。
// 一致しない場合は403を返す。
func isSelf(c *gin.Context) bool {
	if c.Param("id") != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "本人以外のメンバー情報は変更できません"})
		return false
	}
	return true
}

// handleUpdate はメンバー情報の更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isSelf(c) {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ctx := c.Request.Context()
		m, err := s.store.FindByID(ctx, c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メンバーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの更新に失敗しました"})
			log.Printf("[Member] メンバー取得エラー: %v", err)
			return
		}

		m.Name = req.Name
		m.Email = req.Email
		if req.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの更新に失敗しました"})
				log.Printf("[Member] パスワードハッシュ化エラー: %v", err)
				return
			}
			m.PasswordHash = string(hash)
		}

		err = s.store.Update(ctx, m)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メンバーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの更新に失敗しました"})
			log.Printf("[Member] メンバー更新エラー: %v", err)
			return
		}

		resp := toMemberResponse(m)
		resp.RequestedBy = middleware.GetUserID(c)
		c.JSON(http.StatusOK, resp)
	}
}

// handleDelete は退会を処理するハンドラを返す。
// 発行済みのトークンは失効しないが、以降のトークン再発行はできなくなる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isSelf(c) {
			return
		}

		err := s.store.Delete(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メンバーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバーの削除に失敗しました"})
			log.Printf("[Member] メンバー削除エラー: %v", err)
			return
		}
		log.Printf("[Member] メンバーが退会しました: %s", c.Param("id"))
		c.Status(http.StatusNoContent)
	}
}
