package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/token"
)

const (
	// HeaderUserID は認証済みメンバーIDを下流サービスへ伝播するHTTPヘッダーキー。
	HeaderUserID = "X-USER-ID"
	// HeaderUserRole は認証済みメンバーのロールを下流サービスへ伝播するHTTPヘッダーキー。
	HeaderUserRole = "X-USER-ROLE"
	// HeaderAuthorization はBearerトークンを受け取るHTTPヘッダーキー。
	HeaderAuthorization = "Authorization"
)

// Ginコンテキストのキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyUserRole = "user_role"
	contextKeyPublic   = "public_path"
)

var (
	// ErrAuthMissing はAuthorizationヘッダーが無い、またはBearer形式でないことを表す。
	ErrAuthMissing = errors.New("認証情報がありません")
	// ErrAuthInvalid はトークンが無効であることを表す。
	// 期限切れ・改ざん・種別違いを区別しない。
	ErrAuthInvalid = errors.New("認証情報が無効です")
)

// TokenValidator はトークンを検証して認証情報を取り出す。
type TokenValidator interface {
	Validate(value string) (token.Identity, error)
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// MarkPublicで公開パスと判定されたリクエストは検証せずに通過させる。
// 検証に成功した場合、コンテキストにメンバーIDとロールを設定し、
// 転送用のリクエストヘッダーX-USER-ID / X-USER-ROLEを上書きする。
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsPublic(c) {
			c.Next()
			return
		}

		authHeader := c.GetHeader(HeaderAuthorization)
		if authHeader == "" {
			abortUnauthorized(c, ErrAuthMissing, "Authorizationヘッダーが必要です")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			abortUnauthorized(c, ErrAuthMissing, "Bearer トークン形式が不正です")
			return
		}

		identity, err := validator.Validate(strings.TrimSpace(tokenString))
		if err != nil || identity.Type != token.TypeAccess {
			abortUnauthorized(c, ErrAuthInvalid, "トークンが無効です")
			return
		}

		c.Set(contextKeyUserID, identity.Subject)
		c.Set(contextKeyUserRole, identity.Role)
		c.Request.Header.Set(HeaderUserID, identity.Subject)
		c.Request.Header.Set(HeaderUserRole, identity.Role)
		c.Next()
	}
}

// abortUnauthorized は401を返してチェーンを中断する。
// 失敗理由はエラーとして記録するが、レスポンスには含めない。
func abortUnauthorized(c *gin.Context, err error, message string) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
	})
}

// StripIdentityHeaders はクライアントが送ってきたX-USER-ID / X-USER-ROLEを削除する
// Ginミドルウェアを返す。これらのヘッダーはJWTAuthのみが設定する。
func StripIdentityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Header.Del(HeaderUserID)
		c.Request.Header.Del(HeaderUserRole)
		c.Next()
	}
}

// MarkPublic はリクエストを認証不要として印を付ける。
func MarkPublic(c *gin.Context) {
	c.Set(contextKeyPublic, true)
}

// IsPublic はリクエストが認証不要と判定済みかを返す。
func IsPublic(c *gin.Context) bool {
	return c.GetBool(contextKeyPublic)
}

// IsPublicPath はパスが公開パスのいずれかを含む場合にtrueを返す。
func IsPublicPath(path string, publicPaths []string) bool {
	for _, p := range publicPaths {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// TrustedIdentity はGatewayが付与したX-USER-ID / X-USER-ROLEをコンテキストに取り込む
// Ginミドルウェアを返す。Gatewayの背後で動作する下流サービスで使用する。
func TrustedIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(HeaderUserID); userID != "" {
			c.Set(contextKeyUserID, userID)
			c.Set(contextKeyUserRole, c.GetHeader(HeaderUserRole))
		}
		c.Next()
	}
}

// RequireIdentity はメンバーIDが取得できないリクエストを401で拒否するGinミドルウェアを返す。
// TrustedIdentityまたはJWTAuthの後に適用する。
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserID(c) == "" {
			abortUnauthorized(c, ErrAuthMissing, "ユーザーIDが取得できません")
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからメンバーIDを取得する。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetUserRole はGinコンテキストからロールを取得する。
func GetUserRole(c *gin.Context) string {
	return c.GetString(contextKeyUserRole)
}
