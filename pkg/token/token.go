// Package token は署名付きトークン（JWT）の発行と検証を行うトークンサービスを提供する。
//
// トークンはサーバー側に保存しないステートレスなもので、有効性はクレームと
// 署名用シークレット、現在時刻のみで決まる。シークレットを変更すると
// 発行済みの全トークンが無効になる。個別のトークンを失効させる仕組みは持たない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Type はトークンの種別。
type Type string

const (
	// TypeAccess はリクエストの認可に使う短命なトークン。ロールを持つ。
	TypeAccess Type = "ACCESS"
	// TypeRefresh はアクセストークンの再発行にのみ使う長命なトークン。ロールを持たない。
	TypeRefresh Type = "REFRESH"
)

// ErrInvalid はトークンが無効であることを表す。
// 構造の破損、署名不一致、期限切れのいずれであっても区別せずにこのエラーを返す。
var ErrInvalid = errors.New("トークンが無効です")

// issuer はトークンの発行者名。
const issuer = "msagate"

// Claims はJWTのクレーム（ペイロード）。
type Claims struct {
	jwt.RegisteredClaims
	// Role はメンバーのロール。アクセストークンのみ設定される。
	Role string `json:"role,omitempty"`
	// TokenType はトークン種別。
	TokenType Type `json:"token_type"`
}

// Token は発行されたトークン。
type Token struct {
	// Value は署名済みのトークン文字列。
	Value string
	// Subject はメンバーID。
	Subject string
	// Role はメンバーのロール。リフレッシュトークンでは空。
	Role string
	// Type はトークン種別。
	Type Type
	// IssuedAt は発行時刻。
	IssuedAt time.Time
	// ExpiresAt は有効期限。
	ExpiresAt time.Time
}

// Identity は検証に成功したトークンから取り出した情報。
type Identity struct {
	// Subject はメンバーID。
	Subject string
	// Role はメンバーのロール。
	Role string
	// Type はトークン種別。
	Type Type
}

// Config はトークンサービスの設定。
type Config struct {
	// Secret はHS256署名用の共有シークレット。
	Secret string
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は時刻の取得元を差し替える。
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// Service はトークンの発行と検証を行う。起動後は読み取り専用で並行利用できる。
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
}

// NewService は新しいトークンサービスを生成する。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("署名用シークレットが設定されていません")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("トークンの有効期間は正の値である必要があります")
	}
	s := &Service{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueAccessToken はロール付きのアクセストークンを発行する。
func (s *Service) IssueAccessToken(subject, role string) (Token, error) {
	if subject == "" || role == "" {
		return Token{}, errors.New("アクセストークンにはメンバーIDとロールが必要です")
	}
	return s.issue(subject, role, TypeAccess, s.accessTTL)
}

// IssueRefreshToken はロールを持たないリフレッシュトークンを発行する。
func (s *Service) IssueRefreshToken(subject string) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("リフレッシュトークンにはメンバーIDが必要です")
	}
	return s.issue(subject, "", TypeRefresh, s.refreshTTL)
}

// issue はクレームを組み立てて署名する共通処理。
func (s *Service) issue(subject, role string, typ Type, ttl time.Duration) (Token, error) {
	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      role,
		TokenType: typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return Token{
		Value:     signed,
		Subject:   subject,
		Role:      role,
		Type:      typ,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Validate はトークンの署名と有効期限を検証し、含まれる情報を返す。
// 失敗理由に関わらずErrInvalidを返す。
func (s *Service) Validate(value string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(value, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalid
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalid
	}

	switch claims.TokenType {
	case TypeAccess:
		if claims.Role == "" {
			return Identity{}, ErrInvalid
		}
	case TypeRefresh:
		if claims.Role != "" {
			return Identity{}, ErrInvalid
		}
	default:
		return Identity{}, ErrInvalid
	}

	return Identity{
		Subject: claims.Subject,
		Role:    claims.Role,
		Type:    claims.TokenType,
	}, nil
}

// IsAccessToken は有効なアクセストークンであればtrueを返す。
func (s *Service) IsAccessToken(value string) bool {
	id, err := s.Validate(value)
	return err == nil && id.Type == TypeAccess
}

// IsRefreshToken は有効なリフレッシュトークンであればtrueを返す。
func (s *Service) IsRefreshToken(value string) bool {
	id, err := s.Validate(value)
	return err == nil && id.Type == TypeRefresh
}
