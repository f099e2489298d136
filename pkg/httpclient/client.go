package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nao1215/msagate/pkg/middleware"
	"github.com/nao1215/msagate/pkg/registry"
)

// DefaultTimeout はサービス間通信のデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

// MaxErrorBodySize はRemoteErrorに保持するレスポンスボディの上限バイト数。
const MaxErrorBodySize = 64 << 10

// ErrUnavailable は呼び出し先サービスに健全なインスタンスが無いことを表す。
// 時間を置いて再試行できる。
var ErrUnavailable = errors.New("呼び出し先サービスが利用できません")

// ErrTransport は呼び出し先との通信自体が失敗したことを表す。
// NewForServiceで生成したクライアントでは、再度呼び出すと別のインスタンスが選択される。
var ErrTransport = errors.New("呼び出し先サービスとの通信に失敗しました")

// RemoteError は呼び出し先サービスが2xx以外のステータスを返したことを表す。
type RemoteError struct {
	// StatusCode は呼び出し先が返したHTTPステータスコード。
	StatusCode int
	// Body は呼び出し先が返したレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *RemoteError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// Selector はサービス名から呼び出し先インスタンスを1つ選択する。
type Selector interface {
	Select(ctx context.Context, serviceName string) (registry.Instance, error)
}

// Client はサービス間通信用のHTTPクライアント。
// 接続先のベースURLは呼び出しのたびに解決する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// resolve は接続先のベースURLを解決する。
	resolve func(ctx context.Context) (string, error)
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout はリクエスト全体のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は固定のベースURLに接続するクライアントを生成する。
// baseURLには接続先のベースURL（例: "http://registry:8761"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	return newClient(func(context.Context) (string, error) {
		return baseURL, nil
	}, opts...)
}

// NewForService はサービス名で接続先を解決するクライアントを生成する。
// 呼び出しのたびにselectorでインスタンスを選択するため、
// インスタンスの増減は次の呼び出しから反映される。
func NewForService(selector Selector, serviceName string, opts ...Option) *Client {
	return newClient(func(ctx context.Context) (string, error) {
		inst, err := selector.Select(ctx, serviceName)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnavailable, serviceName, err)
		}
		return "http://" + inst.Addr(), nil
	}, opts...)
}

func newClient(resolve func(ctx context.Context) (string, error), opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		resolve: resolve,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.Call(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.Call(ctx, http.MethodGet, path, nil, result)
}

// Call は接続先を解決し、JSON形式のHTTPリクエストを実行する。
// payloadがnilの場合はボディを送信しない。resultがnilの場合、
// またはレスポンスボディが空の場合はデシリアライズしない。
func (c *Client) Call(ctx context.Context, method, path string, payload any, result any) error {
	baseURL, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// コンテキストから認証済みユーザー情報を伝播する
	if id, ok := identityFrom(ctx); ok {
		req.Header.Set(middleware.HeaderUserID, id.userID)
		if id.role != "" {
			req.Header.Set(middleware.HeaderUserRole, id.role)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 読み込みに失敗しても、ステータスコードと読めた範囲の本文を返す
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return &RemoteError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err)
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// IsStatus はerrが指定ステータスのRemoteErrorかを返す。
func IsStatus(err error, status int) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.StatusCode == status
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyIdentity はコンテキストに認証済みユーザー情報を格納するためのキー。
const contextKeyIdentity contextKey = "identity"

type identity struct {
	userID string
	role   string
}

// WithIdentity はコンテキストに認証済みユーザーIDとロールを設定する。
// サービス間通信時にX-USER-ID / X-USER-ROLEとして伝播される。
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity{userID: userID, role: role})
}

// WithUserID はコンテキストにユーザーIDのみを設定する。
func WithUserID(ctx context.Context, userID string) context.Context {
	return WithIdentity(ctx, userID, "")
}

func identityFrom(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(identity)
	return id, ok
}

