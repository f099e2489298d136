package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/msagate/pkg/httpclient"
	"github.com/nao1215/msagate/pkg/registry"
)

// Client はレジストリのHTTP APIを呼び出すクライアント。
// ListHealthyを持つため、リモートのレジストリをbalancer.Listerとして使用できる。
type Client struct {
	http *httpclient.Client
}

// NewClient はbaseURLのレジストリに接続するクライアントを生成する。
func NewClient(baseURL string, opts ...httpclient.Option) *Client {
	return &Client{http: httpclient.New(baseURL, opts...)}
}

// registerRequest はインスタンス登録リクエストのJSON構造。
type registerRequest struct {
	InstanceID string            `json:"instance_id,omitempty"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// registerResponse はインスタンス登録レスポンスのJSON構造。
type registerResponse struct {
	InstanceID string `json:"instance_id"`
}

// Register はインスタンスを登録し、レジストリが確定したインスタンスIDを返す。
func (c *Client) Register(ctx context.Context, inst registry.Instance) (string, error) {
	var resp registerResponse
	err := c.http.PostJSON(ctx, instancesPath(inst.ServiceName), registerRequest{
		InstanceID: inst.InstanceID,
		Host:       inst.Host,
		Port:       inst.Port,
		Metadata:   inst.Metadata,
	}, &resp)
	if httpclient.IsStatus(err, http.StatusBadRequest) {
		return "", fmt.Errorf("%w: %w", registry.ErrInvalidInstance, err)
	}
	if err != nil {
		return "", fmt.Errorf("インスタンスの登録に失敗: %w", err)
	}
	return resp.InstanceID, nil
}

// Heartbeat はインスタンスのリースを延長する。
// レジストリが404を返した場合はregistry.ErrNotFoundを返す。
func (c *Client) Heartbeat(ctx context.Context, serviceName, instanceID string) error {
	err := c.http.Call(ctx, http.MethodPut, instancePath(serviceName, instanceID)+"/heartbeat", nil, nil)
	return mapNotFound(err, "ハートビートの送信に失敗")
}

// Deregister はインスタンスの登録を解除する。
func (c *Client) Deregister(ctx context.Context, serviceName, instanceID string) error {
	err := c.http.Call(ctx, http.MethodDelete, instancePath(serviceName, instanceID), nil, nil)
	return mapNotFound(err, "登録解除に失敗")
}

// ListHealthy はserviceNameの健全なインスタンス一覧を返す。
func (c *Client) ListHealthy(ctx context.Context, serviceName string) ([]registry.Instance, error) {
	instances := []registry.Instance{}
	if err := c.http.GetJSON(ctx, instancesPath(serviceName), &instances); err != nil {
		return nil, fmt.Errorf("インスタンス一覧の取得に失敗: %w", err)
	}
	return instances, nil
}

// Services は全サービスの登録状況を返す。
func (c *Client) Services(ctx context.Context) ([]registry.ServiceSnapshot, error) {
	var snaps []registry.ServiceSnapshot
	if err := c.http.GetJSON(ctx, "/api/v1/services", &snaps); err != nil {
		return nil, fmt.Errorf("登録状況の取得に失敗: %w", err)
	}
	return snaps, nil
}

func mapNotFound(err error, msg string) error {
	if err == nil {
		return nil
	}
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return registry.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func instancesPath(serviceName string) string {
	return "/api/v1/services/" + url.PathEscape(serviceName) + "/instances"
}

func instancePath(serviceName, instanceID string) string {
	return instancesPath(serviceName) + "/" + url.PathEscape(instanceID)
}
