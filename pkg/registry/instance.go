package registry

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Status はインスタンスの稼働状態。
type Status string

const (
	// StatusUp はハートビートを受信しておりルーティング対象となる状態。
	StatusUp Status = "UP"
	// StatusDown はリース切れをスイープが検出し、削除待ちとなっている状態。
	StatusDown Status = "DOWN"
)

var (
	// ErrNotFound は指定したインスタンスが登録されていないことを表す。
	// ハートビートでこのエラーを受け取った場合、呼び出し側は再登録する必要がある。
	ErrNotFound = errors.New("インスタンスが登録されていません")
	// ErrInvalidInstance は登録内容が不正であることを表す。
	ErrInvalidInstance = errors.New("インスタンス情報が不正です")
)

// Instance はサービスの1インスタンスを表す。
// 同じServiceNameに対して複数のインスタンスが登録される。
type Instance struct {
	// ServiceName は論理サービス名（例: "member-service"）。
	ServiceName string `json:"service_name"`
	// InstanceID はサービス内で一意なインスタンスID。
	InstanceID string `json:"instance_id"`
	// Host は転送先ホスト名またはIPアドレス。
	Host string `json:"host"`
	// Port は転送先ポート番号。
	Port int `json:"port"`
	// Status は稼働状態。
	Status Status `json:"status"`
	// LastHeartbeatAt は最後に登録またはハートビートを受け付けた時刻。
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	// Metadata はインスタンス固有の任意情報（ゾーン、バージョン等）。
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Addr は "host:port" 形式のアドレスを返す。
func (i Instance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// LeaseExpiresAt はリースの失効時刻を返す。
func (i Instance) LeaseExpiresAt(leaseDuration time.Duration) time.Time {
	return i.LastHeartbeatAt.Add(leaseDuration)
}

// validate は登録に必要な項目が揃っているかを検証する。
func (i Instance) validate() error {
	if i.ServiceName == "" {
		return fmt.Errorf("%w: サービス名が空です", ErrInvalidInstance)
	}
	if i.Host == "" {
		return fmt.Errorf("%w: ホストが空です", ErrInvalidInstance)
	}
	if i.Port < 1 || i.Port > 65535 {
		return fmt.Errorf("%w: ポート番号が範囲外です: %d", ErrInvalidInstance, i.Port)
	}
	return nil
}

// clone はMetadataを含めてインスタンスを複製する。
// 呼び出し元に返した値からレジストリ内部の状態が変更されないようにする。
func (i Instance) clone() Instance {
	if i.Metadata != nil {
		md := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			md[k] = v
		}
		i.Metadata = md
	}
	return i
}

// ServiceSnapshot はある時点における1サービス分の登録状況。
type ServiceSnapshot struct {
	// Name はサービス名。
	Name string `json:"name"`
	// Instances はDOWNを含む全インスタンス。インスタンスID順。
	Instances []Instance `json:"instances"`
	// Healthy は読み出し時点でリースが有効なインスタンス数。
	Healthy int `json:"healthy"`
}
