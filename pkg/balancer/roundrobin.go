// Package balancer はレジストリから健全なインスタンスを1つ選択するロードバランサを提供する。
package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/msagate/pkg/registry"
)

// ErrUnavailable は選択可能な健全インスタンスが存在しないことを表す。
// 時間をおいて再試行すれば成功する可能性がある。
var ErrUnavailable = errors.New("利用可能なインスタンスがありません")

// Lister は健全なインスタンス一覧の取得元。
// プロセス内のregistry.Registryとリモートのdiscovery.Clientの両方が満たす。
type Lister interface {
	ListHealthy(ctx context.Context, serviceName string) ([]registry.Instance, error)
}

// RoundRobin はサービス名ごとのローテーション位置を持つラウンドロビン選択器。
type RoundRobin struct {
	lister Lister

	mu   sync.Mutex
	next map[string]int
}

// NewRoundRobin は新しいRoundRobinを生成する。
func NewRoundRobin(lister Lister) *RoundRobin {
	return &RoundRobin{
		lister: lister,
		next:   make(map[string]int),
	}
}

// Select はserviceNameの健全なインスタンスを1つ選択する。
// 同じサービスに対する連続した呼び出しは、全インスタンスを一巡するまで同じものを返さない。
// 前回位置がインスタンス数の減少で範囲外になった場合は先頭に戻る。
func (rr *RoundRobin) Select(ctx context.Context, serviceName string) (registry.Instance, error) {
	instances, err := rr.lister.ListHealthy(ctx, serviceName)
	if err != nil {
		return registry.Instance{}, fmt.Errorf("%w: service=%s: %v", ErrUnavailable, serviceName, err)
	}
	if len(instances) == 0 {
		return registry.Instance{}, fmt.Errorf("%w: service=%s", ErrUnavailable, serviceName)
	}

	rr.mu.Lock()
	idx := rr.next[serviceName]
	if idx >= len(instances) {
		idx = 0
	}
	rr.next[serviceName] = idx + 1
	rr.mu.Unlock()

	return instances[idx], nil
}
