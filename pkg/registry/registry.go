// Package registry はハートビートによるリースでサービスインスタンスを管理する
// インメモリのサービスレジストリを提供する。
//
// 全ての操作はメモリ上の状態遷移のみで完結し、ネットワークI/Oでブロックしない。
// インスタンスの健全性は読み出し時にリース期限で判定するため、
// スイープがまだ実行されていなくても期限切れのインスタンスが返ることはない。
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nao1215/msagate/pkg/metrics"
)

// Config はレジストリのリースとスイープの設定。
type Config struct {
	// LeaseDuration は最後のハートビートからリースが失効するまでの時間。
	LeaseDuration time.Duration
	// HeartbeatInterval はインスタンスが送信するハートビートの想定間隔。
	HeartbeatInterval time.Duration
	// SweepInterval はバックグラウンドスイープの実行間隔。
	SweepInterval time.Duration
	// EvictionGrace はDOWNにマークしてから削除するまでの猶予。
	EvictionGrace time.Duration
}

// minMissedHeartbeats はリース失効までに取りこぼしを許容するハートビート回数。
const minMissedHeartbeats = 2

// DefaultConfig はハートビート30秒・リース90秒の標準設定を返す。
func DefaultConfig() Config {
	return Config{
		LeaseDuration:     90 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		SweepInterval:     15 * time.Second,
		EvictionGrace:     30 * time.Second,
	}
}

// Validate は設定値の整合性を検証する。
// 1回のハートビート欠落で失効しないよう、リースはハートビート間隔の2倍以上を要求する。
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("ハートビート間隔は正の値である必要があります")
	}
	if c.LeaseDuration < minMissedHeartbeats*c.HeartbeatInterval {
		return fmt.Errorf("リース期間(%s)はハートビート間隔(%s)の%d倍以上である必要があります",
			c.LeaseDuration, c.HeartbeatInterval, minMissedHeartbeats)
	}
	if c.SweepInterval <= 0 {
		return errors.New("スイープ間隔は正の値である必要があります")
	}
	if c.EvictionGrace < 0 {
		return errors.New("削除猶予は0以上である必要があります")
	}
	return nil
}

// Option はRegistryの生成オプション。
type Option func(*Registry)

// WithClock は時刻の取得元を差し替える。テストでclock.Mockを注入するために使う。
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// entry はレジストリ内部で保持するインスタンスの記録。
type entry struct {
	inst Instance
	// downSince はDOWNにマークされた時刻。UPの間はゼロ値。
	downSince time.Time
}

// Registry はサービス名ごとにインスタンスを保持するメンバーシップテーブル。
// Startでスイープを開始し、Stopで停止する。
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]*entry

	cfg   Config
	clock clock.Clock

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New は新しいRegistryを生成する。スイープはStartを呼ぶまで動かない。
func New(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("レジストリ設定が不正です: %w", err)
	}
	r := &Registry{
		services: make(map[string]map[string]*entry),
		cfg:      cfg,
		clock:    clock.New(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config はレジストリの設定を返す。
func (r *Registry) Config() Config {
	return r.cfg
}

// Register はインスタンスを登録し、インスタンスIDを返す。
// 同じ(ServiceName, InstanceID)の登録は置き換えとなり、何度呼んでも結果は同じ。
// InstanceIDが空の場合は新しいIDを採番する。
func (r *Registry) Register(inst Instance) (string, error) {
	if err := inst.validate(); err != nil {
		return "", err
	}
	if inst.InstanceID == "" {
		inst.InstanceID = uuid.New().String()
	}
	inst = inst.clone()
	inst.Status = StatusUp
	inst.LastHeartbeatAt = r.clock.Now()

	r.mu.Lock()
	instances, ok := r.services[inst.ServiceName]
	if !ok {
		instances = make(map[string]*entry)
		r.services[inst.ServiceName] = instances
	}
	instances[inst.InstanceID] = &entry{inst: inst}
	r.mu.Unlock()

	metrics.RegistryRegistrations.WithLabelValues(inst.ServiceName).Inc()
	log.Printf("[Registry] インスタンスを登録しました: service=%s, id=%s, addr=%s",
		inst.ServiceName, inst.InstanceID, inst.Addr())
	return inst.InstanceID, nil
}

// Heartbeat はインスタンスのリースを更新する。
// 未登録、またはスイープによりDOWNとなったインスタンスにはErrNotFoundを返す。
func (r *Registry) Heartbeat(serviceName, instanceID string) error {
	now := r.clock.Now()

	r.mu.Lock()
	e := r.lookup(serviceName, instanceID)
	if e == nil || e.inst.Status != StatusUp {
		r.mu.Unlock()
		metrics.RegistryHeartbeats.WithLabelValues(serviceName, "not_found").Inc()
		return fmt.Errorf("%w: service=%s, id=%s", ErrNotFound, serviceName, instanceID)
	}
	if now.After(e.inst.LastHeartbeatAt) {
		e.inst.LastHeartbeatAt = now
	}
	r.mu.Unlock()

	metrics.RegistryHeartbeats.WithLabelValues(serviceName, "ok").Inc()
	return nil
}

// Deregister はインスタンスを即時に削除する。
func (r *Registry) Deregister(serviceName, instanceID string) error {
	r.mu.Lock()
	if r.lookup(serviceName, instanceID) == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: service=%s, id=%s", ErrNotFound, serviceName, instanceID)
	}
	r.remove(serviceName, instanceID)
	r.mu.Unlock()

	log.Printf("[Registry] インスタンスを登録解除しました: service=%s, id=%s", serviceName, instanceID)
	return nil
}

// ListHealthy は読み出し時点でリースが有効なインスタンスをインスタンスID順に返す。
// 該当がない場合は空スライスを返し、エラーにはしない。
// ctxはリモートのレジストリと同じインターフェースを満たすために受け取る。
func (r *Registry) ListHealthy(_ context.Context, serviceName string) ([]Instance, error) {
	now := r.clock.Now()

	r.mu.RLock()
	instances := r.services[serviceName]
	healthy := make([]Instance, 0, len(instances))
	for _, e := range instances {
		if r.isHealthy(e, now) {
			healthy = append(healthy, e.inst.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(healthy, func(i, j int) bool {
		return healthy[i].InstanceID < healthy[j].InstanceID
	})
	return healthy, nil
}

// Services は全サービスの登録状況をサービス名順に返す。DOWNのインスタンスも含む。
func (r *Registry) Services() []ServiceSnapshot {
	now := r.clock.Now()

	r.mu.RLock()
	snapshots := make([]ServiceSnapshot, 0, len(r.services))
	for name, instances := range r.services {
		snap := ServiceSnapshot{Name: name, Instances: make([]Instance, 0, len(instances))}
		for _, e := range instances {
			snap.Instances = append(snap.Instances, e.inst.clone())
			if r.isHealthy(e, now) {
				snap.Healthy++
			}
		}
		snapshots = append(snapshots, snap)
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	for i := range snapshots {
		insts := snapshots[i].Instances
		sort.Slice(insts, func(a, b int) bool {
			return insts[a].InstanceID < insts[b].InstanceID
		})
	}
	return snapshots
}

// isHealthy はインスタンスがUPかつリース期限内かを判定する。呼び出し側でロックを保持すること。
func (r *Registry) isHealthy(e *entry, now time.Time) bool {
	return e.inst.Status == StatusUp && now.Before(e.inst.LeaseExpiresAt(r.cfg.LeaseDuration))
}

// lookup はインスタンスを検索する。呼び出し側でロックを保持すること。
func (r *Registry) lookup(serviceName, instanceID string) *entry {
	instances, ok := r.services[serviceName]
	if !ok {
		return nil
	}
	return instances[instanceID]
}

// remove はインスタンスを削除し、空になったサービスも取り除く。呼び出し側で書き込みロックを保持すること。
func (r *Registry) remove(serviceName, instanceID string) {
	instances := r.services[serviceName]
	delete(instances, instanceID)
	if len(instances) == 0 {
		delete(r.services, serviceName)
	}
}
