package discovery

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nao1215/msagate/pkg/registry"
)

// deregisterTimeout は停止時の登録解除に使う時間の上限。
const deregisterTimeout = 5 * time.Second

// Registrar はインスタンスの登録・ハートビート・登録解除を行う。
// Clientと、プロセス内のレジストリをラップしたLocalが実装する。
type Registrar interface {
	Register(ctx context.Context, inst registry.Instance) (string, error)
	Heartbeat(ctx context.Context, serviceName, instanceID string) error
	Deregister(ctx context.Context, serviceName, instanceID string) error
}

// Agent は自インスタンスをレジストリに登録し、ハートビートを送り続ける。
type Agent struct {
	registrar Registrar
	inst      registry.Instance
	interval  time.Duration
	clock     clock.Clock
}

// AgentOption はAgentの設定を変更する。
type AgentOption func(*Agent)

// WithAgentClock はAgentが使う時計を差し替える。テストで使用する。
func WithAgentClock(c clock.Clock) AgentOption {
	return func(a *Agent) {
		a.clock = c
	}
}

// NewAgent は新しいAgentを生成する。intervalはハートビートの送信間隔。
func NewAgent(registrar Registrar, inst registry.Instance, interval time.Duration, opts ...AgentOption) *Agent {
	a := &Agent{
		registrar: registrar,
		inst:      inst,
		interval:  interval,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run は登録とハートビートをctxがキャンセルされるまで繰り返す。
// 登録に失敗した場合は次の間隔で再試行し、ハートビートで未登録と判定された場合は再登録する。
// 停止時は登録を解除する。
func (a *Agent) Run(ctx context.Context) error {
	ticker := a.clock.Ticker(a.interval)
	defer ticker.Stop()

	registered := a.register(ctx)
	for {
		select {
		case <-ctx.Done():
			if registered {
				a.deregister()
			}
			return nil
		case <-ticker.C:
			if !registered {
				registered = a.register(ctx)
				continue
			}
			err := a.registrar.Heartbeat(ctx, a.inst.ServiceName, a.inst.InstanceID)
			switch {
			case err == nil:
			case errors.Is(err, registry.ErrNotFound):
				log.Printf("[Discovery] %s/%s が未登録のため再登録します", a.inst.ServiceName, a.inst.InstanceID)
				registered = a.register(ctx)
			default:
				log.Printf("[Discovery] ハートビートの送信に失敗: %v", err)
			}
		}
	}
}

// register はインスタンスを登録し、成功した場合にtrueを返す。
// インスタンスIDはレジストリが確定した値で置き換える。
func (a *Agent) register(ctx context.Context) bool {
	id, err := a.registrar.Register(ctx, a.inst)
	if err != nil {
		log.Printf("[Discovery] %s の登録に失敗: %v", a.inst.ServiceName, err)
		return false
	}
	a.inst.InstanceID = id
	log.Printf("[Discovery] %s/%s を登録しました: %s", a.inst.ServiceName, id, a.inst.Addr())
	return true
}

func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	if err := a.registrar.Deregister(ctx, a.inst.ServiceName, a.inst.InstanceID); err != nil {
		log.Printf("[Discovery] %s/%s の登録解除に失敗: %v", a.inst.ServiceName, a.inst.InstanceID, err)
		return
	}
	log.Printf("[Discovery] %s/%s の登録を解除しました", a.inst.ServiceName, a.inst.InstanceID)
}
