package discovery

import (
	"context"

	"github.com/nao1215/msagate/pkg/registry"
)

// Local はプロセス内のRegistryをRegistrarとして扱うアダプタ。
// レジストリを内蔵したGatewayが、自身の登録と登録状況の参照に使用する。
type Local struct {
	Registry *registry.Registry
}

// Register はインスタンスを登録する。
func (l Local) Register(_ context.Context, inst registry.Instance) (string, error) {
	return l.Registry.Register(inst)
}

// Heartbeat はインスタンスのリースを延長する。
func (l Local) Heartbeat(_ context.Context, serviceName, instanceID string) error {
	return l.Registry.Heartbeat(serviceName, instanceID)
}

// Deregister はインスタンスの登録を解除する。
func (l Local) Deregister(_ context.Context, serviceName, instanceID string) error {
	return l.Registry.Deregister(serviceName, instanceID)
}

// Services は全サービスの登録状況を返す。Clientと同じ形で参照できるようにする。
func (l Local) Services(_ context.Context) ([]registry.ServiceSnapshot, error) {
	return l.Registry.Services(), nil
}
