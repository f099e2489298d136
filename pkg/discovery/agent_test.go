package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nao1215/msagate/pkg/registry"
)

// fakeRegistrar は呼び出しを記録するテスト用のRegistrar。
type fakeRegistrar struct {
	mu            sync.Mutex
	calls         chan string
	registerErrs  []error
	heartbeatErrs []error
	lastID        string
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{calls: make(chan string, 32)}
}

func (f *fakeRegistrar) Register(_ context.Context, inst registry.Instance) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.calls <- "register" }()

	if len(f.registerErrs) > 0 {
		err := f.registerErrs[0]
		f.registerErrs = f.registerErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if inst.InstanceID == "" {
		inst.InstanceID = "generated-id"
	}
	return inst.InstanceID, nil
}

func (f *fakeRegistrar) Heartbeat(_ context.Context, _, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.calls <- "heartbeat" }()

	f.lastID = instanceID
	if len(f.heartbeatErrs) > 0 {
		err := f.heartbeatErrs[0]
		f.heartbeatErrs = f.heartbeatErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRegistrar) Deregister(_ context.Context, _, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.calls <- "deregister" }()

	f.lastID = instanceID
	return nil
}

// expectCall は次の呼び出しがwantであることを検証する。
func expectCall(t *testing.T, calls <-chan string, want string) {
	t.Helper()

	select {
	case got := <-calls:
		if got != want {
			t.Fatalf("呼び出し = %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("%q が呼ばれなかった", want)
	}
}

// startAgent はモッククロックでAgentを起動し、停止用の関数を返す。
func startAgent(t *testing.T, f *fakeRegistrar, mock *clock.Mock) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	agent := NewAgent(f, registry.Instance{
		ServiceName: "board-service",
		Host:        "10.0.0.5",
		Port:        8082,
	}, 30*time.Second, WithAgentClock(mock))

	done := make(chan error, 1)
	go func() {
		done <- agent.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run()でエラーが発生: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Run()が停止しなかった")
		}
	}
}

// TestAgent_Run はAgentの登録・ハートビート・登録解除を検証する。
func TestAgent_Run(t *testing.T) {
	t.Parallel()

	t.Run("登録後に間隔ごとにハートビートを送り停止時に登録解除すること", func(t *testing.T) {
		t.Parallel()

		f := newFakeRegistrar()
		mock := clock.NewMock()
		stop := startAgent(t, f, mock)

		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")

		stop()
		expectCall(t, f.calls, "deregister")

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.lastID != "generated-id" {
			t.Errorf("採番されたIDが使われていない: %q", f.lastID)
		}
	})

	t.Run("ハートビートで未登録と判定された場合に再登録すること", func(t *testing.T) {
		t.Parallel()

		f := newFakeRegistrar()
		f.heartbeatErrs = []error{registry.ErrNotFound}
		mock := clock.NewMock()
		stop := startAgent(t, f, mock)
		defer stop()

		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
	})

	t.Run("ハートビートの一時的な失敗では再登録しないこと", func(t *testing.T) {
		t.Parallel()

		f := newFakeRegistrar()
		f.heartbeatErrs = []error{errors.New("connection refused")}
		mock := clock.NewMock()
		stop := startAgent(t, f, mock)
		defer stop()

		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
	})

	t.Run("登録に失敗した場合は次の間隔で再試行すること", func(t *testing.T) {
		t.Parallel()

		f := newFakeRegistrar()
		f.registerErrs = []error{errors.New("registry unavailable")}
		mock := clock.NewMock()
		stop := startAgent(t, f, mock)
		defer stop()

		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "register")
		mock.Add(30 * time.Second)
		expectCall(t, f.calls, "heartbeat")
	})

	t.Run("一度も登録できないまま停止した場合は登録解除しないこと", func(t *testing.T) {
		t.Parallel()

		f := newFakeRegistrar()
		f.registerErrs = []error{errors.New("registry unavailable")}
		mock := clock.NewMock()
		stop := startAgent(t, f, mock)

		expectCall(t, f.calls, "register")
		stop()

		select {
		case got := <-f.calls:
			t.Errorf("停止後に %q が呼ばれた", got)
		default:
		}
	})
}
