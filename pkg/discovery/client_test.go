package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	registryapi "github.com/nao1215/msagate/internal/registry"
	"github.com/nao1215/msagate/pkg/balancer"
	"github.com/nao1215/msagate/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupRegistry はレジストリAPIを提供するテストサーバーを起動する。
func setupRegistry(t *testing.T) (*registry.Registry, *clock.Mock, *Client) {
	t.Helper()

	mock := clock.NewMock()
	reg, err := registry.New(registry.DefaultConfig(), registry.WithClock(mock))
	if err != nil {
		t.Fatalf("registry.New()でエラーが発生: %v", err)
	}
	ts := httptest.NewServer(registryapi.NewServer(reg, prometheus.NewRegistry()).Handler())
	t.Cleanup(ts.Close)

	return reg, mock, NewClient(ts.URL)
}

// TestClient はレジストリAPIクライアントを検証する。
func TestClient(t *testing.T) {
	t.Parallel()

	t.Run("登録したインスタンスが一覧に含まれること", func(t *testing.T) {
		t.Parallel()

		_, _, client := setupRegistry(t)
		ctx := context.Background()

		id, err := client.Register(ctx, registry.Instance{
			ServiceName: "member-service",
			InstanceID:  "m1",
			Host:        "10.0.0.1",
			Port:        8081,
			Metadata:    map[string]string{"version": "1"},
		})
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		if id != "m1" {
			t.Errorf("id = %q, want %q", id, "m1")
		}

		instances, err := client.ListHealthy(ctx, "member-service")
		if err != nil {
			t.Fatalf("ListHealthy()でエラーが発生: %v", err)
		}
		if len(instances) != 1 {
			t.Fatalf("len(instances) = %d, want 1", len(instances))
		}
		if instances[0].Addr() != "10.0.0.1:8081" || instances[0].Metadata["version"] != "1" {
			t.Errorf("instance = %+v", instances[0])
		}

		snaps, err := client.Services(ctx)
		if err != nil {
			t.Fatalf("Services()でエラーが発生: %v", err)
		}
		if len(snaps) != 1 || snaps[0].Name != "member-service" {
			t.Errorf("services = %+v", snaps)
		}
	})

	t.Run("不正なインスタンスの登録でErrInvalidInstanceが返ること", func(t *testing.T) {
		t.Parallel()

		_, _, client := setupRegistry(t)

		_, err := client.Register(context.Background(), registry.Instance{
			ServiceName: "member-service",
			Host:        "10.0.0.1",
			Port:        70000,
		})
		if !errors.Is(err, registry.ErrInvalidInstance) {
			t.Errorf("error = %v, want ErrInvalidInstance", err)
		}
	})

	t.Run("DOWNになったインスタンスのハートビートでErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		reg, mock, client := setupRegistry(t)
		ctx := context.Background()
		client.Register(ctx, registry.Instance{ServiceName: "member-service", InstanceID: "m1", Host: "10.0.0.1", Port: 8081})

		if err := client.Heartbeat(ctx, "member-service", "m1"); err != nil {
			t.Fatalf("Heartbeat()でエラーが発生: %v", err)
		}

		// リース切れを検出したスイープでDOWNにする
		reg.Start()
		defer reg.Stop()
		mock.Add(reg.Config().LeaseDuration + reg.Config().SweepInterval)

		deadline := time.Now().Add(time.Second)
		for {
			snaps := reg.Services()
			if len(snaps) == 1 && snaps[0].Instances[0].Status == registry.StatusDown {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("インスタンスがDOWNにならなかった")
			}
			time.Sleep(10 * time.Millisecond)
		}

		if err := client.Heartbeat(ctx, "member-service", "m1"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("未登録インスタンスの登録解除でErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		_, _, client := setupRegistry(t)

		err := client.Deregister(context.Background(), "member-service", "unknown")
		if !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("レジストリに接続できない場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		_, err := NewClient(url).ListHealthy(context.Background(), "member-service")
		if err == nil {
			t.Fatal("ListHealthy()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestClient_AsLister はリモートレジストリを使ったインスタンス選択を検証する。
func TestClient_AsLister(t *testing.T) {
	t.Parallel()

	_, _, client := setupRegistry(t)
	ctx := context.Background()
	client.Register(ctx, registry.Instance{ServiceName: "board-service", InstanceID: "b1", Host: "10.0.0.1", Port: 8082})
	client.Register(ctx, registry.Instance{ServiceName: "board-service", InstanceID: "b2", Host: "10.0.0.2", Port: 8082})

	rr := balancer.NewRoundRobin(client)
	var got []string
	for range 4 {
		inst, err := rr.Select(ctx, "board-service")
		if err != nil {
			t.Fatalf("Select()でエラーが発生: %v", err)
		}
		got = append(got, inst.InstanceID)
	}

	want := []string{"b1", "b2", "b1", "b2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("選択順 = %v, want %v", got, want)
		}
	}
}

// TestAgent_WithLocal はプロセス内レジストリに対するAgentの動作を検証する。
func TestAgent_WithLocal(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("registry.New()でエラーが発生: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	agent := NewAgent(Local{Registry: reg}, registry.Instance{
		ServiceName: "member-service",
		InstanceID:  "m1",
		Host:        "127.0.0.1",
		Port:        8081,
	}, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- agent.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		healthy, _ := reg.ListHealthy(ctx, "member-service")
		if len(healthy) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Agentがインスタンスを登録しなかった")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run()でエラーが発生: %v", err)
	}
	healthy, _ := reg.ListHealthy(context.Background(), "member-service")
	if len(healthy) != 0 {
		t.Errorf("停止後も登録が残っている: %+v", healthy)
	}
}

// TestLocal_Services は内蔵レジストリとレジストリAPI経由で同じ登録状況が得られることを検証する。
func TestLocal_Services(t *testing.T) {
	t.Parallel()

	reg, mock, client := setupRegistry(t)
	local := Local{Registry: reg}
	ctx := context.Background()

	for _, id := range []string{"b2", "b1"} {
		if _, err := local.Register(ctx, registry.Instance{
			ServiceName: "board-service",
			InstanceID:  id,
			Host:        "10.0.0.2",
			Port:        8082,
		}); err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
	}
	// b1のみリース切れにする
	mock.Add(registry.DefaultConfig().LeaseDuration - time.Second)
	if err := local.Heartbeat(ctx, "board-service", "b2"); err != nil {
		t.Fatalf("Heartbeat()でエラーが発生: %v", err)
	}
	mock.Add(2 * time.Second)

	fromLocal, err := local.Services(ctx)
	if err != nil {
		t.Fatalf("Local.Services()でエラーが発生: %v", err)
	}
	fromAPI, err := client.Services(ctx)
	if err != nil {
		t.Fatalf("Client.Services()でエラーが発生: %v", err)
	}

	for name, snaps := range map[string][]registry.ServiceSnapshot{"local": fromLocal, "api": fromAPI} {
		if len(snaps) != 1 {
			t.Fatalf("%s: len(snaps) = %d, want 1", name, len(snaps))
		}
		snap := snaps[0]
		if snap.Name != "board-service" || snap.Healthy != 1 || len(snap.Instances) != 2 {
			t.Errorf("%s: snap = %+v, want board-service healthy=1 instances=2", name, snap)
			continue
		}
		if snap.Instances[0].InstanceID != "b1" || snap.Instances[1].InstanceID != "b2" {
			t.Errorf("%s: インスタンス順序 = %s,%s, want b1,b2", name, snap.Instances[0].InstanceID, snap.Instances[1].InstanceID)
		}
	}
}
