package clusternode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/breaker"
	"github.com/couchbase/gocbclientcore/endpoint"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/request"
	"github.com/couchbase/gocbclientcore/svc"
	"github.com/couchbase/gocbclientcore/transport"
)

type fakeTransport struct{ active bool }

func (f *fakeTransport) Write(b []byte) error { return nil }
func (f *fakeTransport) Flush() error         { return nil }
func (f *fakeTransport) IsWritable() bool     { return f.active }
func (f *fakeTransport) IsActive() bool       { return f.active }
func (f *fakeTransport) LocalAddr() net.Addr  { return nil }
func (f *fakeTransport) Disconnect() error    { f.active = false; return nil }

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, host string, port int, opts transport.DialOptions) (transport.Transport, error) {
	return &fakeTransport{active: true}, nil
}

func baseServiceConfig() svc.Config {
	return svc.Config{
		MaxEndpoints: 1,
		EndpointConfig: endpoint.Config{
			ConnectTimeout: time.Second,
			Breaker:        breaker.Config{Enabled: false},
		},
	}
}

func TestAddServiceIsIdempotentAtSamePort(t *testing.T) {
	n := New(Identifier{Host: "10.0.0.1", ManagerPort: 8091}, fakeDialer{}, eventbus.New(), nil)

	s1 := n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", baseServiceConfig())
	s2 := n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", baseServiceConfig())

	require.Same(t, s1, s2)
	require.True(t, n.ServiceEnabled(request.ServiceTypeKeyValue))
}

func TestAddServiceReplacesOnPortMismatch(t *testing.T) {
	bus := eventbus.New()
	ch, cancelSub := bus.Subscribe()
	defer cancelSub()

	n := New(Identifier{Host: "10.0.0.1", ManagerPort: 8091}, fakeDialer{}, bus, nil)

	s1 := n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", baseServiceConfig())
	s2 := n.AddService(context.Background(), request.ServiceTypeKeyValue, 11211, "default", baseServiceConfig())

	require.NotSame(t, s1, s2)
	require.Equal(t, 11211, s2.Port())

	select {
	case ev := <-ch:
		replaced, ok := ev.(ServiceReplaced)
		require.True(t, ok)
		require.Equal(t, 11210, replaced.OldPort)
		require.Equal(t, 11211, replaced.NewPort)
	case <-time.After(time.Second):
		t.Fatalf("expected a ServiceReplaced event")
	}
}

func TestRemoveServiceDisconnectsAndForgets(t *testing.T) {
	n := New(Identifier{Host: "10.0.0.1", ManagerPort: 8091}, fakeDialer{}, eventbus.New(), nil)
	n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", baseServiceConfig())

	n.RemoveService(request.ServiceTypeKeyValue, "default")

	require.False(t, n.ServiceEnabled(request.ServiceTypeKeyValue))
	require.False(t, n.HasServicesEnabled())
}

func TestAddServiceWarmsPoolToMinEndpoints(t *testing.T) {
	n := New(Identifier{Host: "10.0.0.1", ManagerPort: 8091}, fakeDialer{}, eventbus.New(), nil)

	cfg := baseServiceConfig()
	cfg.MinEndpoints = 2
	cfg.MaxEndpoints = 2

	s := n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", cfg)

	require.Eventually(t, func() bool {
		return s.EndpointCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHasServicesEnabledReflectsPoolState(t *testing.T) {
	n := New(Identifier{Host: "10.0.0.1", ManagerPort: 8091}, fakeDialer{}, eventbus.New(), nil)
	require.False(t, n.HasServicesEnabled())

	n.AddService(context.Background(), request.ServiceTypeManager, 8091, "", baseServiceConfig())
	require.True(t, n.HasServicesEnabled())

	n.Disconnect()
	require.False(t, n.HasServicesEnabled())
}
