package locator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/breaker"
	"github.com/couchbase/gocbclientcore/cbconfig"
	"github.com/couchbase/gocbclientcore/clusternode"
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

type fakeNodeSet struct {
	nodes map[clusternode.Identifier]*clusternode.Node
}

func newFakeNodeSet() *fakeNodeSet {
	return &fakeNodeSet{nodes: make(map[clusternode.Identifier]*clusternode.Node)}
}

func (s *fakeNodeSet) add(id clusternode.Identifier) *clusternode.Node {
	n := clusternode.New(id, fakeDialer{}, eventbus.New(), nil)
	s.nodes[id] = n
	return n
}

func (s *fakeNodeSet) NodeByIdentifier(id clusternode.Identifier) (*clusternode.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

func (s *fakeNodeSet) Nodes() []*clusternode.Node {
	out := make([]*clusternode.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
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

const partitionedConfigJSON = `{
	"rev": 1,
	"bucketCapabilities": ["couchapi"],
	"vBucketServerMap": {
		"serverList": ["10.0.0.1:11210"],
		"vBucketMap": [[0],[0],[0],[0]]
	},
	"nodesExt": [
		{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}}
	]
}`

func TestKeyValueLocatorDispatchesToPartitionMaster(t *testing.T) {
	cfg, err := cbconfig.Parse([]byte(partitionedConfigJSON), "", false, nil)
	require.NoError(t, err)

	ns := newFakeNodeSet()
	id := clusternode.Identifier{Host: "10.0.0.1", ManagerPort: 8091}
	n := ns.add(id)
	n.AddService(context.Background(), request.ServiceTypeKeyValue, 11210, "default", baseServiceConfig())

	req := request.NewKeyValueBase(context.Background(), "r1", "default", []byte("doc-1"), 0)

	var locator KeyValueLocator
	require.Eventually(t, func() bool {
		return locator.Dispatch(context.Background(), req, []byte("payload"), ns, cfg, nil) == nil
	}, time.Second, time.Millisecond)
}

func TestKeyValueLocatorRequiresPartitionedBucket(t *testing.T) {
	cfg := &cbconfig.BucketConfig{}
	ns := newFakeNodeSet()
	req := request.NewKeyValueBase(context.Background(), "r1", "default", []byte("doc-1"), 0)

	var locator KeyValueLocator
	err := locator.Dispatch(context.Background(), req, []byte("x"), ns, cfg, nil)
	require.Error(t, err)
}

func TestManagerLocatorPrefersBootstrapNode(t *testing.T) {
	ns := newFakeNodeSet()
	idA := clusternode.Identifier{Host: "10.0.0.1", ManagerPort: 8091}
	idB := clusternode.Identifier{Host: "10.0.0.2", ManagerPort: 8091}
	nA := ns.add(idA)
	nB := ns.add(idB)
	sA := nA.AddService(context.Background(), request.ServiceTypeManager, 8091, "", baseServiceConfig())
	sB := nB.AddService(context.Background(), request.ServiceTypeManager, 8091, "", baseServiceConfig())

	req := request.NewBase(context.Background(), "r1", request.ServiceTypeManager, "")

	locator := ManagerLocator{BootstrapNode: idB}
	require.Eventually(t, func() bool {
		return locator.Dispatch(context.Background(), req, []byte("x"), ns, nil, nil) == nil
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, sB.EndpointCount())
	require.Equal(t, 0, sA.EndpointCount())
}

func TestRoundRobinLocatorCyclesNodes(t *testing.T) {
	ns := newFakeNodeSet()
	idA := clusternode.Identifier{Host: "10.0.0.1", ManagerPort: 8091}
	idB := clusternode.Identifier{Host: "10.0.0.2", ManagerPort: 8091}
	nA := ns.add(idA)
	nB := ns.add(idB)
	cfg := baseServiceConfig()
	cfg.Pipelined = true
	sA := nA.AddService(context.Background(), request.ServiceTypeQuery, 8093, "", cfg)
	sB := nB.AddService(context.Background(), request.ServiceTypeQuery, 8093, "", cfg)

	locator := &RoundRobinLocator{SvcType: request.ServiceTypeQuery}

	for i := 0; i < 4; i++ {
		req := request.NewBase(context.Background(), "r", request.ServiceTypeQuery, "")
		require.Eventually(t, func() bool {
			return locator.Dispatch(context.Background(), req, []byte("x"), ns, nil, nil) == nil
		}, time.Second, time.Millisecond)
	}
	require.Equal(t, 1, sA.EndpointCount())
	require.Equal(t, 1, sB.EndpointCount())
}

func TestRoundRobinLocatorNoEligibleNode(t *testing.T) {
	ns := newFakeNodeSet()
	req := request.NewBase(context.Background(), "r", request.ServiceTypeSearch, "")
	locator := &RoundRobinLocator{SvcType: request.ServiceTypeSearch}

	err := locator.Dispatch(context.Background(), req, []byte("x"), ns, nil, nil)
	require.Error(t, err)
}
