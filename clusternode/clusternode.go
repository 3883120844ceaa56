// Package clusternode implements the Node component: all services
// hosted on one remote node, keyed by (service-type, optional
// bucket), with idempotent add/remove of services as the topology
// reconciler converges to a new configuration.
package clusternode

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/request"
	"github.com/couchbase/gocbclientcore/svc"
	"github.com/couchbase/gocbclientcore/transport"
)

// Identifier is a node's stable identity: (host, manager-port).
// Identity equality uses exactly this tuple; service ports may change
// without the node's identity changing.
type Identifier struct {
	Host        string
	ManagerPort int
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s:%d", id.Host, id.ManagerPort)
}

// serviceKey is the map key a Node uses to locate one Service:
// bucket-scoped service-types (key-value) are keyed with a non-empty
// bucket; cluster-scoped ones (manager, query, search, analytics,
// views) always use an empty bucket.
type serviceKey struct {
	svcType request.ServiceType
	bucket  string
}

// ServiceReplaced is published when AddService finds an existing
// service of the same type at a different port and replaces it
// (disconnect old, create new) rather than keeping the old one.
type ServiceReplaced struct {
	Node     Identifier
	SvcType  request.ServiceType
	OldPort  int
	NewPort  int
}

func (ServiceReplaced) EventName() string { return "NodeServiceReplaced" }

// Node owns every Service this client currently maintains against one
// remote node.
type Node struct {
	id     Identifier
	dialer transport.Dialer
	bus    *eventbus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	services map[serviceKey]*svc.Service
}

// New creates an empty Node. It owns no services until AddService is
// called.
func New(id Identifier, dialer transport.Dialer, bus *eventbus.Bus, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Node{
		id:       id,
		dialer:   dialer,
		bus:      bus,
		logger:   logger,
		services: make(map[serviceKey]*svc.Service),
	}
}

// Identifier returns this node's stable identity.
func (n *Node) Identifier() Identifier { return n.id }

// AddService is idempotent: a no-op if a service of this type (and
// bucket, if bucket-scoped) already exists at the given port.
// If one exists at a *different* port, the old service is disconnected
// and a new one created at the new port, publishing ServiceReplaced —
// the resolved behavior for the ensureServiceAt port-mismatch open
// question (replace, rather than silently keeping the stale port).
// A newly created service has cfg.MinEndpoints endpoints created and
// their connects started before AddService returns; it does not wait
// for those connects to complete.
func (n *Node) AddService(ctx context.Context, svcType request.ServiceType, port int, bucket string, cfg svc.Config) *svc.Service {
	key := serviceKey{svcType: svcType, bucket: bucket}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.services[key]; ok {
		if existing.Port() == port {
			return existing
		}
		n.logger.Debug("replacing service at mismatched port",
			zap.String("node", n.id.String()),
			zap.Int("old_port", existing.Port()),
			zap.Int("new_port", port))
		existing.Disconnect()
		n.bus.Publish(ServiceReplaced{Node: n.id, SvcType: svcType, OldPort: existing.Port(), NewPort: port})
	}

	cfg.EndpointConfig.Host = n.id.Host
	cfg.EndpointConfig.Port = port
	s := svc.New(cfg, n.dialer, n.bus, n.logger)
	s.Connect(ctx)
	n.services[key] = s
	return s
}

// RemoveService disconnects and drops the service for (svcType,
// bucket), if present. It is a no-op if no such service exists.
func (n *Node) RemoveService(svcType request.ServiceType, bucket string) {
	key := serviceKey{svcType: svcType, bucket: bucket}

	n.mu.Lock()
	s, ok := n.services[key]
	if ok {
		delete(n.services, key)
	}
	n.mu.Unlock()

	if ok {
		s.Disconnect()
	}
}

// Service returns the service for (svcType, bucket), if any.
func (n *Node) Service(svcType request.ServiceType, bucket string) (*svc.Service, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.services[serviceKey{svcType: svcType, bucket: bucket}]
	return s, ok
}

// ServiceEnabled reports whether this node currently has any service
// of svcType, under any bucket scope.
func (n *Node) ServiceEnabled(svcType request.ServiceType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key := range n.services {
		if key.svcType == svcType {
			return true
		}
	}
	return false
}

// HasServicesEnabled reports whether this node has any service at
// all. A node with none is a removal candidate.
func (n *Node) HasServicesEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.services) > 0
}

// Disconnect shuts down every service this node owns.
func (n *Node) Disconnect() {
	n.mu.Lock()
	services := make([]*svc.Service, 0, len(n.services))
	for _, s := range n.services {
		services = append(services, s)
	}
	n.services = make(map[serviceKey]*svc.Service)
	n.mu.Unlock()

	for _, s := range services {
		s.Disconnect()
	}
}
