package corectl

import (
	"context"

	"github.com/couchbase/gocbclientcore/clusternode"
	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/request"
)

var universalServiceTypes = []request.ServiceType{
	request.ServiceTypeKeyValue,
	request.ServiceTypeManager,
	request.ServiceTypeQuery,
	request.ServiceTypeSearch,
	request.ServiceTypeAnalytics,
	request.ServiceTypeViews,
}

// bucketScoped reports whether svcType's Service is keyed per-bucket
// (key-value only: the wire protocol selects a bucket at connection
// time) versus shared across every bucket on a node.
func bucketScoped(svcType request.ServiceType) bool {
	return svcType == request.ServiceTypeKeyValue
}

// scheduleReconfigure enters the CAS-guarded critical section
// described by the reconciler's serialization rule: at most one
// reconcile in flight, concurrent arrivals mark morePending and
// publish ReconfigurationIgnored rather than starving or racing.
func (c *Core) scheduleReconfigure() {
	if !c.reconfiguring.CompareAndSwap(false, true) {
		c.morePending.Store(true)
		c.bus.Publish(ReconfigurationIgnored{})
		return
	}
	go c.runReconfigureLoop()
}

func (c *Core) runReconfigureLoop() {
	for {
		c.reconcileOnce()
		if c.morePending.CompareAndSwap(true, false) {
			continue
		}
		c.reconfiguring.Store(false)
		// An arrival between the check above and clearing reconfiguring
		// only set morePending; take the loop back unless another
		// scheduleReconfigure already has.
		if !c.morePending.Load() || !c.reconfiguring.CompareAndSwap(false, true) {
			return
		}
		c.morePending.Store(false)
	}
}

func (c *Core) reconcileOnce() {
	cfg := c.currentConfig.Load()

	if cfg == nil || cfg.IsEmpty() {
		for _, n := range c.nodes.Nodes() {
			c.nodes.remove(n.Identifier())
			n.Disconnect()
		}
		c.bus.Publish(ReconfigurationCompleted{})
		return
	}

	seen := make(map[clusternode.Identifier]struct{})
	failed := false

	for _, bucketName := range cfg.Buckets() {
		bucketCfg, ok := cfg.Bucket(bucketName)
		if !ok {
			continue
		}

		for _, nd := range bucketCfg.Nodes {
			id := clusternode.Identifier{Host: nd.Host, ManagerPort: nd.ManagerPort}
			seen[id] = struct{}{}

			ports := make(map[request.ServiceType]int)
			for _, svcType := range nd.Services() {
				if port, ok := nd.Port(svcType, c.tlsEnabled); ok {
					ports[svcType] = port
				}
			}

			for _, svcType := range universalServiceTypes {
				scope := ""
				if bucketScoped(svcType) {
					scope = bucketName
				}

				port, enabled := ports[svcType]
				if !enabled {
					c.removeServiceFrom(id, svcType, scope)
					continue
				}
				if err := c.ensureServiceAt(id, svcType, port, scope); err != nil {
					failed = true
					c.bus.Publish(ServiceReconfigurationFailed{Node: id.String(), ServiceType: svcType, Cause: err})
				}
			}
		}
	}

	for _, n := range c.nodes.Nodes() {
		id := n.Identifier()
		_, stillPresent := seen[id]
		if !stillPresent || !n.HasServicesEnabled() {
			c.nodes.remove(id)
			n.Disconnect()
		}
	}

	if failed {
		c.bus.Publish(ReconfigurationErrorDetected{})
	} else {
		c.bus.Publish(ReconfigurationCompleted{})
	}
}

// ensureServiceAt finds or creates the node by identifier, then
// delegates to AddService, which is itself idempotent at the same
// port and replaces on a port mismatch (the resolved
// ensureServiceAt open question).
func (c *Core) ensureServiceAt(id clusternode.Identifier, svcType request.ServiceType, port int, bucket string) error {
	if port <= 0 {
		return coreerrors.ErrServiceReconfigurationFailed
	}
	node := c.nodes.getOrCreate(id, func() *clusternode.Node {
		return clusternode.New(id, c.dialer, c.bus, c.logger)
	})
	// Background, not a request or reconcile-pass context: the pool's
	// endpoints outlive this reconcile pass and are torn down only by
	// an explicit Disconnect, never by context cancellation.
	node.AddService(context.Background(), svcType, port, bucket, c.serviceConfigFor(svcType))
	return nil
}

// removeServiceFrom is a no-op if the node isn't currently managed;
// RemoveService itself is a no-op if the service wasn't present.
func (c *Core) removeServiceFrom(id clusternode.Identifier, svcType request.ServiceType, bucket string) {
	node, ok := c.nodes.NodeByIdentifier(id)
	if !ok {
		return
	}
	node.RemoveService(svcType, bucket)
}
