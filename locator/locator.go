// Package locator implements the dispatch strategies (C5) that pick
// which managed node/service a request goes to, given the current
// bucket configuration: key-value (partition-hash), manager
// (any-bucket-node, bootstrap-sticky), and round-robin
// (query/search/analytics/views).
package locator

import (
	"context"
	"hash/crc32"
	"sort"
	"sync/atomic"

	"github.com/couchbase/gocbclientcore/cbconfig"
	"github.com/couchbase/gocbclientcore/clusternode"
	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/request"
	"github.com/couchbase/gocbclientcore/retry"
)

// NodeLookup is the subset of the reconciler's managed node set a
// Locator needs: resolving a config's node descriptor to the actual
// managed Node, and enumerating every managed node for round-robin.
type NodeLookup interface {
	NodeByIdentifier(id clusternode.Identifier) (*clusternode.Node, bool)
	Nodes() []*clusternode.Node
}

// Locator picks the node/service/endpoint a request is dispatched to,
// or hands it to the retry orchestrator if none currently qualifies.
type Locator interface {
	Dispatch(ctx context.Context, req request.Request, payload []byte, nodes NodeLookup, cfg *cbconfig.BucketConfig, retrier retry.Orchestrator) error
}

func retryHandoff(ctx context.Context, req request.Request, retrier retry.Orchestrator, cause error) error {
	if retrier != nil {
		retrier.MaybeRetry(ctx, req, cause)
	}
	return cause
}

// KeyValueLocator routes by partition hash: crc32(key) & (P-1) picks
// the partition, the bucket config's partition map picks the master
// (or a specific replica) node index.
type KeyValueLocator struct{}

// Dispatch implements Locator.
func (KeyValueLocator) Dispatch(ctx context.Context, req request.Request, payload []byte, nodes NodeLookup, cfg *cbconfig.BucketConfig, retrier retry.Orchestrator) error {
	kv, ok := req.(request.KeyValueRequest)
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNotBucketScoped)
	}
	if cfg == nil || !cfg.IsPartitioned() {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNotBucketScoped)
	}

	p := int(crc32.ChecksumIEEE(kv.Key())) & (cfg.NumberOfPartitions() - 1)

	var nodeIndex int
	if kv.ReplicaIndex() > 0 {
		nodeIndex = cfg.NodeIndexForReplica(p, kv.ReplicaIndex(), kv.UseFastForward())
	} else {
		nodeIndex = cfg.NodeIndexForMaster(p, kv.UseFastForward())
	}
	if nodeIndex == cbconfig.PartitionNotExistent {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrPartitionNotExistent)
	}

	desc, ok := cfg.NodeAtIndex(nodeIndex)
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}

	node, ok := nodes.NodeByIdentifier(clusternode.Identifier{Host: desc.Host, ManagerPort: desc.ManagerPort})
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}

	service, ok := node.Service(request.ServiceTypeKeyValue, req.BucketName())
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}

	if err := service.Send(ctx, req, payload); err != nil {
		return retryHandoff(ctx, req, retrier, err)
	}
	return nil
}

// ManagerLocator picks any managed node offering the manager service.
// The node the client originally bootstrapped through is preferred
// when still present (cache locality for admin requests); otherwise
// nodes are tried in stable order by identifier.
type ManagerLocator struct {
	// BootstrapNode, if set, is tried before falling back to
	// stable-by-identifier ordering.
	BootstrapNode clusternode.Identifier
}

// Dispatch implements Locator.
func (m ManagerLocator) Dispatch(ctx context.Context, req request.Request, payload []byte, nodes NodeLookup, cfg *cbconfig.BucketConfig, retrier retry.Orchestrator) error {
	candidates := make([]*clusternode.Node, 0)
	for _, n := range nodes.Nodes() {
		if n.ServiceEnabled(request.ServiceTypeManager) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Identifier().String() < candidates[j].Identifier().String()
	})

	chosen := candidates[0]
	for _, n := range candidates {
		if n.Identifier() == m.BootstrapNode {
			chosen = n
			break
		}
	}

	service, ok := chosen.Service(request.ServiceTypeManager, "")
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}
	if err := service.Send(ctx, req, payload); err != nil {
		return retryHandoff(ctx, req, retrier, err)
	}
	return nil
}

// RoundRobinLocator cycles through every managed node offering
// SvcType, used for QUERY, ANALYTICS, SEARCH, VIEWS.
type RoundRobinLocator struct {
	SvcType request.ServiceType
	counter atomic.Uint64
}

// Dispatch implements Locator.
func (r *RoundRobinLocator) Dispatch(ctx context.Context, req request.Request, payload []byte, nodes NodeLookup, cfg *cbconfig.BucketConfig, retrier retry.Orchestrator) error {
	candidates := make([]*clusternode.Node, 0)
	for _, n := range nodes.Nodes() {
		if n.ServiceEnabled(r.SvcType) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Identifier().String() < candidates[j].Identifier().String()
	})

	idx := r.counter.Add(1) - 1
	chosen := candidates[idx%uint64(len(candidates))]

	service, ok := chosen.Service(r.SvcType, "")
	if !ok {
		return retryHandoff(ctx, req, retrier, coreerrors.ErrNoEligibleNode)
	}
	if err := service.Send(ctx, req, payload); err != nil {
		return retryHandoff(ctx, req, retrier, err)
	}
	return nil
}
