// Package coreerrors centralizes the error taxonomy used across the
// client runtime, matching the sentinel-error style the rest of the
// Couchbase Go stack uses (var Err* = errors.New(...)).
package coreerrors

import "github.com/pkg/errors"

var (
	// ErrAlreadyShutdown is returned by any operation attempted on a
	// provider or core that has already completed shutdown.
	ErrAlreadyShutdown = errors.New("already shutdown")

	// ErrConfigBootstrapFailed means no seed node yielded a usable
	// bucket configuration during openBucket.
	ErrConfigBootstrapFailed = errors.New("could not locate a bucket configuration from any seed node")

	// ErrNoSeedNodes means openBucket was called without any seed
	// nodes configured.
	ErrNoSeedNodes = errors.New("no seed nodes configured")

	// ErrCollectionsNotAvailable means the server does not support the
	// collections manifest API.
	ErrCollectionsNotAvailable = errors.New("collections are not available on this cluster")

	// ErrPartitionNotExistent means the requested partition index has
	// no master in the current partition map.
	ErrPartitionNotExistent = errors.New("partition does not exist")

	// ErrNoFastForwardMap means a request opted into fast-forward
	// routing but the current bucket config has no fast-forward map.
	ErrNoFastForwardMap = errors.New("bucket config has no fast-forward map")

	// ErrNotBucketScoped is returned when a bucket-scoped locator
	// receives a config that is not a partitioned bucket.
	ErrNotBucketScoped = errors.New("config is not a partitioned bucket")

	// ErrNoEligibleNode means a locator could not find any managed node
	// that could service the request right now.
	ErrNoEligibleNode = errors.New("no eligible node for request")

	// ErrServiceReconfigurationFailed wraps a failure while adding or
	// removing a single service during reconciliation. It is always
	// swallowed at the reconcile boundary and only surfaced as an event.
	ErrServiceReconfigurationFailed = errors.New("service reconfiguration failed")
)

// CancelReason explains why a request was cancelled rather than
// completed.
type CancelReason int

const (
	CancelReasonUnknown CancelReason = iota
	CancelReasonShutdown
	CancelReasonTimeout
	CancelReasonNoEligibleNode
)

func (r CancelReason) String() string {
	switch r {
	case CancelReasonShutdown:
		return "SHUTDOWN"
	case CancelReasonTimeout:
		return "TIMEOUT"
	case CancelReasonNoEligibleNode:
		return "NO_ELIGIBLE_NODE"
	default:
		return "UNKNOWN"
	}
}
