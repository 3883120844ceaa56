// Package request defines the value types flowing between a caller,
// the topology reconciler, and an Endpoint: the service a request
// targets, the bucket it is scoped to (if any), and how it can be
// cancelled. Payload encoding and response types are out of scope —
// requests carry opaque bytes.
package request

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/couchbase/gocbclientcore/coreerrors"
)

// ServiceType identifies which cluster service a request targets.
type ServiceType int

const (
	ServiceTypeKeyValue ServiceType = iota
	ServiceTypeManager
	ServiceTypeQuery
	ServiceTypeSearch
	ServiceTypeAnalytics
	ServiceTypeViews
)

func (s ServiceType) String() string {
	switch s {
	case ServiceTypeKeyValue:
		return "KeyValue"
	case ServiceTypeManager:
		return "Manager"
	case ServiceTypeQuery:
		return "Query"
	case ServiceTypeSearch:
		return "Search"
	case ServiceTypeAnalytics:
		return "Analytics"
	case ServiceTypeViews:
		return "Views"
	default:
		return "Unknown"
	}
}

// Request is the minimal surface the reconciler and locators need in
// order to route a request to a node and service, and the surface an
// Endpoint needs in order to cancel it if it can never be dispatched.
type Request interface {
	ServiceType() ServiceType
	BucketName() string
	Cancel(reason coreerrors.CancelReason)
	Context() context.Context
}

// KeyValueRequest is a Request additionally routable by key, for the
// KeyValueLocator's partition-hash dispatch.
type KeyValueRequest interface {
	Request

	Key() []byte

	// ReplicaIndex selects which copy of the partition to target; 0
	// means the master (active) copy.
	ReplicaIndex() int

	// UseFastForward routes against the bucket config's fast-forward
	// map instead of its current map, used during a rebalance to
	// avoid thrashing.
	UseFastForward() bool
}

// Base is an embeddable implementation of the common Request surface.
// Callers that need a concrete Request (tests, the CLI) can embed Base
// and only add the bits specific to their use case.
type Base struct {
	ctx         context.Context
	svcType     ServiceType
	bucketName  string
	id          string
	completedMu sync.Mutex
	cancelled   atomic.Bool
	cancelFn    func(coreerrors.CancelReason)
}

// NewBase builds a Base request. id is a process-unique correlation
// identifier (typically a uuid.NewString()); it is not interpreted by
// this package.
func NewBase(ctx context.Context, id string, svcType ServiceType, bucketName string) *Base {
	return &Base{
		ctx:        ctx,
		id:         id,
		svcType:    svcType,
		bucketName: bucketName,
	}
}

func (b *Base) ID() string                   { return b.id }
func (b *Base) ServiceType() ServiceType      { return b.svcType }
func (b *Base) BucketName() string            { return b.bucketName }
func (b *Base) Context() context.Context      { return b.ctx }
func (b *Base) Cancelled() bool               { return b.cancelled.Load() }

// OnCancel registers the hook invoked the first time Cancel is called.
// It is not safe to call concurrently with Cancel.
func (b *Base) OnCancel(fn func(coreerrors.CancelReason)) {
	b.cancelFn = fn
}

// Cancel marks the request cancelled and invokes the registered hook
// exactly once, even under concurrent callers racing to cancel the
// same request (e.g. a timeout firing at the same moment as shutdown).
func (b *Base) Cancel(reason coreerrors.CancelReason) {
	if !b.cancelled.CompareAndSwap(false, true) {
		return
	}
	b.completedMu.Lock()
	defer b.completedMu.Unlock()
	if b.cancelFn != nil {
		b.cancelFn(reason)
	}
}

// KeyValueBase adds key-based routing fields to Base.
type KeyValueBase struct {
	*Base
	key            []byte
	replicaIndex   int
	useFastForward bool
}

// NewKeyValueBase builds a KeyValueBase targeting key on the given
// replica index (0 = master).
func NewKeyValueBase(ctx context.Context, id string, bucketName string, key []byte, replicaIndex int) *KeyValueBase {
	return &KeyValueBase{
		Base:         NewBase(ctx, id, ServiceTypeKeyValue, bucketName),
		key:          key,
		replicaIndex: replicaIndex,
	}
}

func (k *KeyValueBase) Key() []byte          { return k.key }
func (k *KeyValueBase) ReplicaIndex() int     { return k.replicaIndex }
func (k *KeyValueBase) UseFastForward() bool  { return k.useFastForward }

// SetUseFastForward toggles fast-forward map routing for subsequent
// dispatches of this request.
func (k *KeyValueBase) SetUseFastForward(v bool) {
	k.useFastForward = v
}
