// Package timer implements the process-wide per-request timeout
// registry: every dispatched request is registered with a deadline
// and cancelled with CancelReasonTimeout if it is still outstanding
// when that deadline passes.
package timer

import (
	"sync"
	"time"

	"github.com/couchbase/gocbclientcore/coreerrors"
)

// Cancellable is the subset of request.Request the timer needs: a
// way to cancel it. A separate interface (rather than importing
// request.Request directly) keeps this package free of a dependency
// on request's other concerns.
type Cancellable interface {
	Cancel(reason coreerrors.CancelReason)
}

// Registry tracks one pending deadline per registration handle. A
// single Registry is shared process-wide (or per-Core), mirroring the
// original's single timer wheel serving every outstanding request.
type Registry struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{timers: make(map[uint64]*time.Timer)}
}

// Handle identifies one registration so it can be cancelled when the
// request completes normally.
type Handle uint64

// Register arms a timeout for req that fires after d, cancelling req
// with CancelReasonTimeout if Deregister isn't called first.
func (r *Registry) Register(req Cancellable, d time.Duration) Handle {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	// Reserve the slot before arming: AfterFunc's callback can fire
	// (for a near-zero d) before this call returns, and it must find
	// its own id already present to know it's still armed.
	r.timers[id] = nil
	r.mu.Unlock()

	t := time.AfterFunc(d, func() {
		r.mu.Lock()
		_, stillArmed := r.timers[id]
		delete(r.timers, id)
		r.mu.Unlock()

		if stillArmed {
			req.Cancel(coreerrors.CancelReasonTimeout)
		}
	})

	r.mu.Lock()
	// Only replace the placeholder if it's still there: a near-zero d
	// may have already fired the callback above, which deletes id on
	// its own. Re-inserting here would leak a timer entry the callback
	// already retired.
	if _, stillPending := r.timers[id]; stillPending {
		r.timers[id] = t
	}
	r.mu.Unlock()

	return Handle(id)
}

// Deregister disarms the timeout registered under h, called once the
// request completes (successfully or otherwise) before its deadline.
func (r *Registry) Deregister(h Handle) {
	r.mu.Lock()
	t, ok := r.timers[uint64(h)]
	if ok {
		delete(r.timers, uint64(h))
	}
	r.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// Len reports how many timeouts are currently armed, for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
