package configprovider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultPollInterval is how often a healthy (untainted) bucket's
	// config is re-polled.
	defaultPollInterval = 2500 * time.Millisecond
	// taintedPollInterval is used once a config reports a fast-forward
	// map is in play, so rebalance completion is picked up quickly.
	taintedPollInterval = 500 * time.Millisecond
)

// ProposedConfigFunc is how a Refresher hands a freshly polled document
// back to the owning provider. It is a plain callback rather than a
// pointer back to Provider so the two can't form a reference cycle.
type ProposedConfigFunc func(bucket string, raw []byte, originHost string)

// Refresher keeps one or more open buckets' configuration current by
// polling a Loader on an interval, tightening the interval while a
// bucket is tainted (mid-rebalance).
type Refresher interface {
	// Register starts polling bucket against host. host is the origin
	// node the bucket was last successfully loaded from.
	Register(bucket, host string)
	Deregister(bucket string)
	MarkTainted(bucket string)
	MarkUntainted(bucket string)
	Shutdown()
}

type pollWatch struct {
	cancel  context.CancelFunc
	tainted atomic.Bool
}

// PollingRefresher is the concrete Refresher used for both the
// key-value (CCCP) and manager (REST) loaders; the two differ only in
// which Loader and port they're constructed with.
type PollingRefresher struct {
	loader     Loader
	port       func() int
	onProposed ProposedConfigFunc
	logger     *zap.Logger

	mu      sync.Mutex
	watches map[string]*pollWatch
}

// NewPollingRefresher builds a PollingRefresher. port is called before
// every poll rather than captured once at construction.
func NewPollingRefresher(loader Loader, port func() int, onProposed ProposedConfigFunc, logger *zap.Logger) *PollingRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingRefresher{
		loader:     loader,
		port:       port,
		onProposed: onProposed,
		logger:     logger,
		watches:    make(map[string]*pollWatch),
	}
}

// Register implements Refresher.
func (r *PollingRefresher) Register(bucket, host string) {
	r.mu.Lock()
	if existing, ok := r.watches[bucket]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	watch := &pollWatch{cancel: cancel}
	r.watches[bucket] = watch
	r.mu.Unlock()

	go r.pollLoop(ctx, bucket, host, watch)
}

// Deregister implements Refresher.
func (r *PollingRefresher) Deregister(bucket string) {
	r.mu.Lock()
	watch, ok := r.watches[bucket]
	delete(r.watches, bucket)
	r.mu.Unlock()
	if ok {
		watch.cancel()
	}
}

// MarkTainted implements Refresher.
func (r *PollingRefresher) MarkTainted(bucket string) {
	r.mu.Lock()
	watch := r.watches[bucket]
	r.mu.Unlock()
	if watch != nil {
		watch.tainted.Store(true)
	}
}

// MarkUntainted implements Refresher.
func (r *PollingRefresher) MarkUntainted(bucket string) {
	r.mu.Lock()
	watch := r.watches[bucket]
	r.mu.Unlock()
	if watch != nil {
		watch.tainted.Store(false)
	}
}

// Shutdown implements Refresher.
func (r *PollingRefresher) Shutdown() {
	r.mu.Lock()
	watches := r.watches
	r.watches = make(map[string]*pollWatch)
	r.mu.Unlock()
	for _, watch := range watches {
		watch.cancel()
	}
}

func (r *PollingRefresher) pollLoop(ctx context.Context, bucket, host string, watch *pollWatch) {
	for {
		interval := defaultPollInterval
		if watch.tainted.Load() {
			interval = taintedPollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		raw, err := r.loader.Load(ctx, host, r.port(), bucket)
		if err != nil {
			r.logger.Debug("refresh poll failed", zap.String("bucket", bucket), zap.String("host", host), zap.Error(err))
			continue
		}
		r.onProposed(bucket, raw, host)
	}
}
