// Package breaker implements a per-endpoint circuit breaker gating
// writes once a rolling failure rate crosses a configured threshold.
//
// It mirrors the breaker embedded in the Couchbase SDK core's
// BaseEndpoint (see endpoint.send/canWrite in the original Java
// implementation): Track is called on dispatch, MarkSuccess/MarkFailure
// are called from the request's completion hook, and AllowsRequest
// gates whether canWrite() should let a new request onto the wire.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Config configures a Breaker. A zero Config with Enabled left false
// produces a breaker that never opens (NoopBreaker semantics).
type Config struct {
	Enabled bool

	// VolumeThreshold is the minimum number of completions within the
	// rolling window before the failure ratio is even considered.
	VolumeThreshold int

	// ErrorThresholdPercentage is the failure ratio, in percent, at or
	// above which the breaker opens.
	ErrorThresholdPercentage int

	// SleepWindow is how long an OPEN breaker waits before allowing a
	// single HALF_OPEN canary request.
	SleepWindow time.Duration

	// RollingWindow is the span of time over which completions are
	// counted towards the failure ratio. Older completions age out.
	RollingWindow time.Duration

	// bucketCount subdivides RollingWindow for aging old samples; a
	// fixed number of fixed-size buckets gives bounded memory and O(1)
	// amortized bookkeeping without needing per-sample timestamps.
	bucketCount int
}

// DefaultConfig matches the values used by the Couchbase SDK core by
// default: 10s rolling window, 10 samples minimum, 50% failure rate,
// 5s sleep window.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		VolumeThreshold:          10,
		ErrorThresholdPercentage: 50,
		SleepWindow:              5 * time.Second,
		RollingWindow:            10 * time.Second,
		bucketCount:              10,
	}
}

type bucket struct {
	start        time.Time
	successCount int
	failureCount int
}

// Breaker is safe for concurrent use from multiple goroutines; all
// bookkeeping is guarded by a single mutex since breaker updates are
// not expected to be the hot path (the hot path is the write itself).
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	buckets  []bucket
	state    State
	openedAt time.Time
	// canaryInFlight guards HALF_OPEN: only one request may be let
	// through as a canary until it completes.
	canaryInFlight bool

	now func() time.Time
}

// New creates a Breaker from cfg. If cfg.Enabled is false the returned
// Breaker always allows requests and does no bookkeeping.
func New(cfg Config) *Breaker {
	if cfg.bucketCount <= 0 {
		cfg.bucketCount = 10
	}
	return &Breaker{
		cfg:     cfg,
		buckets: make([]bucket, cfg.bucketCount),
		state:   StateClosed,
		now:     time.Now,
	}
}

func (b *Breaker) bucketDuration() time.Duration {
	return b.cfg.RollingWindow / time.Duration(b.cfg.bucketCount)
}

// currentBucket returns the bucket for "now", rotating out (zeroing)
// any buckets that have aged past the rolling window.
func (b *Breaker) currentBucket(now time.Time) *bucket {
	bd := b.bucketDuration()
	idx := int((now.UnixNano() / int64(bd)) % int64(len(b.buckets)))
	bk := &b.buckets[idx]

	bucketStart := now.Truncate(bd)
	if bk.start != bucketStart {
		// this slot belongs to a different window now; reset it
		bk.start = bucketStart
		bk.successCount = 0
		bk.failureCount = 0
	}
	return bk
}

func (b *Breaker) totals(now time.Time) (success, failure int) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	for i := range b.buckets {
		if b.buckets[i].start.After(cutoff) || b.buckets[i].start.Equal(cutoff) {
			success += b.buckets[i].successCount
			failure += b.buckets[i].failureCount
		}
	}
	return
}

// Track is called when a request is dispatched through this endpoint.
// The caller is expected to eventually call MarkSuccess or MarkFailure
// exactly once per Track call.
func (b *Breaker) Track() {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.canaryInFlight = true
	}
	b.mu.Unlock()
}

// MarkSuccess records a successful completion.
func (b *Breaker) MarkSuccess() {
	if !b.cfg.Enabled {
		return
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentBucket(now).successCount++

	if b.state == StateHalfOpen {
		b.canaryInFlight = false
		b.toClosedLocked()
	}
}

// MarkFailure records a failed completion.
func (b *Breaker) MarkFailure() {
	if !b.cfg.Enabled {
		return
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentBucket(now).failureCount++

	if b.state == StateHalfOpen {
		b.canaryInFlight = false
		b.toOpenLocked(now)
		return
	}

	if b.state == StateClosed {
		success, failure := b.totals(now)
		total := success + failure
		if total >= b.cfg.VolumeThreshold {
			ratio := failure * 100 / total
			if ratio >= b.cfg.ErrorThresholdPercentage {
				b.toOpenLocked(now)
			}
		}
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.openedAt = time.Time{}
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

// AllowsRequest reports whether a new request may be dispatched right
// now. In OPEN it returns false until SleepWindow has elapsed, at
// which point it transitions to HALF_OPEN and allows exactly one
// canary through.
func (b *Breaker) AllowsRequest() bool {
	if !b.cfg.Enabled {
		return true
	}

	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !b.canaryInFlight
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.SleepWindow {
			b.state = StateHalfOpen
			b.canaryInFlight = false
			return true
		}
		return false
	default:
		return false
	}
}

// Reset forces the breaker back to CLOSED and clears all bookkeeping.
// Endpoint calls this on every successful (re)connect.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
