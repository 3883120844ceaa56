// Package eventbus provides in-process publish/subscribe for the
// lifecycle and configuration events emitted by the runtime
// (connection state changes, reconciliation outcomes, bucket config
// updates). Subscribers never block a publisher: lifecycle events are
// fanned out best-effort (a slow subscriber misses events), while the
// cluster config stream coalesces to the latest value so a slow
// subscriber only ever falls behind, never queues up stale configs.
package eventbus

import (
	"sync"

	"github.com/couchbase/gocbclientcore/contrib/latestonlychannel"
)

// Event is the marker interface implemented by every published value.
type Event interface {
	// EventName identifies the event's type for logging, independent
	// of its concrete Go type.
	EventName() string
}

// Bus fans lifecycle events out to subscribers. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future published events and a Cancel
// function to stop receiving and release resources. The channel has a
// small buffer; if a subscriber falls behind by more than the buffer
// size, further events for it are dropped rather than blocking
// Publish — lifecycle events are diagnostic, not a source of truth a
// subscriber can rely on to never miss one.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish fans ev out to every current subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is behind; drop rather than block the publisher.
		}
	}
}

// ConfigStream is a single-producer, multi-consumer relay for a
// monotonically-advancing value (a bucket's current configuration)
// where consumers only ever care about the latest value, and a slow
// consumer must never make the producer (the config provider's apply
// loop) block or pile up a backlog of stale configs.
//
// Subscribing replays the most recently published value immediately,
// if one exists, so a subscriber that joins after bootstrap doesn't
// have to wait for the next topology change to learn the current
// config.
type ConfigStream[T any] struct {
	mu       sync.Mutex
	has      bool
	latest   T
	watchers map[int]chan T
	next     int
}

// NewConfigStream creates an empty ConfigStream.
func NewConfigStream[T any]() *ConfigStream[T] {
	return &ConfigStream[T]{watchers: make(map[int]chan T)}
}

// Publish records value as the latest and coalesces it into every
// watcher's single-slot relay, overwriting whatever stale value that
// watcher hadn't yet consumed.
func (s *ConfigStream[T]) Publish(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = true
	s.latest = value
	for _, relay := range s.watchers {
		relay <- value
	}
}

// Watch returns a channel that always carries the latest published
// value: if the consumer is slower than the producer, intermediate
// values are discarded rather than queued, mirroring a coalescing
// channel relay. Cancel stops the watch and releases its goroutine.
func (s *ConfigStream[T]) Watch() (<-chan T, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	// buffered by one so seeding below can't race a concurrent Cancel
	// closing the channel out from under a separate seeding goroutine.
	relay := make(chan T, 1)
	s.watchers[id] = relay
	if s.has {
		// seed the relay so the very first receive on outCh replays
		// the current value without waiting for the next Publish.
		relay <- s.latest
	}
	s.mu.Unlock()

	outCh := latestonlychannel.Wrap(relay)

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(relay)
		}
		s.mu.Unlock()
	}

	return outCh, cancel
}
