// Package svc implements the Service component: a bounded pool of
// endpoints serving one service-type on one node, optionally scoped
// to one bucket.
package svc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/endpoint"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/request"
	"github.com/couchbase/gocbclientcore/transport"
)

// Config configures a Service's pool sizing and endpoint behavior.
type Config struct {
	// MinEndpoints are kept connected even while idle.
	MinEndpoints int

	// MaxEndpoints bounds how many concurrent connections this
	// service will open; once reached, dispatch defers to the retry
	// orchestrator rather than growing further.
	MaxEndpoints int

	// IdleTime is how long a pooled endpoint above MinEndpoints may
	// sit with no completed request before Shrink disconnects it.
	IdleTime time.Duration

	// Pipelined services multiplex many concurrent requests over a
	// single endpoint rather than requiring one endpoint per
	// in-flight request.
	Pipelined bool

	EndpointConfig endpoint.Config
}

// Service owns a pool of endpoints for one (service-type, node[,
// bucket]) tuple.
type Service struct {
	cfg    Config
	dialer transport.Dialer
	bus    *eventbus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	endpoints []*endpoint.Endpoint
}

// New creates an empty Service. Call Connect to warm the pool up to
// cfg.MinEndpoints; beyond that, endpoints are created lazily by Send
// up to cfg.MaxEndpoints.
func New(cfg Config, dialer transport.Dialer, bus *eventbus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pipelined {
		cfg.EndpointConfig.Pipelined = true
	}
	return &Service{cfg: cfg, dialer: dialer, bus: bus, logger: logger}
}

// Connect eagerly dials endpoints up to cfg.MinEndpoints so the pool
// is already warm by the time the first Send arrives, rather than
// depending on lazy on-demand dialing (and a retry loop) to reach it.
// It is a no-op beyond the first call once MinEndpoints is reached.
func (s *Service) Connect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.endpoints) < s.cfg.MinEndpoints {
		ep := endpoint.New(s.cfg.EndpointConfig, s.dialer, s.bus, s.logger)
		ep.Connect(ctx)
		s.endpoints = append(s.endpoints, ep)
	}
}

// ErrNoCapacity is returned by Send when every endpoint is busy and
// MaxEndpoints has already been reached.
type ErrNoCapacity struct{}

func (ErrNoCapacity) Error() string { return "svc: no free endpoint and pool at max capacity" }

// Send dispatches payload through this service's pool, reusing a free
// endpoint or opening a new one up to MaxEndpoints. The caller is
// responsible for handing the request to the retry orchestrator if
// Send returns ErrNoCapacity or a write error.
func (s *Service) Send(ctx context.Context, req request.Request, payload []byte) error {
	ep := s.acquireEndpoint(ctx)
	if ep == nil {
		return ErrNoCapacity{}
	}
	return ep.Send(payload)
}

// acquireEndpoint returns a free, writable endpoint if there is one.
// Otherwise it returns nil while any endpoint is still connecting or
// the pool is at MaxEndpoints; failing both, it creates a new endpoint
// and returns it with its connect still in progress, so a Send on it
// fails until that connect completes.
func (s *Service) acquireEndpoint(ctx context.Context) *endpoint.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	connecting := false
	for _, ep := range s.endpoints {
		if ep.Free() && ep.CanWrite() {
			return ep
		}
		if ep.State() == endpoint.StateConnecting {
			connecting = true
		}
	}

	// Don't open a redundant connection while one is already in
	// flight; let the caller retry once it resolves.
	if connecting {
		return nil
	}

	if s.cfg.MaxEndpoints > 0 && len(s.endpoints) >= s.cfg.MaxEndpoints {
		return nil
	}

	ep := endpoint.New(s.cfg.EndpointConfig, s.dialer, s.bus, s.logger)
	ep.Connect(ctx)
	s.endpoints = append(s.endpoints, ep)
	return ep
}

// Shrink disconnects and drops any endpoint beyond MinEndpoints whose
// last completed response is older than IdleTime. Nothing in this
// module calls it on a schedule; the caller decides when to run it.
func (s *Service) Shrink(now time.Time) {
	if s.cfg.IdleTime <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.endpoints) <= s.cfg.MinEndpoints {
		return
	}

	kept := s.endpoints[:0:0]
	for _, ep := range s.endpoints {
		if len(kept) < s.cfg.MinEndpoints {
			kept = append(kept, ep)
			continue
		}
		last := ep.LastResponseReceived()
		if ep.Free() && !last.IsZero() && now.Sub(last) >= s.cfg.IdleTime {
			ep.Disconnect()
			continue
		}
		kept = append(kept, ep)
	}
	s.endpoints = kept
}

// Disconnect tears down every endpoint in the pool. Called when the
// owning Node removes this service.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		ep.Disconnect()
	}
	s.endpoints = nil
}

// EndpointCount reports the current pool size, for tests and metrics.
func (s *Service) EndpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

// Port is the port this service was configured to dial, used by Node
// to detect a port-mismatch re-add (AddService's replace decision).
func (s *Service) Port() int {
	return s.cfg.EndpointConfig.Port
}
