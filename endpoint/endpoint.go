// Package endpoint implements the connection state machine for a
// single socket to one node's service port: DISCONNECTED ->
// CONNECTING -> CONNECTED -> DISCONNECTING, with exponential-backoff
// reconnect and circuit-breaker-gated writes.
package endpoint

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/breaker"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/transport"
)

// State is one of the endpoint connection FSM's four states.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// reconnect backoff bounds, matching the endpoint reconnect policy:
// base 32ms, cap 4096ms, unbounded attempts.
const (
	reconnectInitialInterval = 32 * time.Millisecond
	reconnectMaxInterval     = 4096 * time.Millisecond
)

// Config configures one Endpoint.
type Config struct {
	Host string
	Port int

	// Pipelined transports (HTTP/2-style services) don't need
	// outstanding-request tracking for pool sizing; non-pipelined
	// (memcached binary protocol) transports do.
	Pipelined bool

	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
	Breaker        breaker.Config
}

// ErrNotWritable is returned by Send when canWrite() is false.
var ErrNotWritable = errors.New("endpoint: not writable")

// Connected is published when a connect attempt succeeds.
type Connected struct{ Host string }

func (Connected) EventName() string { return "EndpointConnected" }

// ConnectionFailed is published on every failed connect attempt.
type ConnectionFailed struct {
	Host      string
	Iteration int
	Cause     error
}

func (ConnectionFailed) EventName() string { return "EndpointConnectionFailed" }

// ConnectionAborted is published when disconnect() is called while a
// connect attempt is still in flight.
type ConnectionAborted struct{ Host string }

func (ConnectionAborted) EventName() string { return "EndpointConnectionAborted" }

// ConnectionIgnored is published when a connect attempt succeeds
// after disconnect() was already requested; the new transport is
// closed immediately rather than adopted.
type ConnectionIgnored struct{ Host string }

func (ConnectionIgnored) EventName() string { return "EndpointConnectionIgnored" }

// Disconnected is published once a disconnect completes.
type Disconnected struct{ Host string }

func (Disconnected) EventName() string { return "EndpointDisconnected" }

// Endpoint is safe for concurrent use: Connect, Disconnect, and Send
// may all be called from any goroutine. FSM transitions themselves
// are serialized through CAS operations on state.
type Endpoint struct {
	cfg    Config
	dialer transport.Dialer
	bus    *eventbus.Bus
	logger *zap.Logger
	breaker *breaker.Breaker

	state                atomic.Int32
	disconnectRequested  atomic.Bool
	transportMu          sync.Mutex
	transport            transport.Transport
	outstanding          atomic.Int32
	lastConnectTimestamp atomic.Int64
	lastResponseTimestamp atomic.Int64

	reconnectCtx    context.Context
	reconnectCancel context.CancelFunc
}

// New constructs an Endpoint. It does not connect; call Connect.
func New(cfg Config, dialer transport.Dialer, bus *eventbus.Bus, logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Endpoint{
		cfg:     cfg,
		dialer:  dialer,
		bus:     bus,
		logger:  logger,
		breaker: breaker.New(cfg.Breaker),
	}
}

func (e *Endpoint) host() string { return e.cfg.Host }

// Connect starts the connection attempt (and its backoff-driven
// reconnect loop on failure) if the endpoint is currently
// DISCONNECTED. It is a no-op otherwise.
func (e *Endpoint) Connect(ctx context.Context) {
	if !e.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return
	}
	e.disconnectRequested.Store(false)

	reconnectCtx, cancel := context.WithCancel(ctx)
	e.reconnectCtx = reconnectCtx
	e.reconnectCancel = cancel

	go e.reconnectLoop(reconnectCtx)
}

// reconnectLoop dials with unbounded exponential backoff (base 32ms,
// cap 4096ms) until a connect attempt succeeds or disconnect is
// requested.
func (e *Endpoint) reconnectLoop(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitialInterval
	b.MaxInterval = reconnectMaxInterval
	b.MaxElapsedTime = 0 // unbounded, per the reconnect policy

	bctx := backoff.WithContext(b, ctx)

	attempt := 0
	_ = backoff.Retry(func() error {
		attempt++

		if e.disconnectRequested.Load() {
			e.bus.Publish(ConnectionAborted{Host: e.host()})
			e.state.Store(int32(StateDisconnected))
			return nil
		}

		dialCtx := ctx
		if e.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, e.cfg.ConnectTimeout)
			defer cancel()
		}

		tr, err := e.dialer.Dial(dialCtx, e.cfg.Host, e.cfg.Port, transport.DialOptions{
			TLSConfig:      e.cfg.TLSConfig,
			ConnectTimeout: e.cfg.ConnectTimeout,
		})
		if err != nil {
			e.logger.Debug("endpoint connect attempt failed",
				zap.String("host", e.cfg.Host), zap.Int("attempt", attempt), zap.Error(err))
			e.bus.Publish(ConnectionFailed{Host: e.host(), Iteration: attempt, Cause: err})
			return err
		}

		if e.disconnectRequested.Load() {
			e.bus.Publish(ConnectionIgnored{Host: e.host()})
			_ = tr.Disconnect()
			e.state.Store(int32(StateDisconnected))
			return nil
		}

		e.transportMu.Lock()
		e.transport = tr
		e.transportMu.Unlock()

		e.lastConnectTimestamp.Store(time.Now().UnixNano())
		e.breaker.Reset()
		e.state.Store(int32(StateConnected))
		e.bus.Publish(Connected{Host: e.host()})
		return nil
	}, bctx)
}

// Disconnect requests the endpoint close its connection (or abort an
// in-flight connect attempt). It is safe to call more than once.
func (e *Endpoint) Disconnect() {
	if !e.disconnectRequested.CompareAndSwap(false, true) {
		return
	}
	if e.reconnectCancel != nil {
		e.reconnectCancel()
	}
	e.state.Store(int32(StateDisconnecting))
	e.closeTransport()
}

func (e *Endpoint) closeTransport() {
	e.transportMu.Lock()
	tr := e.transport
	e.transportMu.Unlock()

	if tr != nil && tr.IsActive() {
		_ = tr.Disconnect()
	}
	e.state.Store(int32(StateDisconnected))
	e.bus.Publish(Disconnected{Host: e.host()})
}

// State returns the current FSM state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// CanWrite reports whether Send would currently be accepted: the
// endpoint must be CONNECTED, its transport active and writable, and
// the circuit breaker must be allowing requests through.
func (e *Endpoint) CanWrite() bool {
	if e.State() != StateConnected {
		return false
	}
	e.transportMu.Lock()
	tr := e.transport
	e.transportMu.Unlock()
	if tr == nil || !tr.IsActive() || !tr.IsWritable() {
		return false
	}
	return e.breaker.AllowsRequest()
}

// Send writes payload on the wire for a dispatched request. The
// caller must call MarkRequestCompletion once the request's response
// (or failure) is known, exactly once per successful Send.
func (e *Endpoint) Send(payload []byte) error {
	if !e.CanWrite() {
		return ErrNotWritable
	}

	if !e.cfg.Pipelined {
		e.outstanding.Add(1)
	}
	e.breaker.Track()

	e.transportMu.Lock()
	tr := e.transport
	e.transportMu.Unlock()

	if err := tr.Write(payload); err != nil {
		e.MarkRequestCompletion(false)
		return errors.Wrap(err, "endpoint: write failed")
	}
	return tr.Flush()
}

// MarkRequestCompletion is called exactly once for every request that
// made it through Send, reporting whether it ultimately succeeded.
// It decrements the outstanding counter (non-pipelined transports
// only) and updates the last-response timestamp used for idle pool
// shrink decisions.
func (e *Endpoint) MarkRequestCompletion(success bool) {
	if !e.cfg.Pipelined {
		e.outstanding.Add(-1)
	}
	e.lastResponseTimestamp.Store(time.Now().UnixNano())

	if success {
		e.breaker.MarkSuccess()
	} else {
		e.breaker.MarkFailure()
	}
}

// Free reports whether this endpoint has no outstanding requests and
// can be considered for idle shrink or handed a new request by the
// owning Service without head-of-line blocking. Pipelined endpoints
// are always free since they multiplex requests over one connection.
func (e *Endpoint) Free() bool {
	return e.cfg.Pipelined || e.outstanding.Load() == 0
}

// LastResponseReceived is the time of the most recent
// MarkRequestCompletion call, used by the owning Service to decide
// whether this endpoint has been idle long enough to shrink.
func (e *Endpoint) LastResponseReceived() time.Time {
	ns := e.lastResponseTimestamp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastConnectTimestamp is the time the current (or most recent)
// connection was established, recorded on each successful connect.
// The reconnect backoff does not read it.
func (e *Endpoint) LastConnectTimestamp() time.Time {
	ns := e.lastConnectTimestamp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
