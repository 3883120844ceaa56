// Package retry implements the retry orchestrator collaborator:
// locators and endpoints hand a request here when it cannot be
// dispatched right now (no eligible node, endpoint not writable), and
// the orchestrator decides whether and when to try again. Retry
// *strategy* (backoff curve, per-error-class policy) is explicitly a
// collaborator concern per the core's own scope — this package ships
// one concrete, directly usable implementation built on the same
// exponential backoff the endpoint reconnect loop uses.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/request"
)

// Dispatcher resubmits a request for routing, exactly the call a
// locator or Core would make on the first attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, req request.Request) error
}

// Orchestrator decides whether and when to resubmit a request that
// could not be dispatched immediately.
type Orchestrator interface {
	// MaybeRetry is called with the request that failed to dispatch
	// and the error that explains why. It must not block the caller
	// for longer than scheduling a retry requires.
	MaybeRetry(ctx context.Context, req request.Request, cause error)
}

// Config bounds how long and how aggressively the default
// Orchestrator will keep retrying a single request before giving up
// and cancelling it with CancelReasonNoEligibleNode.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultConfig mirrors the endpoint reconnect backoff shape (32ms
// base, capped) but bounds total retry time, unlike the endpoint's
// unbounded reconnect loop — a request has a caller waiting on it, a
// connection does not.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 32 * time.Millisecond,
		MaxInterval:     4096 * time.Millisecond,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Default is the backoff-driven Orchestrator shipped by this module.
// It owns a Dispatcher it will call back into once a retry is due.
type Default struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates a Default orchestrator. dispatcher is called back for
// each retry attempt; logger may be nil.
func New(cfg Config, dispatcher Dispatcher, logger *zap.Logger) *Default {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Default{cfg: cfg, dispatcher: dispatcher, logger: logger}
}

// MaybeRetry implements Orchestrator. It spawns a goroutine that
// retries req on an exponential backoff schedule until the request's
// own context is cancelled, the backoff's MaxElapsedTime is
// exhausted, or a retry attempt succeeds.
func (d *Default) MaybeRetry(ctx context.Context, req request.Request, cause error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval
	b.MaxElapsedTime = d.cfg.MaxElapsedTime

	bctx := backoff.WithContext(b, req.Context())

	go func() {
		attempt := 0
		err := backoff.Retry(func() error {
			attempt++
			dispatchErr := d.dispatcher.Dispatch(req.Context(), req)
			if dispatchErr != nil {
				d.logger.Debug("retry attempt failed",
					zap.Int("attempt", attempt),
					zap.Error(dispatchErr))
			}
			return dispatchErr
		}, bctx)

		if err != nil {
			d.logger.Warn("giving up retrying request",
				zap.Int("attempts", attempt),
				zap.Error(cause))
			req.Cancel(coreerrors.CancelReasonNoEligibleNode)
		}
	}()
}
