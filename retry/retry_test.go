package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/request"
)

type countingDispatcher struct {
	failuresBeforeSuccess int32
	attempts               atomic.Int32
}

func (d *countingDispatcher) Dispatch(ctx context.Context, req request.Request) error {
	n := d.attempts.Add(1)
	if n <= d.failuresBeforeSuccess {
		return coreerrors.ErrNoEligibleNode
	}
	return nil
}

func TestMaybeRetrySucceedsWithinAttempts(t *testing.T) {
	disp := &countingDispatcher{failuresBeforeSuccess: 2}
	o := New(Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}, disp, nil)

	req := request.NewBase(context.Background(), "req-1", request.ServiceTypeKeyValue, "default")

	var cancelled atomic.Bool
	req.OnCancel(func(coreerrors.CancelReason) { cancelled.Store(true) })

	o.MaybeRetry(context.Background(), req, coreerrors.ErrNoEligibleNode)

	require.Eventually(t, func() bool {
		return disp.attempts.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	require.False(t, cancelled.Load(), "request should not be cancelled once dispatch succeeds")
}

func TestMaybeRetryGivesUpAndCancels(t *testing.T) {
	disp := &countingDispatcher{failuresBeforeSuccess: 1000}
	o := New(Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  30 * time.Millisecond,
	}, disp, nil)

	req := request.NewBase(context.Background(), "req-2", request.ServiceTypeKeyValue, "default")

	var cancelled atomic.Bool
	var reason coreerrors.CancelReason
	req.OnCancel(func(r coreerrors.CancelReason) {
		cancelled.Store(true)
		reason = r
	})

	o.MaybeRetry(context.Background(), req, coreerrors.ErrNoEligibleNode)

	require.Eventually(t, func() bool {
		return cancelled.Load()
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, coreerrors.CancelReasonNoEligibleNode, reason)
}
