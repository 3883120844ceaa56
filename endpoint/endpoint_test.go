package endpoint

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/breaker"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/transport"
)

type fakeTransport struct {
	mu     sync.Mutex
	active bool
	writes [][]byte
	failWrite bool
}

func (f *fakeTransport) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errFakeWrite
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return nil
}
func (f *fakeTransport) Flush() error       { return nil }
func (f *fakeTransport) IsWritable() bool   { f.mu.Lock(); defer f.mu.Unlock(); return f.active }
func (f *fakeTransport) IsActive() bool     { f.mu.Lock(); defer f.mu.Unlock(); return f.active }
func (f *fakeTransport) LocalAddr() net.Addr { return nil }
func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	return nil
}

var errFakeWrite = &fakeWriteError{}

type fakeWriteError struct{}

func (*fakeWriteError) Error() string { return "fake write error" }

type fakeDialer struct {
	failCount atomic.Int32
	dials     atomic.Int32
	tr        *fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int, opts transport.DialOptions) (transport.Transport, error) {
	d.dials.Add(1)
	if d.failCount.Load() > 0 {
		d.failCount.Add(-1)
		return nil, errFakeWrite
	}
	d.tr.active = true
	return d.tr, nil
}

func newTestEndpoint(dialer transport.Dialer) *Endpoint {
	cfg := Config{
		Host:           "127.0.0.1",
		Port:           11210,
		ConnectTimeout: time.Second,
		Breaker:        breaker.Config{Enabled: false},
	}
	return New(cfg, dialer, eventbus.New(), nil)
}

func TestConnectSucceedsAndAllowsWrite(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDialer{tr: tr}
	e := newTestEndpoint(d)

	e.Connect(context.Background())

	require.Eventually(t, func() bool { return e.State() == StateConnected }, time.Second, time.Millisecond)
	require.True(t, e.CanWrite())

	require.NoError(t, e.Send([]byte("hello")))
	require.Len(t, tr.writes, 1)
}

func TestConnectRetriesAfterFailures(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDialer{tr: tr}
	d.failCount.Store(3)
	e := newTestEndpoint(d)

	e.Connect(context.Background())

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)
	require.GreaterOrEqual(t, d.dials.Load(), int32(4))
}

func TestSendRejectedWhenNotWritable(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDialer{tr: tr}
	e := newTestEndpoint(d)

	err := e.Send([]byte("x"))
	require.ErrorIs(t, err, ErrNotWritable)
}

func TestFreeTracksOutstandingForNonPipelined(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDialer{tr: tr}
	e := newTestEndpoint(d)
	e.Connect(context.Background())
	require.Eventually(t, func() bool { return e.State() == StateConnected }, time.Second, time.Millisecond)

	require.True(t, e.Free())
	require.NoError(t, e.Send([]byte("x")))
	require.False(t, e.Free())

	e.MarkRequestCompletion(true)
	require.True(t, e.Free())
}

func TestDisconnectClosesTransportAndUpdatesState(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDialer{tr: tr}
	e := newTestEndpoint(d)
	e.Connect(context.Background())
	require.Eventually(t, func() bool { return e.State() == StateConnected }, time.Second, time.Millisecond)

	e.Disconnect()

	require.Eventually(t, func() bool { return e.State() == StateDisconnected }, time.Second, time.Millisecond)
	require.False(t, tr.IsActive())
}
