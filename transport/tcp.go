package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrTransportClosed is returned from Write/Flush once Disconnect has
// been called.
var ErrTransportClosed = errors.New("transport: already disconnected")

// TCPDialer dials plaintext or TLS TCP connections using the standard
// library's net/crypto-tls stack. It is the default Dialer used by
// Endpoint outside of tests.
type TCPDialer struct {
	// NetDialer is used for the underlying TCP dial. A zero value is
	// a reasonable default.
	NetDialer net.Dialer
}

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context, host string, port int, opts DialOptions) (Transport, error) {
	nd := d.NetDialer
	if opts.ConnectTimeout > 0 {
		nd.Timeout = opts.ConnectTimeout
	}

	address := fmt.Sprintf("%s:%d", host, port)
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "dial failed")
	}

	if opts.TLSConfig != nil {
		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "tls handshake failed")
		}
		conn = tlsConn
	}

	return &tcpTransport{conn: conn}, nil
}

// tcpTransport wraps a net.Conn (plaintext or TLS) as a Transport.
type tcpTransport struct {
	conn net.Conn

	mu     sync.Mutex
	closed atomic.Bool
}

func (t *tcpTransport) Write(b []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.conn.Write(b)
	return err
}

// Flush is a no-op for a raw net.Conn: every Write already goes
// straight to the kernel socket buffer. It exists so pipelined
// transports that do buffer client-side have somewhere to hook in.
func (t *tcpTransport) Flush() error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return nil
}

func (t *tcpTransport) IsWritable() bool {
	return !t.closed.Load()
}

func (t *tcpTransport) IsActive() bool {
	return !t.closed.Load()
}

func (t *tcpTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *tcpTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
