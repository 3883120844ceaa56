// Package transport abstracts the byte pipe an Endpoint writes
// requests onto, so that endpoint connection/reconnection logic never
// has to know whether it is holding a plaintext or TLS socket.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport is a single connected wire to a node's service port. It is
// owned by exactly one Endpoint at a time.
type Transport interface {
	// Write sends b on the wire. It does not imply a flush.
	Write(b []byte) error

	// Flush pushes any buffered writes out.
	Flush() error

	// IsWritable reports whether the transport's send buffer has room
	// for more data without blocking or erroring.
	IsWritable() bool

	// IsActive reports whether the underlying connection is still up.
	IsActive() bool

	// LocalAddr is the local endpoint of the connection, used for
	// diagnostics and metrics labeling.
	LocalAddr() net.Addr

	// Disconnect closes the transport. It is safe to call more than
	// once.
	Disconnect() error
}

// DialOptions configures how a Dialer establishes a new Transport.
type DialOptions struct {
	// TLSConfig, if non-nil, causes the dial to negotiate TLS using
	// this configuration. A nil TLSConfig dials plaintext.
	TLSConfig *tls.Config

	// ConnectTimeout bounds how long the dial itself may take. Zero
	// means no explicit timeout beyond the caller's context.
	ConnectTimeout time.Duration
}

// Dialer establishes Transports to a single node service port.
//
// Endpoint holds one Dialer per connection attempt rather than a bare
// dial function so tests can substitute an in-memory fake without
// spinning up real sockets.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, opts DialOptions) (Transport, error)
}
