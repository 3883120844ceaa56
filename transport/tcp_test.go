package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

// pipeTransport wraps one end of a net.Pipe as a Transport, used to
// exercise tcpTransport's behavior without a real socket.
func newPipeTransport() (*tcpTransport, net.Conn) {
	client, server := net.Pipe()
	return &tcpTransport{conn: client}, server
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	tr, server := newPipeTransport()
	defer tr.Disconnect()
	defer server.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	if err := tr.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	select {
	case got := <-done:
		if string(got) != "hello" {
			t.Fatalf("expected %q, got %q", "hello", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for write to be observed")
	}
}

func TestDisconnectIsIdempotentAndRejectsFurtherWrites(t *testing.T) {
	tr, server := newPipeTransport()
	defer server.Close()

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("unexpected error on first disconnect: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("expected second disconnect to be a no-op, got: %v", err)
	}

	if tr.IsActive() {
		t.Fatalf("expected IsActive to be false after disconnect")
	}
	if tr.IsWritable() {
		t.Fatalf("expected IsWritable to be false after disconnect")
	}
	if err := tr.Write([]byte("x")); err != ErrTransportClosed {
		t.Fatalf("expected ErrTransportClosed, got: %v", err)
	}
}

func TestTCPDialerRejectsUnreachableAddress(t *testing.T) {
	d := &TCPDialer{}
	_, err := d.Dial(context.Background(), "127.0.0.1", 1, DialOptions{ConnectTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected dial to an unreachable port to fail")
	}
}
