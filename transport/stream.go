package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Stream is a reliable, ordered, bidirectional byte pipe to one peer.
// The platform link layer provides these; the package ships a net.Conn
// adapter and an in-memory pipe for tests.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline bounds the next Read, as in net.Conn.
	SetReadDeadline(t time.Time) error
}

// Dialer opens streams to remote peers.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}

// Listener accepts inbound streams.
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() string
}

// netStream adapts a net.Conn to the Stream interface.
type netStream struct {
	net.Conn
}

// NewStream wraps an established net.Conn as a Stream.
func NewStream(conn net.Conn) Stream {
	return &netStream{Conn: conn}
}

// NetDialer dials streams over the operating system's network stack.
type NetDialer struct {
	// Network is the net.Dial network, "tcp" when empty.
	Network string
}

func (d *NetDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &netStream{Conn: conn}, nil
}

// netListener adapts a net.Listener to the Listener interface.
type netListener struct {
	inner net.Listener
}

// ListenNet opens a Listener on the operating system's network stack.
func ListenNet(network, addr string) (Listener, error) {
	if network == "" {
		network = "tcp"
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &netListener{inner: l}, nil
}

func (l *netListener) Accept() (Stream, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return &netStream{Conn: conn}, nil
}

func (l *netListener) Close() error { return l.inner.Close() }

func (l *netListener) Addr() string { return l.inner.Addr().String() }

// Pipe returns two connected in-memory streams. Writes on one end are
// reads on the other, synchronously and with deadline support. Tests
// use it to wire two managers together without sockets.
func Pipe() (Stream, Stream) {
	c1, c2 := net.Pipe()
	return &netStream{Conn: c1}, &netStream{Conn: c2}
}
