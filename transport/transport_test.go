package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/whisperlink/session"
	"github.com/opd-ai/whisperlink/wire"
)

// connectedPair runs a handshake over an in-memory pipe and returns
// both connections started.
func connectedPair(t *testing.T, heartbeat time.Duration) (*Conn, *Conn) {
	t.Helper()

	sa, sb := Pipe()
	connA := newConn("peer-b", sa, session.NewSession(session.NewConfig(1), session.RoleInitiator), heartbeat, nil)
	connB := newConn("peer-a", sb, session.NewSession(session.NewConfig(2), session.RoleResponder), heartbeat, nil)

	// The responder starts its read loop as soon as its side of the
	// handshake completes, so the initiator's key confirmation write
	// has a reader on the unbuffered pipe.
	errs := make(chan error, 1)
	go func() {
		err := connB.handshake(context.Background(), 5*time.Second)
		if err == nil {
			connB.start()
		}
		errs <- err
	}()
	require.NoError(t, connA.handshake(context.Background(), 5*time.Second))
	require.NoError(t, <-errs)

	connA.start()
	t.Cleanup(func() {
		_ = connA.Close()
		_ = connB.Close()
	})
	return connA, connB
}

func TestConnExchange(t *testing.T) {
	connA, connB := connectedPair(t, time.Minute)

	require.NoError(t, connA.Send([]byte("hello over the pipe"), wire.MessageTypeText))

	select {
	case msg := <-connB.Messages():
		assert.Equal(t, wire.MessageTypeText, msg.Type)
		assert.Equal(t, []byte("hello over the pipe"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message never arrived")
	}

	require.NoError(t, connB.Send([]byte("right back"), wire.MessageTypeText))
	select {
	case msg := <-connA.Messages():
		assert.Equal(t, []byte("right back"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("reply never arrived")
	}
}

func TestConnCloseWipesSession(t *testing.T) {
	connA, _ := connectedPair(t, time.Minute)

	require.NoError(t, connA.Close())
	assert.Equal(t, session.StateClosed, connA.Session().State())
	assert.NoError(t, connA.Err())

	err := connA.Send([]byte("late"), wire.MessageTypeText)
	assert.ErrorIs(t, err, ErrConnClosed)

	// The messages channel closes with the connection.
	select {
	case _, open := <-connA.Messages():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("messages channel never closed")
	}
}

func TestHeartbeatDisconnectsSilentPeer(t *testing.T) {
	sa, sb := Pipe()

	connA := newConn("peer-b", sa, session.NewSession(session.NewConfig(1), session.RoleInitiator), 30*time.Millisecond, nil)
	sessB := session.NewSession(session.NewConfig(2), session.RoleResponder)
	connB := newConn("peer-a", sb, sessB, time.Minute, nil)

	// After its half of the handshake the peer only drains the stream,
	// never answering anything.
	errs := make(chan error, 1)
	go func() {
		err := connB.handshake(context.Background(), 5*time.Second)
		if err == nil {
			go func() { _, _ = io.Copy(io.Discard, sb) }()
		}
		errs <- err
	}()
	require.NoError(t, connA.handshake(context.Background(), 5*time.Second))
	require.NoError(t, <-errs)

	connA.start()
	defer connA.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := connA.Err(); err != nil {
			assert.ErrorIs(t, err, ErrPeerUnresponsive)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("silent peer was never disconnected")
}

// stallStream wraps a Stream whose writes can be frozen, simulating a
// peer whose receive window stopped draining. Close releases any
// blocked writer.
type stallStream struct {
	Stream
	mu      sync.Mutex
	stalled bool
	release chan struct{}
	once    sync.Once
}

func newStallStream(inner Stream) *stallStream {
	return &stallStream{Stream: inner, release: make(chan struct{})}
}

func (s *stallStream) stall() {
	s.mu.Lock()
	s.stalled = true
	s.mu.Unlock()
}

func (s *stallStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	stalled := s.stalled
	s.mu.Unlock()
	if stalled {
		<-s.release
		return 0, errors.New("stream reset")
	}
	return s.Stream.Write(p)
}

func (s *stallStream) Close() error {
	s.once.Do(func() { close(s.release) })
	return s.Stream.Close()
}

func TestHeartbeatFiresDuringStalledWrite(t *testing.T) {
	sa, sb := Pipe()
	stalling := newStallStream(sa)

	connA := newConn("peer-b", stalling, session.NewSession(session.NewConfig(1), session.RoleInitiator), 30*time.Millisecond, nil)
	connB := newConn("peer-a", sb, session.NewSession(session.NewConfig(2), session.RoleResponder), time.Minute, nil)

	errs := make(chan error, 1)
	go func() {
		err := connB.handshake(context.Background(), 5*time.Second)
		if err == nil {
			go func() { _, _ = io.Copy(io.Discard, sb) }()
		}
		errs <- err
	}()
	require.NoError(t, connA.handshake(context.Background(), 5*time.Second))
	require.NoError(t, <-errs)

	// From here every stream write wedges. Outbound traffic piles onto
	// the writer goroutine; the heartbeat keeps its own clock and must
	// still disconnect the silent peer after three intervals.
	stalling.stall()
	connA.start()
	defer connA.Close()
	defer connB.Close()

	go func() {
		for i := 0; i < 8; i++ {
			_ = connA.Send([]byte("backed up"), wire.MessageTypeText)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := connA.Err(); err != nil {
			assert.ErrorIs(t, err, ErrPeerUnresponsive)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stalled write kept the heartbeat from disconnecting the silent peer")
}

func TestReconnectDelaySchedule(t *testing.T) {
	m := NewManager(Config{})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 7500 * time.Millisecond},
		{2, 11250 * time.Millisecond},
		{3, 16875 * time.Millisecond},
		{4, 25312500 * time.Microsecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.reconnectDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

// chanListener feeds pre-connected streams to a manager, standing in
// for a platform listener.
type chanListener struct {
	streams chan Stream
	addr    string
	once    sync.Once
	done    chan struct{}
}

func newChanListener(addr string) *chanListener {
	return &chanListener{
		streams: make(chan Stream, 4),
		addr:    addr,
		done:    make(chan struct{}),
	}
}

func (l *chanListener) Accept() (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-l.done:
		return nil, errors.New("listener closed")
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() string { return l.addr }

// pipeDialer hands the client end of a fresh pipe to the caller and the
// server end to a chanListener.
type pipeDialer struct {
	listener *chanListener
}

func (d *pipeDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	client, server := Pipe()
	select {
	case d.listener.streams <- server:
		return client, nil
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}

func TestManagerConnectAndExchange(t *testing.T) {
	listener := newChanListener("local")

	server := NewManager(Config{SessionConfig: session.NewConfig(2)})
	defer server.Close()
	require.NoError(t, server.Listen(listener))

	var states []ConnectionState
	var statesMu sync.Mutex
	client := NewManager(Config{
		Dialer:        &pipeDialer{listener: listener},
		SessionConfig: session.NewConfig(1),
	})
	defer client.Close()
	client.OnStateChange(func(addr string, st ConnectionState) {
		statesMu.Lock()
		states = append(states, st)
		statesMu.Unlock()
	})

	conn, err := client.Connect(context.Background(), "peer")
	require.NoError(t, err)
	require.NoError(t, conn.Send([]byte("through the managers"), wire.MessageTypeText))

	// Find the accepted connection on the server side.
	var serverConn *Conn
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && serverConn == nil {
		server.mu.Lock()
		for _, c := range server.conns {
			serverConn = c
		}
		server.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, serverConn, "server never registered the connection")

	select {
	case msg := <-serverConn.Messages():
		assert.Equal(t, []byte("through the managers"), msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message never crossed the managers")
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []ConnectionState{StateConnecting, StateConnected}, states)
}

func TestManagerConnectTimeout(t *testing.T) {
	m := NewManager(Config{
		Dialer:         &stallingDialer{},
		SessionConfig:  session.NewConfig(1),
		ConnectTimeout: 50 * time.Millisecond,
	})
	defer m.Close()

	_, err := m.Connect(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrConnectionTimeout)
}

type stallingDialer struct{}

func (d *stallingDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestManagerReconnectGivesUp(t *testing.T) {
	m := NewManager(Config{
		Dialer:               &failingDialer{},
		SessionConfig:        session.NewConfig(1),
		ConnectTimeout:       50 * time.Millisecond,
		ReconnectBaseDelay:   time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	defer m.Close()

	lost := make(chan error, 1)
	m.OnConnectionLost(func(addr string, err error) { lost <- err })

	var final ConnectionState
	var mu sync.Mutex
	m.OnStateChange(func(addr string, st ConnectionState) {
		mu.Lock()
		final = st
		mu.Unlock()
	})

	m.reconnect("gone", errors.New("stream reset"))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss never reported")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateError, final)
}

type failingDialer struct{}

func (d *failingDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	return nil, errors.New("no route")
}

func TestManagerClosedRejectsConnect(t *testing.T) {
	m := NewManager(Config{Dialer: &failingDialer{}})
	require.NoError(t, m.Close())

	_, err := m.Connect(context.Background(), "peer")
	assert.ErrorIs(t, err, ErrManagerClosed)

	// Close is idempotent.
	assert.NoError(t, m.Close())
}
