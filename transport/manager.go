package transport

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/session"
)

// Defaults for the manager's timing knobs.
const (
	DefaultConnectTimeout       = 30 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectFactor      = 1.5
	DefaultMaxReconnectAttempts = 5
)

// Config holds the manager's tunables. Zero fields take the defaults
// above.
type Config struct {
	// Dialer opens outbound streams. Required for Connect.
	Dialer Dialer

	// SessionConfig seeds every session the manager creates. The role
	// is set per connection.
	SessionConfig session.Config

	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the idle interval before a PING.
	HeartbeatInterval time.Duration

	// ReconnectBaseDelay is the wait before the first redial.
	ReconnectBaseDelay time.Duration

	// ReconnectFactor multiplies the delay after each failed redial.
	ReconnectFactor float64

	// MaxReconnectAttempts is how many redials run before the peer is
	// declared lost.
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectFactor == 0 {
		c.ReconnectFactor = DefaultReconnectFactor
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return c
}

// Manager owns every peer connection: it dials, accepts, hands streams
// to sessions, and redials peers that drop.
type Manager struct {
	cfg   Config
	guard *session.HandshakeGuard

	mu       sync.Mutex
	conns    map[string]*Conn
	listener Listener
	stateCb  StateCallback
	lostCb   func(addr string, err error)
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. Call Connect or Listen to put it to
// work, Close to tear everything down.
func NewManager(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg.withDefaults(),
		guard:  session.NewHandshakeGuard(),
		conns:  make(map[string]*Conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnStateChange installs the connection state observer. Install before
// Connect or Listen; transitions are not replayed.
func (m *Manager) OnStateChange(cb StateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCb = cb
}

// OnConnectionLost installs the observer for peers whose reconnection
// attempts were exhausted.
func (m *Manager) OnConnectionLost(cb func(addr string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostCb = cb
}

func (m *Manager) notifyState(addr string, state ConnectionState) {
	m.mu.Lock()
	cb := m.stateCb
	m.mu.Unlock()
	if cb != nil {
		cb(addr, state)
	}
}

// Connect dials a peer, runs the handshake, and starts the frame pumps.
// The whole sequence is bounded by ConnectTimeout. A connection that
// later drops unexpectedly is redialed with exponential backoff.
func (m *Manager) Connect(ctx context.Context, addr string) (*Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if existing, ok := m.conns[addr]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	m.notifyState(addr, StateConnecting)

	conn, err := m.dialAndHandshake(ctx, addr)
	if err != nil {
		m.notifyState(addr, StateDisconnected)
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrManagerClosed
	}
	m.conns[addr] = conn
	m.mu.Unlock()

	conn.start()
	m.notifyState(addr, StateConnected)
	return conn, nil
}

// dialAndHandshake performs one dial plus handshake attempt.
func (m *Manager) dialAndHandshake(ctx context.Context, addr string) (*Conn, error) {
	if m.cfg.Dialer == nil {
		return nil, fmt.Errorf("manager has no dialer configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	stream, err := m.cfg.Dialer.Dial(dialCtx, addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, fmt.Errorf("%w: dialing %s", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	sess := session.NewSession(m.cfg.SessionConfig, session.RoleInitiator)
	conn := newConn(addr, stream, sess, m.cfg.HeartbeatInterval, m.connectionClosed)

	if err := conn.handshake(dialCtx, m.cfg.ConnectTimeout); err != nil {
		_ = stream.Close()
		sess.Close()
		return nil, err
	}
	return conn, nil
}

// Listen accepts inbound streams until the listener or manager closes.
// Each accepted stream gets a responder session sharing the manager's
// handshake replay guard.
func (m *Manager) Listen(listener Listener) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.listener = listener
	m.mu.Unlock()

	m.notifyState(listener.Addr(), StateListening)

	m.wg.Add(1)
	go m.acceptLoop(listener)
	return nil
}

func (m *Manager) acceptLoop(listener Listener) {
	defer m.wg.Done()

	for {
		stream, err := listener.Accept()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed, listener stopping")
			return
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.acceptOne(stream)
		}()
	}
}

// acceptOne runs the responder side of the handshake for one inbound
// stream and registers the connection on success.
func (m *Manager) acceptOne(stream Stream) {
	sess := session.NewSession(m.cfg.SessionConfig, session.RoleResponder)
	sess.SetHandshakeGuard(m.guard)

	conn := newConn(m.streamAddr(stream), stream, sess, m.cfg.HeartbeatInterval, m.acceptedClosed)

	if err := conn.handshake(m.ctx, m.cfg.ConnectTimeout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "acceptOne",
			"error":    err.Error(),
		}).Warn("Inbound handshake failed")
		_ = stream.Close()
		sess.Close()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conns[conn.addr] = conn
	m.mu.Unlock()

	conn.start()
	m.notifyState(conn.addr, StateConnected)
}

func (m *Manager) streamAddr(stream Stream) string {
	if ra, ok := stream.(interface{ RemoteAddr() net.Addr }); ok {
		return ra.RemoteAddr().String()
	}
	return fmt.Sprintf("inbound-%p", stream)
}

// Conn returns the live connection for an address, if any.
func (m *Manager) Conn(addr string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[addr]
	return conn, ok
}

// connectionClosed handles a dialed connection's death. Deliberate
// closes just deregister; unexpected ones trigger the reconnection
// policy.
func (m *Manager) connectionClosed(c *Conn, err error) {
	m.deregister(c)

	if err == nil {
		m.notifyState(c.addr, StateDisconnected)
		return
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconnect(c.addr, err)
	}()
}

// acceptedClosed handles an accepted connection's death. The dialing
// side owns reconnection, so the responder only deregisters.
func (m *Manager) acceptedClosed(c *Conn, err error) {
	m.deregister(c)
	m.notifyState(c.addr, StateDisconnected)
}

func (m *Manager) deregister(c *Conn) {
	m.mu.Lock()
	if m.conns[c.addr] == c {
		delete(m.conns, c.addr)
	}
	m.mu.Unlock()
}

// reconnect redials a dropped peer with exponential backoff and a full
// fresh handshake per attempt. Exhausting the attempts reports the peer
// lost.
func (m *Manager) reconnect(addr string, cause error) {
	m.notifyState(addr, StateConnecting)

	for attempt := 0; attempt < m.cfg.MaxReconnectAttempts; attempt++ {
		delay := m.reconnectDelay(attempt)

		logrus.WithFields(logrus.Fields{
			"function": "reconnect",
			"addr":     addr,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
		}).Info("Scheduling reconnection attempt")

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := m.dialAndHandshake(m.ctx, addr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "reconnect",
				"addr":     addr,
				"attempt":  attempt + 1,
				"error":    err.Error(),
			}).Warn("Reconnection attempt failed")
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conns[addr] = conn
		m.mu.Unlock()

		conn.start()
		m.notifyState(addr, StateConnected)
		return
	}

	m.notifyState(addr, StateError)

	m.mu.Lock()
	lostCb := m.lostCb
	m.mu.Unlock()
	if lostCb != nil {
		lostCb(addr, fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	}
}

// reconnectDelay returns the backoff before a given zero-based attempt:
// base, base*factor, base*factor^2, and so on.
func (m *Manager) reconnectDelay(attempt int) time.Duration {
	scale := math.Pow(m.cfg.ReconnectFactor, float64(attempt))
	return time.Duration(float64(m.cfg.ReconnectBaseDelay) * scale)
}

// Close shuts down the listener and every connection, wiping all key
// material before returning.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listener := m.listener
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	m.cancel()
	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	m.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function":    "Close",
		"connections": len(conns),
	}).Info("Connection manager closed")
	return nil
}
