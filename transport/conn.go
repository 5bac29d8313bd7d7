package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/session"
	"github.com/opd-ai/whisperlink/wire"
)

// Message is one decrypted application payload delivered by a
// connection.
type Message struct {
	Type    wire.MessageType
	Payload []byte
}

// Conn is one encrypted peer connection: a stream, the session guarding
// it, and the goroutines pumping frames through both. Obtain one from a
// Manager; direct construction is for tests.
type Conn struct {
	addr   string
	stream Stream
	sess   *session.Session

	heartbeat time.Duration
	messages  chan Message

	// outbound is drained by a dedicated writer goroutine, so a
	// stalled stream write never blocks the read or heartbeat loops.
	outbound chan *wire.EncryptedFrame

	// sendMu keeps sealing and enqueueing atomic, preserving sequence
	// order across concurrent Send callers.
	sendMu sync.Mutex

	mu       sync.Mutex
	lastRead time.Time
	closeErr error
	closed   bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	// onClose fires exactly once when the connection dies. A nil error
	// means a deliberate local Close.
	onClose func(c *Conn, err error)
}

func newConn(addr string, stream Stream, sess *session.Session, heartbeat time.Duration, onClose func(*Conn, error)) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		addr:      addr,
		stream:    stream,
		sess:      sess,
		heartbeat: heartbeat,
		messages:  make(chan Message, 64),
		outbound:  make(chan *wire.EncryptedFrame, 64),
		lastRead:  time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		onClose:   onClose,
	}
}

// Addr returns the peer address the connection was dialed to or
// accepted from.
func (c *Conn) Addr() string { return c.addr }

// Session exposes the underlying session for state inspection.
func (c *Conn) Session() *session.Session { return c.sess }

// Messages returns the channel of decrypted inbound payloads. The
// channel closes when the connection dies.
func (c *Conn) Messages() <-chan Message { return c.messages }

// Err returns the error that closed the connection, nil for a local
// Close or while the connection is still live.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// handshake drives the session key exchange over the stream. It blocks
// until the session is established, the deadline passes, or the
// exchange fails.
func (c *Conn) handshake(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.stream.SetReadDeadline(deadline); err != nil {
		return err
	}

	first, err := c.sess.StartHandshake()
	if err != nil {
		return err
	}
	if first != nil {
		if err := c.writeFrame(first); err != nil {
			return err
		}
	}

	for {
		frame, err := wire.ReadFrame(c.stream)
		if err != nil {
			if c.sess.HandshakeExpired() || time.Now().After(deadline) {
				return fmt.Errorf("%w: handshake with %s", ErrConnectionTimeout, c.addr)
			}
			return fmt.Errorf("handshake read: %w", err)
		}

		res, err := c.sess.HandleFrame(frame)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrHandshakeFailed, err)
		}
		for _, reply := range res.Replies {
			if err := c.writeFrame(reply); err != nil {
				return err
			}
		}
		if res.Established {
			break
		}
	}

	// Clear the handshake deadline; the read loop blocks indefinitely
	// and the heartbeat goroutine owns liveness from here.
	if err := c.stream.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastRead = time.Now()
	c.mu.Unlock()
	return nil
}

// start launches the read, write, and heartbeat goroutines. Call after
// a successful handshake.
func (c *Conn) start() {
	c.wg.Add(3)
	go c.readLoop()
	go c.writeLoop()
	go c.heartbeatLoop()
}

// Send seals a payload and queues it for the writer goroutine. A nil
// error with the session mid-rotation means the message was queued in
// the session and will flush with the rotation.
func (c *Conn) Send(payload []byte, messageType wire.MessageType) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	frame, err := c.sess.EncryptMessage(payload, messageType)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	return c.enqueueFrame(frame)
}

// writeFrame writes directly to the stream. Only the handshake uses it,
// before the writer goroutine exists.
func (c *Conn) writeFrame(frame *wire.EncryptedFrame) error {
	return wire.WriteFrame(c.stream, frame)
}

// enqueueFrame hands a sealed frame to the writer goroutine, blocking
// when the queue is full until the writer drains it or the connection
// dies.
func (c *Conn) enqueueFrame(frame *wire.EncryptedFrame) error {
	select {
	case c.outbound <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// tryEnqueueFrame is the non-blocking variant for the heartbeat loop,
// which must stay responsive even when a stalled write has backed the
// queue up.
func (c *Conn) tryEnqueueFrame(frame *wire.EncryptedFrame) bool {
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

// writeLoop is the single stream writer, draining the outbound queue in
// order.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbound:
			if err := wire.WriteFrame(c.stream, frame); err != nil {
				c.teardown(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop pulls frames off the stream, feeds them through the session,
// writes any protocol replies, and delivers decrypted payloads.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		frame, err := wire.ReadFrame(c.stream)
		if err != nil {
			c.teardown(err)
			return
		}

		c.mu.Lock()
		c.lastRead = time.Now()
		c.mu.Unlock()

		res, err := c.sess.HandleFrame(frame)
		if err != nil {
			if st := c.sess.State(); st.Terminal() {
				c.teardown(err)
				return
			}
			// Dropped frame; the session survived.
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"addr":     c.addr,
				"error":    err.Error(),
			}).Warn("Inbound frame dropped")
			continue
		}

		for _, reply := range res.Replies {
			if err := c.enqueueFrame(reply); err != nil {
				return
			}
		}

		if res.Deliver {
			select {
			case c.messages <- Message{Type: res.Type, Payload: res.Payload}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// heartbeatLoop sends a PING after an idle interval, tears the
// connection down after three silent intervals, and starts key
// rotations when the session is due.
func (c *Conn) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastRead)
			c.mu.Unlock()

			if idle >= 3*c.heartbeat {
				c.teardown(fmt.Errorf("%w: silent for %s", ErrPeerUnresponsive, idle.Round(time.Second)))
				return
			}
			if idle >= c.heartbeat {
				if !c.sendPing() {
					return
				}
			}

			// Start a rotation only while the queue has room; a full
			// queue means the writer is busy or stalled, and the next
			// tick retries.
			if c.sess.ShouldRotate() && len(c.outbound) < cap(c.outbound) {
				frame, err := c.sess.BeginRotation()
				if err != nil {
					c.teardown(err)
					return
				}
				if !c.tryEnqueueFrame(frame) {
					c.teardown(fmt.Errorf("%w: rotation frame dropped by a backed-up writer", ErrConnClosed))
					return
				}
			}
		}
	}
}

// sendPing seals a PING frame and offers it to the writer, never
// blocking: a Send stalled on a full queue holds sendMu, and a full
// queue drops the ping. Either way the peer is hearing from us or the
// stream is stalled, and liveness teardown covers the latter. Returns
// false when the loop must exit.
func (c *Conn) sendPing() bool {
	if !c.sendMu.TryLock() {
		return true
	}
	frame, err := c.sess.EncryptMessage(nil, wire.MessageTypePing)
	c.sendMu.Unlock()
	if err != nil {
		c.teardown(err)
		return false
	}
	if frame != nil {
		c.tryEnqueueFrame(frame)
	}
	return true
}

// Close shuts the connection down deliberately: no reconnection, key
// material wiped before return.
func (c *Conn) Close() error {
	c.teardown(nil)
	c.wg.Wait()
	return nil
}

// teardown closes the stream and session exactly once and reports the
// cause to the owner.
func (c *Conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = err
		c.mu.Unlock()

		c.cancel()
		_ = c.stream.Close()
		c.sess.Close()

		logrus.WithFields(logrus.Fields{
			"function":   "teardown",
			"addr":       c.addr,
			"deliberate": err == nil,
		}).Info("Connection closed")

		if c.onClose != nil {
			c.onClose(c, err)
		}
	})
}
