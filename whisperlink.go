package whisperlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/audio"
	"github.com/opd-ai/whisperlink/transport"
	"github.com/opd-ai/whisperlink/wire"
)

// Message type aliases so callers need not import the wire package for
// the common cases.
const (
	MessageTypeText  = wire.MessageTypeText
	MessageTypeVoice = wire.MessageTypeVoice
)

// ErrNotConnected means no live connection exists to the named peer.
var ErrNotConnected = errors.New("not connected to peer")

// Link is the application-facing entry point: one Link per local
// identity, holding every encrypted peer connection.
type Link struct {
	opts  *Options
	mgr   *transport.Manager
	voice *audio.Decoder
}

// New creates a Link from the given options. Nil options use the
// defaults, which still require a SenderID.
func New(opts *Options) (*Link, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.SenderID == 0 {
		return nil, fmt.Errorf("options require a nonzero SenderID")
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"sender_id": opts.SenderID,
		"algorithm": opts.Algorithm.String(),
		"mode":      opts.HandshakeMode.String(),
	}).Info("Creating link")

	return &Link{
		opts:  opts,
		mgr:   transport.NewManager(opts.transportConfig()),
		voice: audio.NewDecoder(),
	}, nil
}

// Connect establishes an encrypted session to a peer address. Safe to
// call for an already connected peer.
func (l *Link) Connect(ctx context.Context, addr string) error {
	_, err := l.mgr.Connect(ctx, addr)
	return err
}

// Listen accepts inbound connections on a TCP address until Close.
func (l *Link) Listen(addr string) error {
	listener, err := transport.ListenNet("tcp", addr)
	if err != nil {
		return err
	}
	return l.mgr.Listen(listener)
}

// ListenOn accepts inbound connections from a caller-supplied listener,
// for platforms with their own link layer.
func (l *Link) ListenOn(listener transport.Listener) error {
	return l.mgr.Listen(listener)
}

// SendMessage encrypts and sends an application payload to a connected
// peer.
func (l *Link) SendMessage(addr string, payload []byte, messageType wire.MessageType) error {
	conn, ok := l.mgr.Conn(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return conn.Send(payload, messageType)
}

// SendText sends a UTF-8 text message.
func (l *Link) SendText(addr, text string) error {
	return l.SendMessage(addr, []byte(text), wire.MessageTypeText)
}

// SendVoice sends one encoded voice payload.
func (l *Link) SendVoice(addr string, payload []byte) error {
	if err := audio.ValidatePayload(payload); err != nil {
		return err
	}
	return l.SendMessage(addr, payload, wire.MessageTypeVoice)
}

// Messages returns the decrypted inbound payload channel for a peer.
// The channel closes when the connection dies.
func (l *Link) Messages(addr string) (<-chan transport.Message, error) {
	conn, ok := l.mgr.Conn(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return conn.Messages(), nil
}

// DecodeVoice decodes a received VOICE payload into PCM samples.
func (l *Link) DecodeVoice(payload []byte) (*audio.Frame, error) {
	return l.voice.Decode(payload)
}

// OnConnectionState installs the observer for per-peer connection state
// transitions. Install before Connect or Listen.
func (l *Link) OnConnectionState(cb transport.StateCallback) {
	l.mgr.OnStateChange(cb)
}

// OnConnectionLost installs the observer for peers whose reconnection
// attempts were exhausted.
func (l *Link) OnConnectionLost(cb func(addr string, err error)) {
	l.mgr.OnConnectionLost(cb)
}

// Disconnect closes the connection to one peer without reconnecting.
func (l *Link) Disconnect(addr string) error {
	conn, ok := l.mgr.Conn(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return conn.Close()
}

// Close shuts down every connection and the listener, wiping all key
// material before returning.
func (l *Link) Close() error {
	return l.mgr.Close()
}
