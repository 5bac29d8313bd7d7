package whisperlink

import (
	"time"

	"github.com/opd-ai/whisperlink/crypto"
	"github.com/opd-ai/whisperlink/session"
	"github.com/opd-ai/whisperlink/transport"
)

// Options configures a Link.
type Options struct {
	// SenderID identifies this peer in frame headers. Required and
	// nonzero.
	SenderID uint32

	// Algorithm selects the AEAD for every session.
	Algorithm crypto.Algorithm

	// HandshakeMode selects how session keys are established.
	HandshakeMode session.HandshakeMode

	// StaticKey is this peer's long-term identity key, required for
	// Noise-IK mode.
	StaticKey *crypto.KeyPair

	// PeerStaticKey is the paired peer's identity public key, required
	// when dialing in Noise-IK mode.
	PeerStaticKey [32]byte

	// HandshakeTimeout bounds each key exchange.
	HandshakeTimeout time.Duration

	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the idle interval before a keepalive PING.
	HeartbeatInterval time.Duration

	// ReconnectBaseDelay, ReconnectFactor, and MaxReconnectAttempts
	// shape the redial backoff for dropped peers.
	ReconnectBaseDelay   time.Duration
	ReconnectFactor      float64
	MaxReconnectAttempts int

	// RotationPeriod and RotationMaxMessages bound how long one set of
	// session keys stays in use.
	RotationPeriod      time.Duration
	RotationMaxMessages uint64

	// Dialer opens outbound streams. Defaults to TCP over the OS
	// network stack.
	Dialer transport.Dialer
}

// NewOptions returns Options with production defaults: AES-256-GCM,
// ephemeral key exchange, 30 second connect timeout, 10 second
// heartbeat, reconnection at 5s intervals growing by half each attempt.
func NewOptions() *Options {
	return &Options{
		Algorithm:            crypto.AlgorithmAESGCM,
		HandshakeMode:        session.ModeEphemeral,
		HandshakeTimeout:     session.DefaultHandshakeTimeout,
		ConnectTimeout:       transport.DefaultConnectTimeout,
		HeartbeatInterval:    transport.DefaultHeartbeatInterval,
		ReconnectBaseDelay:   transport.DefaultReconnectBaseDelay,
		ReconnectFactor:      transport.DefaultReconnectFactor,
		MaxReconnectAttempts: transport.DefaultMaxReconnectAttempts,
		RotationPeriod:       session.DefaultRotationPeriod,
		RotationMaxMessages:  session.DefaultRotationMaxMessages,
		Dialer:               &transport.NetDialer{},
	}
}

// sessionConfig translates the options into per-session settings.
func (o *Options) sessionConfig() session.Config {
	return session.Config{
		SenderID:            o.SenderID,
		Algorithm:           o.Algorithm,
		Mode:                o.HandshakeMode,
		LocalStaticKey:      o.StaticKey,
		PeerStaticKey:       o.PeerStaticKey,
		HandshakeTimeout:    o.HandshakeTimeout,
		RotationPeriod:      o.RotationPeriod,
		RotationMaxMessages: o.RotationMaxMessages,
	}
}

// transportConfig translates the options into manager settings.
func (o *Options) transportConfig() transport.Config {
	return transport.Config{
		Dialer:               o.Dialer,
		SessionConfig:        o.sessionConfig(),
		ConnectTimeout:       o.ConnectTimeout,
		HeartbeatInterval:    o.HeartbeatInterval,
		ReconnectBaseDelay:   o.ReconnectBaseDelay,
		ReconnectFactor:      o.ReconnectFactor,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
	}
}
