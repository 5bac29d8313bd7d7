package session

import (
	"time"

	"github.com/opd-ai/whisperlink/crypto"
)

// HandshakeMode selects how session keys are established.
type HandshakeMode uint8

const (
	// ModeEphemeral exchanges fresh X25519 public keys in the clear and
	// stretches the ECDH secret through PBKDF2. This is the default; it
	// requires no prior pairing state.
	ModeEphemeral HandshakeMode = 0x01

	// ModeNoiseIK runs the exchange inside a Noise-IK handshake using
	// pre-shared static identity keys, authenticating both peers against
	// their paired identities.
	ModeNoiseIK HandshakeMode = 0x02
)

// String returns the mode name for logging.
func (m HandshakeMode) String() string {
	switch m {
	case ModeEphemeral:
		return "ephemeral"
	case ModeNoiseIK:
		return "noise-ik"
	default:
		return "unknown"
	}
}

// Config holds per-session tunables. Zero values are filled in from the
// defaults below by NewSession.
type Config struct {
	// SenderID identifies this peer in outbound frame headers.
	SenderID uint32

	// Algorithm selects the AEAD. Both peers must configure the same
	// algorithm; the handshake rejects a mismatch.
	Algorithm crypto.Algorithm

	// Mode selects the handshake flavor.
	Mode HandshakeMode

	// LocalStaticKey is this peer's long-term identity key, required
	// for Noise-IK mode.
	LocalStaticKey *crypto.KeyPair

	// PeerStaticKey is the paired peer's identity public key, required
	// for the Noise-IK initiator.
	PeerStaticKey [32]byte

	// HandshakeTimeout bounds the wait for the peer's key exchange.
	HandshakeTimeout time.Duration

	// MaxAuthFailures is the consecutive authentication failure count
	// that forces the session to Error.
	MaxAuthFailures int

	// MaxSequenceViolations is the recurring replay/ordering violation
	// count that forces the session to Error.
	MaxSequenceViolations int

	// RotationPeriod triggers periodic key rotation. Zero disables
	// time-based rotation.
	RotationPeriod time.Duration

	// RotationMaxMessages triggers rotation after this many frames have
	// been sealed under one key. Zero disables count-based rotation.
	RotationMaxMessages uint64
}

// Defaults shared by NewConfig and NewSession.
const (
	DefaultHandshakeTimeout      = 30 * time.Second
	DefaultMaxAuthFailures       = 3
	DefaultMaxSequenceViolations = 10
	DefaultRotationPeriod        = time.Hour
	DefaultRotationMaxMessages   = 1 << 20
)

// NewConfig returns a Config with production defaults: AES-256-GCM,
// ephemeral handshake, 30s handshake timeout.
func NewConfig(senderID uint32) Config {
	return Config{
		SenderID:              senderID,
		Algorithm:             crypto.AlgorithmAESGCM,
		Mode:                  ModeEphemeral,
		HandshakeTimeout:      DefaultHandshakeTimeout,
		MaxAuthFailures:       DefaultMaxAuthFailures,
		MaxSequenceViolations: DefaultMaxSequenceViolations,
		RotationPeriod:        DefaultRotationPeriod,
		RotationMaxMessages:   DefaultRotationMaxMessages,
	}
}

// withDefaults fills in zero fields.
func (c Config) withDefaults() Config {
	if c.Algorithm == 0 {
		c.Algorithm = crypto.AlgorithmAESGCM
	}
	if c.Mode == 0 {
		c.Mode = ModeEphemeral
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxAuthFailures == 0 {
		c.MaxAuthFailures = DefaultMaxAuthFailures
	}
	if c.MaxSequenceViolations == 0 {
		c.MaxSequenceViolations = DefaultMaxSequenceViolations
	}
	return c
}
