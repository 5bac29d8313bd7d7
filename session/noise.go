package session

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/whisperlink/crypto"
)

// noiseHandshake wraps a Noise-IK handshake between two paired peers.
// The IK pattern authenticates both static identity keys and encrypts
// the handshake payloads, which here carry each side's random key seed.
// Session keys are derived from both seeds, so neither an eavesdropper
// nor a peer impersonating one identity can reconstruct them.
type noiseHandshake struct {
	hs        *noise.HandshakeState
	initiator bool
	localSeed [32]byte
	peerSeed  [32]byte
	completed bool
}

// newNoiseHandshake builds the handshake state for one exchange. The
// responder does not need the peer's static key up front; IK reveals the
// initiator's identity in the first message.
func newNoiseHandshake(initiator bool, localStatic *crypto.KeyPair, peerStatic [32]byte) (*noiseHandshake, error) {
	if localStatic == nil {
		return nil, errors.New("noise-ik requires a local static identity key")
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	cfg := noise.Config{
		CipherSuite: cs,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: localStatic.Private[:],
			Public:  localStatic.Public[:],
		},
	}
	if initiator {
		cfg.PeerStatic = peerStatic[:]
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("noise handshake state: %w", err)
	}

	return &noiseHandshake{hs: hs, initiator: initiator}, nil
}

// writeMessage produces the next outbound Noise message, carrying this
// side's freshly drawn key seed as the encrypted payload.
func (n *noiseHandshake) writeMessage() ([]byte, error) {
	if n.completed {
		return nil, errors.New("noise handshake already completed")
	}
	if _, err := rand.Read(n.localSeed[:]); err != nil {
		return nil, fmt.Errorf("noise seed generation: %w", err)
	}

	msg, cs1, cs2, err := n.hs.WriteMessage(nil, n.localSeed[:])
	if err != nil {
		return nil, fmt.Errorf("noise write: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		n.completed = true
	}
	return msg, nil
}

// readPeerMessage consumes the peer's Noise message and captures its key
// seed.
func (n *noiseHandshake) readPeerMessage(message []byte) error {
	if n.completed {
		return errors.New("noise handshake already completed")
	}

	payload, cs1, cs2, err := n.hs.ReadMessage(nil, message)
	if err != nil {
		return fmt.Errorf("noise read: %w", err)
	}
	if len(payload) != len(n.peerSeed) {
		return fmt.Errorf("noise payload length %d, want %d", len(payload), len(n.peerSeed))
	}
	copy(n.peerSeed[:], payload)
	crypto.ZeroBytes(payload)

	if cs1 != nil && cs2 != nil {
		n.completed = true
	}
	return nil
}

// sharedSecret combines both seeds, initiator first, and wipes them.
// Only valid after the handshake completed.
func (n *noiseHandshake) sharedSecret() ([32]byte, error) {
	if !n.completed {
		return [32]byte{}, errors.New("noise handshake not completed")
	}

	h := sha256.New()
	if n.initiator {
		h.Write(n.localSeed[:])
		h.Write(n.peerSeed[:])
	} else {
		h.Write(n.peerSeed[:])
		h.Write(n.localSeed[:])
	}

	var secret [32]byte
	copy(secret[:], h.Sum(nil))

	crypto.ZeroBytes(n.localSeed[:])
	crypto.ZeroBytes(n.peerSeed[:])

	return secret, nil
}

// channelBinding returns the Noise handshake hash, a public transcript
// digest both sides agree on.
func (n *noiseHandshake) channelBinding() []byte {
	return n.hs.ChannelBinding()
}

// deriveNoiseLocked advances the Noise-IK exchange with the peer's
// handshake key material and derives session keys once complete. The
// responder returns its answer message.
func (s *Session) deriveNoiseLocked(peerKeyMaterial []byte, responding bool) ([]byte, error) {
	if responding && s.noise == nil {
		nh, err := newNoiseHandshake(false, s.cfg.LocalStaticKey, [32]byte{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		s.noise = nh
	}
	if s.noise == nil {
		return nil, fmt.Errorf("%w: no noise handshake in progress", ErrHandshakeFailed)
	}

	if err := s.noise.readPeerMessage(peerKeyMaterial); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	var reply []byte
	if responding {
		msg, err := s.noise.writeMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		reply = msg
	}

	if !s.noise.completed {
		return nil, fmt.Errorf("%w: noise handshake incomplete after exchange", ErrHandshakeFailed)
	}

	secret, err := s.noise.sharedSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	keys, err := crypto.DeriveSessionKeys(&secret, s.salt)
	if err != nil {
		return nil, err
	}

	s.transcript = append(append([]byte(nil), s.salt[:]...), s.noise.channelBinding()...)
	s.installKeysLocked(keys)

	return reply, nil
}
