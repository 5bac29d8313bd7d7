package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/crypto"
	"github.com/opd-ai/whisperlink/wire"
)

// ShouldRotate reports whether the current keys are due for rotation,
// either by age or by the number of frames sealed under them. The
// connection layer polls this and calls BeginRotation.
func (s *Session) ShouldRotate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished || s.keys == nil {
		return false
	}
	if s.cfg.RotationPeriod > 0 && time.Since(s.keys.CreatedAt) >= s.cfg.RotationPeriod {
		return true
	}
	if s.cfg.RotationMaxMessages > 0 && s.sealedCount >= s.cfg.RotationMaxMessages {
		return true
	}
	return false
}

// BeginRotation starts a key rotation exchange: a fresh ephemeral key
// and salt travel to the peer inside a KEY_ROTATION frame sealed under
// the current keys. The session queues outbound application traffic
// until the peer's answer completes the swap.
//
// Rotation always uses the ephemeral X25519 exchange; the encrypted
// channel already authenticates both peers, so Noise-IK adds nothing
// here.
func (s *Session) BeginRotation() (*wire.EncryptedFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished {
		return nil, fmt.Errorf("%w: BeginRotation in %s", ErrInvalidState, s.state)
	}

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		_ = crypto.WipeKeyPair(eph)
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	payload := &handshakePayload{
		algorithm:   s.cfg.Algorithm,
		mode:        ModeEphemeral,
		salt:        salt[:],
		keyMaterial: eph.Public[:],
	}

	frame, err := s.sealLocked(payload.encode(), wire.MessageTypeKeyRotation)
	if err != nil {
		_ = crypto.WipeKeyPair(eph)
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	s.eph = eph
	s.salt = salt
	s.state = StateRotating

	logrus.WithFields(logrus.Fields{
		"function": "BeginRotation",
		"peer_id":  s.peerID,
	}).Info("Key rotation started")

	return frame, nil
}

// handleRotationLocked processes a decrypted KEY_ROTATION payload: a
// salted request from the peer, or the peer's answer to a rotation we
// started. Any failure tears the session down; there is no fallback to
// the old keys.
func (s *Session) handleRotationLocked(plaintext []byte) (*Result, error) {
	payload, err := parseHandshakePayload(plaintext)
	if err != nil {
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}
	if payload.algorithm != s.cfg.Algorithm {
		return nil, s.failLocked(fmt.Errorf("%w: algorithm changed mid-session", ErrRotationFailed))
	}

	if len(payload.salt) == crypto.SaltSize {
		return s.respondRotationLocked(payload)
	}
	return s.completeRotationLocked(payload)
}

// respondRotationLocked answers a peer-initiated rotation request. When
// both peers started a rotation at once the lower sender ID wins: the
// higher side abandons its own attempt and answers the peer's, the
// lower side drops the peer's request and waits for its answer.
func (s *Session) respondRotationLocked(payload *handshakePayload) (*Result, error) {
	if s.state == StateRotating {
		if s.cfg.SenderID < s.peerID {
			logrus.WithFields(logrus.Fields{
				"function": "respondRotationLocked",
				"peer_id":  s.peerID,
			}).Debug("Concurrent rotation: keeping ours, dropping peer request")
			return &Result{Type: wire.MessageTypeKeyRotation}, nil
		}
		// Abandon our attempt; queued messages flush after the peer's
		// rotation lands.
		if s.eph != nil {
			_ = crypto.WipeKeyPair(s.eph)
			s.eph = nil
		}
	}

	var peerPub [32]byte
	if len(payload.keyMaterial) != 32 {
		return nil, s.failLocked(fmt.Errorf("%w: peer public key length %d", ErrRotationFailed, len(payload.keyMaterial)))
	}
	copy(peerPub[:], payload.keyMaterial)

	var salt [crypto.SaltSize]byte
	copy(salt[:], payload.salt)

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	shared, err := crypto.DeriveSharedSecret(peerPub, eph.Private)
	if err != nil {
		_ = crypto.WipeKeyPair(eph)
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}
	newKeys, err := crypto.DeriveSessionKeys(&shared, salt)
	if err != nil {
		_ = crypto.WipeKeyPair(eph)
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	// The answer is the last frame sealed under the old keys.
	answer := &handshakePayload{
		algorithm:   s.cfg.Algorithm,
		mode:        ModeEphemeral,
		keyMaterial: eph.Public[:],
	}
	reply, err := s.sealLocked(answer.encode(), wire.MessageTypeKeyRotation)
	_ = crypto.WipeKeyPair(eph)
	if err != nil {
		newKeys.Wipe()
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	replies := []*wire.EncryptedFrame{reply}
	if err := s.swapKeysLocked(newKeys); err != nil {
		return nil, err
	}
	flushed, err := s.flushPendingLocked()
	if err != nil {
		return nil, err
	}
	replies = append(replies, flushed...)

	return &Result{Type: wire.MessageTypeKeyRotation, Replies: replies}, nil
}

// completeRotationLocked finishes a rotation we started, using the
// peer's answer.
func (s *Session) completeRotationLocked(payload *handshakePayload) (*Result, error) {
	if s.state != StateRotating || s.eph == nil {
		s.countViolationLocked()
		return nil, fmt.Errorf("%w: unexpected rotation answer", ErrInvalidState)
	}

	var peerPub [32]byte
	if len(payload.keyMaterial) != 32 {
		return nil, s.failLocked(fmt.Errorf("%w: peer public key length %d", ErrRotationFailed, len(payload.keyMaterial)))
	}
	copy(peerPub[:], payload.keyMaterial)

	shared, err := crypto.DeriveSharedSecret(peerPub, s.eph.Private)
	if err != nil {
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}
	newKeys, err := crypto.DeriveSessionKeys(&shared, s.salt)
	if err != nil {
		return nil, s.failLocked(fmt.Errorf("%w: %v", ErrRotationFailed, err))
	}

	_ = crypto.WipeKeyPair(s.eph)
	s.eph = nil

	if err := s.swapKeysLocked(newKeys); err != nil {
		return nil, err
	}
	flushed, err := s.flushPendingLocked()
	if err != nil {
		return nil, err
	}

	return &Result{Type: wire.MessageTypeKeyRotation, Replies: flushed}, nil
}

// swapKeysLocked atomically replaces the session keys and resets both
// sequence counters. Held under the session lock, so no encrypt or
// decrypt can observe a torn key.
func (s *Session) swapKeysLocked(newKeys *crypto.SessionKeys) error {
	s.installKeysLocked(newKeys)
	s.localSeq = 0
	s.remoteSeq = 0
	s.sealedCount = 0
	s.state = StateEstablished

	logrus.WithFields(logrus.Fields{
		"function": "swapKeysLocked",
		"peer_id":  s.peerID,
	}).Info("Session keys rotated")

	return nil
}

// flushPendingLocked seals the messages queued during rotation under the
// new keys, preserving their order.
func (s *Session) flushPendingLocked() ([]*wire.EncryptedFrame, error) {
	if len(s.pending) == 0 {
		return nil, nil
	}

	frames := make([]*wire.EncryptedFrame, 0, len(s.pending))
	for _, msg := range s.pending {
		frame, err := s.sealLocked(msg.payload, msg.messageType)
		if err != nil {
			return nil, s.failLocked(fmt.Errorf("%w: flushing queue: %v", ErrRotationFailed, err))
		}
		frames = append(frames, frame)
	}

	logrus.WithFields(logrus.Fields{
		"function": "flushPendingLocked",
		"flushed":  len(frames),
	}).Debug("Queued messages flushed under rotated keys")

	s.pending = nil
	return frames, nil
}
