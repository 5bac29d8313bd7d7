package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/whisperlink/crypto"
	"github.com/opd-ai/whisperlink/limits"
	"github.com/opd-ai/whisperlink/wire"
)

// Result is the outcome of feeding one inbound frame to the session.
type Result struct {
	// Type is the frame's message type.
	Type wire.MessageType

	// Payload is the decrypted application payload when Deliver is set.
	Payload []byte

	// Deliver reports whether Payload should be handed to the
	// application.
	Deliver bool

	// Replies are frames the connection layer must write back, in
	// order: handshake responses, key confirmations, rotation replies,
	// and application traffic flushed after a rotation.
	Replies []*wire.EncryptedFrame

	// Established is set on the call that completed the handshake.
	Established bool
}

// pendingMessage is an outbound application message queued while a key
// rotation is in flight.
type pendingMessage struct {
	messageType wire.MessageType
	payload     []byte
}

// Session owns the cryptographic state of one peer connection. All
// methods are safe for concurrent use; key rotation is atomic with
// respect to concurrent encrypt and decrypt calls.
type Session struct {
	mu   sync.Mutex
	cfg  Config
	role Role

	state  State
	keys   *crypto.SessionKeys
	peerID uint32

	// Per-direction sequence counters. localSeq is the last sequence
	// number sealed; remoteSeq the last accepted.
	localSeq  uint64
	remoteSeq uint64

	authFailures  int
	seqViolations int
	sealedCount   uint64

	// Handshake-phase state, wiped after establishment.
	handshakeStarted time.Time
	eph              *crypto.KeyPair
	salt             [crypto.SaltSize]byte
	noise            *noiseHandshake
	transcript       []byte
	confirmed        bool

	guard   *HandshakeGuard
	pending []pendingMessage
	lastErr error
}

// NewSession creates a session in the Idle state.
func NewSession(cfg Config, role Role) *Session {
	return &Session{
		cfg:   cfg.withDefaults(),
		role:  role,
		state: StateIdle,
	}
}

// SetHandshakeGuard installs a replay guard consulted for inbound
// handshake salts. Typically one guard is shared across all sessions of
// a listener.
func (s *Session) SetHandshakeGuard(g *HandshakeGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the sender ID observed in the peer's frames.
func (s *Session) PeerID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// AuthFailures returns the current consecutive authentication failure
// count. Diagnostic only.
func (s *Session) AuthFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailures
}

// LastError returns the error that moved the session to StateError.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// HandshakeExpired reports whether the handshake deadline passed without
// establishment. The connection layer polls this and tears down the
// attempt.
func (s *Session) HandshakeExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHandshaking {
		return false
	}
	return time.Since(s.handshakeStarted) > s.cfg.HandshakeTimeout
}

// StartHandshake moves Idle to Handshaking and returns the first
// handshake frame to send. Only the initiator produces a frame
// immediately; the responder waits for the initiator's hello.
func (s *Session) StartHandshake() (*wire.EncryptedFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: StartHandshake in %s", ErrInvalidState, s.state)
	}
	s.state = StateHandshaking
	s.handshakeStarted = time.Now()

	logrus.WithFields(logrus.Fields{
		"function": "StartHandshake",
		"role":     s.role.String(),
		"mode":     s.cfg.Mode.String(),
	}).Info("Handshake started")

	if s.role != RoleInitiator {
		return nil, nil
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, s.failLocked(err)
	}
	s.salt = salt

	keyMaterial, err := s.localHandshakeKeyLocked()
	if err != nil {
		return nil, s.failLocked(err)
	}

	payload := &handshakePayload{
		algorithm:   s.cfg.Algorithm,
		mode:        s.cfg.Mode,
		salt:        salt[:],
		keyMaterial: keyMaterial,
	}
	return plaintextFrame(wire.MessageTypeHandshake, s.cfg.SenderID, payload.encode()), nil
}

// localHandshakeKeyLocked produces this side's handshake key material:
// a fresh ephemeral public key, or the first/next Noise message.
func (s *Session) localHandshakeKeyLocked() ([]byte, error) {
	switch s.cfg.Mode {
	case ModeEphemeral:
		eph, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.eph = eph
		return eph.Public[:], nil

	case ModeNoiseIK:
		nh, err := newNoiseHandshake(s.role == RoleInitiator, s.cfg.LocalStaticKey, s.cfg.PeerStaticKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		s.noise = nh
		// The initiator's first Noise message carries its secret key
		// seed, encrypted to the peer's static key by the IK pattern.
		return nh.writeMessage()

	default:
		return nil, fmt.Errorf("%w: mode %s", ErrHandshakeFailed, s.cfg.Mode)
	}
}

// HandleFrame feeds one decoded inbound frame through the state machine.
// Non-nil errors with an intact session state mean the frame was dropped
// (replay, tamper, malformed); callers detect fatal outcomes by checking
// State() afterwards or matching the threshold errors.
func (s *Session) HandleFrame(frame *wire.EncryptedFrame) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil, ErrSessionClosed
	}

	if frame.Header.Version != wire.ProtocolVersion {
		return nil, s.failLocked(fmt.Errorf("%w: got %d, want %d",
			ErrVersionMismatch, frame.Header.Version, wire.ProtocolVersion))
	}
	if !frame.Header.Type.Valid() {
		s.countViolationLocked()
		return nil, fmt.Errorf("%w: unknown message type 0x%04x", wire.ErrMalformedFrame, uint16(frame.Header.Type))
	}

	if frame.Header.Type == wire.MessageTypeHandshake {
		return s.handleHandshakeLocked(frame)
	}
	return s.handleEncryptedLocked(frame)
}

// handleHandshakeLocked processes a cleartext HANDSHAKE frame.
func (s *Session) handleHandshakeLocked(frame *wire.EncryptedFrame) (*Result, error) {
	if s.state != StateHandshaking {
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshakeLocked",
			"state":    s.state.String(),
		}).Warn("Dropping unexpected handshake frame")
		s.countViolationLocked()
		return nil, fmt.Errorf("%w: handshake frame in %s", ErrInvalidState, s.state)
	}

	payload, err := parseHandshakePayload(frame.Ciphertext)
	if err != nil {
		return nil, s.failLocked(err)
	}
	if payload.algorithm != s.cfg.Algorithm {
		return nil, s.failLocked(fmt.Errorf("%w: peer offered %s, local %s",
			crypto.ErrUnsupportedAlgorithm, payload.algorithm, s.cfg.Algorithm))
	}
	if payload.mode != s.cfg.Mode {
		return nil, s.failLocked(fmt.Errorf("%w: peer mode %s, local %s",
			ErrHandshakeFailed, payload.mode, s.cfg.Mode))
	}

	s.peerID = frame.Header.SenderID

	if s.role == RoleResponder {
		return s.respondHandshakeLocked(payload)
	}
	return s.finishHandshakeLocked(payload)
}

// respondHandshakeLocked handles the initiator's hello on the accepting
// side: derive keys, answer with our own key material, and expect the
// initiator's key confirmation as the first encrypted frame.
func (s *Session) respondHandshakeLocked(payload *handshakePayload) (*Result, error) {
	if len(payload.salt) != crypto.SaltSize {
		return nil, s.failLocked(fmt.Errorf("%w: initiator sent no salt", ErrHandshakeFailed))
	}
	copy(s.salt[:], payload.salt)

	if s.guard != nil && !s.guard.CheckAndStore(s.salt) {
		return nil, s.failLocked(ErrHandshakeReplay)
	}

	keyMaterial, err := s.deriveKeysLocked(payload.keyMaterial, true)
	if err != nil {
		return nil, s.failLocked(err)
	}

	reply := &handshakePayload{
		algorithm:   s.cfg.Algorithm,
		mode:        s.cfg.Mode,
		keyMaterial: keyMaterial,
	}

	s.establishLocked()
	s.confirmed = false // wait for the initiator's ACK

	return &Result{
		Type:        wire.MessageTypeHandshake,
		Replies:     []*wire.EncryptedFrame{plaintextFrame(wire.MessageTypeHandshake, s.cfg.SenderID, reply.encode())},
		Established: true,
	}, nil
}

// finishHandshakeLocked handles the responder's answer on the dialing
// side and emits the key-confirmation ACK.
func (s *Session) finishHandshakeLocked(payload *handshakePayload) (*Result, error) {
	if _, err := s.deriveKeysLocked(payload.keyMaterial, false); err != nil {
		return nil, s.failLocked(err)
	}

	s.establishLocked()
	s.confirmed = true

	confirm := computeKeyConfirmation(s.keys.AuthKey, s.transcript)
	ack, err := s.sealLocked(confirm, wire.MessageTypeAck)
	if err != nil {
		return nil, s.failLocked(err)
	}

	return &Result{
		Type:        wire.MessageTypeHandshake,
		Replies:     []*wire.EncryptedFrame{ack},
		Established: true,
	}, nil
}

// deriveKeysLocked turns the peer's handshake key material into fresh
// session keys. For the responder it also returns the key material to
// send back. All intermediate secrets are wiped before returning.
func (s *Session) deriveKeysLocked(peerKeyMaterial []byte, responding bool) ([]byte, error) {
	switch s.cfg.Mode {
	case ModeEphemeral:
		return s.deriveEphemeralLocked(peerKeyMaterial, responding)
	case ModeNoiseIK:
		return s.deriveNoiseLocked(peerKeyMaterial, responding)
	default:
		return nil, fmt.Errorf("%w: mode %s", ErrHandshakeFailed, s.cfg.Mode)
	}
}

func (s *Session) deriveEphemeralLocked(peerKeyMaterial []byte, responding bool) ([]byte, error) {
	if len(peerKeyMaterial) != 32 {
		return nil, fmt.Errorf("%w: peer public key length %d", ErrHandshakeFailed, len(peerKeyMaterial))
	}
	var peerPub [32]byte
	copy(peerPub[:], peerKeyMaterial)

	var reply []byte
	if responding {
		eph, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.eph = eph
		reply = eph.Public[:]
	}
	if s.eph == nil {
		return nil, fmt.Errorf("%w: no local ephemeral key", ErrHandshakeFailed)
	}

	shared, err := crypto.DeriveSharedSecret(peerPub, s.eph.Private)
	if err != nil {
		return nil, err
	}

	keys, err := crypto.DeriveSessionKeys(&shared, s.salt)
	if err != nil {
		return nil, err
	}

	// Transcript binds the salt and both public keys in initiator,
	// responder order.
	s.transcript = make([]byte, 0, crypto.SaltSize+64)
	s.transcript = append(s.transcript, s.salt[:]...)
	if responding {
		s.transcript = append(s.transcript, peerPub[:]...)
		s.transcript = append(s.transcript, s.eph.Public[:]...)
	} else {
		s.transcript = append(s.transcript, s.eph.Public[:]...)
		s.transcript = append(s.transcript, peerPub[:]...)
	}

	s.installKeysLocked(keys)
	return reply, nil
}

// establishLocked finalizes the transition to Established: sequence
// counters reset, handshake scratch state wiped.
func (s *Session) establishLocked() {
	s.state = StateEstablished
	s.localSeq = 0
	s.remoteSeq = 0
	s.authFailures = 0
	s.seqViolations = 0
	s.sealedCount = 0

	if s.eph != nil {
		_ = crypto.WipeKeyPair(s.eph)
		s.eph = nil
	}
	s.noise = nil

	logrus.WithFields(logrus.Fields{
		"function": "establishLocked",
		"role":     s.role.String(),
		"peer_id":  s.peerID,
	}).Info("Session established")
}

// installKeysLocked swaps in fresh session keys, wiping any previous
// keys first. Counters are reset by the caller.
func (s *Session) installKeysLocked(keys *crypto.SessionKeys) {
	if s.keys != nil {
		s.keys.Wipe()
	}
	s.keys = keys
}

// handleEncryptedLocked validates sequencing, decrypts, and dispatches a
// post-handshake frame.
func (s *Session) handleEncryptedLocked(frame *wire.EncryptedFrame) (*Result, error) {
	if s.state != StateEstablished && s.state != StateRotating {
		s.countViolationLocked()
		return nil, fmt.Errorf("%w: encrypted frame in %s", ErrInvalidState, s.state)
	}

	seq := uint64(frame.Header.SequenceNumber)
	if err := s.checkSequenceLocked(seq, frame.Header.Type); err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(frame.Nonce, frame.Ciphertext, frame.Tag,
		s.keys.CipherKey, frame.AssociatedData(), s.cfg.Algorithm)
	if err != nil {
		return nil, s.recordAuthFailureLocked(err)
	}

	// Counters advance only after the tag verified.
	s.remoteSeq = seq
	s.authFailures = 0

	switch frame.Header.Type {
	case wire.MessageTypeAck:
		return s.handleAckLocked(plaintext)

	case wire.MessageTypePing:
		logrus.WithFields(logrus.Fields{
			"function": "handleEncryptedLocked",
			"peer_id":  s.peerID,
		}).Debug("Heartbeat received")
		return &Result{Type: wire.MessageTypePing}, nil

	case wire.MessageTypeKeyRotation:
		return s.handleRotationLocked(plaintext)

	default: // TEXT, VOICE
		return &Result{Type: frame.Header.Type, Payload: plaintext, Deliver: true}, nil
	}
}

// checkSequenceLocked enforces the per-direction ordering policy: text
// and control frames must arrive exactly in order; voice frames may skip
// ahead but never backwards.
func (s *Session) checkSequenceLocked(seq uint64, messageType wire.MessageType) error {
	if seq <= s.remoteSeq {
		logrus.WithFields(logrus.Fields{
			"function":      "checkSequenceLocked",
			"sequence":      seq,
			"last_accepted": s.remoteSeq,
			"message_type":  messageType.String(),
		}).Warn("Replayed or duplicate frame dropped")
		if fatal := s.countViolationLocked(); fatal != nil {
			return fatal
		}
		return ErrReplay
	}

	if messageType != wire.MessageTypeVoice && seq != s.remoteSeq+1 {
		logrus.WithFields(logrus.Fields{
			"function":      "checkSequenceLocked",
			"sequence":      seq,
			"expected":      s.remoteSeq + 1,
			"message_type":  messageType.String(),
		}).Warn("Out-of-order frame dropped")
		if fatal := s.countViolationLocked(); fatal != nil {
			return fatal
		}
		return ErrOutOfOrder
	}

	return nil
}

// countViolationLocked bumps the sequence violation counter and fails
// the session once the threshold is crossed. Recurring violations on a
// reliable ordered link suggest an active attacker or a desynced peer.
func (s *Session) countViolationLocked() error {
	s.seqViolations++
	if s.seqViolations >= s.cfg.MaxSequenceViolations {
		return s.failLocked(ErrTooManySequenceViolations)
	}
	return nil
}

// recordAuthFailureLocked counts a tag verification failure and fails
// the session after the configured consecutive run.
func (s *Session) recordAuthFailureLocked(cause error) error {
	s.authFailures++
	logrus.WithFields(logrus.Fields{
		"function":      "recordAuthFailureLocked",
		"auth_failures": s.authFailures,
		"threshold":     s.cfg.MaxAuthFailures,
	}).Warn("Frame failed authentication")

	if s.authFailures >= s.cfg.MaxAuthFailures {
		return s.failLocked(fmt.Errorf("%w: %v", ErrTooManyAuthFailures, cause))
	}
	return cause
}

// handleAckLocked verifies the initiator's key confirmation on its first
// arrival; later ACKs are plain delivery acknowledgements.
func (s *Session) handleAckLocked(plaintext []byte) (*Result, error) {
	if s.role == RoleResponder && !s.confirmed {
		if !verifyKeyConfirmation(s.keys.AuthKey, s.transcript, plaintext) {
			return nil, s.failLocked(ErrKeyConfirmation)
		}
		s.confirmed = true
		s.transcript = nil
		logrus.WithFields(logrus.Fields{
			"function": "handleAckLocked",
			"peer_id":  s.peerID,
		}).Debug("Key confirmation verified")
	}
	return &Result{Type: wire.MessageTypeAck}, nil
}

// EncryptMessage seals an application payload into a frame with the next
// sequence number. During a key rotation the message queues instead; the
// returned frame is nil and the message is flushed with the rotation's
// completion replies.
func (s *Session) EncryptMessage(payload []byte, messageType wire.MessageType) (*wire.EncryptedFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := limits.ValidatePayload(payload); err != nil {
		return nil, err
	}

	switch s.state {
	case StateEstablished:
		return s.sealLocked(payload, messageType)
	case StateRotating:
		s.pending = append(s.pending, pendingMessage{
			messageType: messageType,
			payload:     append([]byte(nil), payload...),
		})
		logrus.WithFields(logrus.Fields{
			"function": "EncryptMessage",
			"queued":   len(s.pending),
		}).Debug("Message queued during key rotation")
		return nil, nil
	case StateClosed, StateError:
		return nil, ErrSessionClosed
	default:
		return nil, fmt.Errorf("%w: send in %s", ErrInvalidState, s.state)
	}
}

// sealLocked encrypts a payload under the current keys with the next
// outbound sequence number.
func (s *Session) sealLocked(payload []byte, messageType wire.MessageType) (*wire.EncryptedFrame, error) {
	seq := s.localSeq + 1

	header := wire.MessageHeader{
		Version:        wire.ProtocolVersion,
		Type:           messageType,
		SenderID:       s.cfg.SenderID,
		SequenceNumber: uint32(seq),
		PayloadLength:  uint32(len(payload)),
	}

	nonce, ciphertext, tag, err := crypto.Encrypt(payload, s.keys.CipherKey, header.Marshal(), s.cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	s.localSeq = seq
	s.sealedCount++

	return &wire.EncryptedFrame{
		Header:     header,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
	}, nil
}

// Close wipes all key material and moves the session to Closed. Key
// material is released synchronously; nothing sensitive outlives the
// call.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.wipeLocked()
	s.state = StateClosed

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"peer_id":  s.peerID,
	}).Info("Session closed, key material wiped")
}

// Fail moves the session to Error with a reason, wiping key material.
// The connection layer calls this for failures it detects itself, such
// as the handshake timeout.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		_ = s.failLocked(err)
	}
}

// failLocked records a fatal error, wipes key material, and returns the
// error for convenience.
func (s *Session) failLocked(err error) error {
	logrus.WithFields(logrus.Fields{
		"function": "failLocked",
		"state":    s.state.String(),
		"error":    err.Error(),
	}).Error("Session failed")

	s.wipeLocked()
	s.state = StateError
	s.lastErr = err
	return err
}

// wipeLocked erases every piece of key material the session holds.
func (s *Session) wipeLocked() {
	if s.keys != nil {
		s.keys.Wipe()
		s.keys = nil
	}
	if s.eph != nil {
		_ = crypto.WipeKeyPair(s.eph)
		s.eph = nil
	}
	s.noise = nil
	s.transcript = nil
	s.pending = nil
}
