package session

import "errors"

var (
	// ErrInvalidState indicates an operation that the current session
	// state does not permit.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrHandshakeFailed indicates a malformed or unacceptable handshake
	// payload. Terminal for the connection attempt.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrHandshakeTimeout indicates the peer did not complete the key
	// exchange within the configured deadline.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrHandshakeReplay indicates a handshake salt that was already
	// seen recently, suggesting a replayed handshake capture.
	ErrHandshakeReplay = errors.New("handshake replay detected")

	// ErrKeyConfirmation indicates the peer's key-confirmation MAC did
	// not match, meaning the two sides derived different session keys.
	ErrKeyConfirmation = errors.New("key confirmation failed")

	// ErrVersionMismatch indicates a frame with an unexpected protocol
	// version. Fatal post-handshake.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrReplay indicates a frame whose sequence number was already
	// accepted. The frame is dropped, not delivered.
	ErrReplay = errors.New("replayed frame rejected")

	// ErrOutOfOrder indicates a frame that skipped ahead of the expected
	// sequence number on an in-order message type.
	ErrOutOfOrder = errors.New("out-of-order frame rejected")

	// ErrTooManyAuthFailures indicates the consecutive authentication
	// failure threshold was crossed; the session moves to Error.
	ErrTooManyAuthFailures = errors.New("too many consecutive authentication failures")

	// ErrTooManySequenceViolations indicates recurring replay or
	// ordering violations past the configured threshold, a possible
	// denial-of-service indicator.
	ErrTooManySequenceViolations = errors.New("too many sequence violations")

	// ErrRotationFailed indicates a key rotation exchange that could not
	// complete. The session moves to Error; it never falls back to the
	// old keys.
	ErrRotationFailed = errors.New("key rotation failed")

	// ErrSessionClosed indicates the session is in a terminal state.
	ErrSessionClosed = errors.New("session closed")
)
