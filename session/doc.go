// Package session implements the WhisperLink session state machine.
//
// A Session owns the cryptographic state of one peer connection: its
// ephemeral handshake, derived session keys, per-direction sequence
// counters, replay and tamper policy, and key rotation. The connection
// layer feeds it decoded frames and writes back whatever frames it
// returns; the session never touches the stream itself.
//
// # States
//
//	Idle -> Handshaking -> Established -> Rotating -> Established -> ... -> Closed
//
// Error is reachable from any non-terminal state. Handshake failures are
// terminal for the connection attempt; post-handshake authentication
// failures are tolerated per frame until they recur past the configured
// threshold.
//
// # Handshake
//
// The dialing side starts the exchange:
//
//	sess := session.NewSession(cfg, session.RoleInitiator)
//	hello, err := sess.StartHandshake()
//	// write hello to the stream, then feed inbound frames:
//	result, err := sess.HandleFrame(frame)
//	for _, reply := range result.Replies {
//	    // write reply
//	}
//	if result.Deliver {
//	    // hand result.Payload to the application
//	}
//
// Two handshake modes are supported. The default mode exchanges fresh
// ephemeral X25519 public keys in the clear and stretches the ECDH
// secret through PBKDF2. When both peers hold pre-shared static identity
// keys from pairing, Noise-IK mode runs the same exchange inside a
// mutually authenticated Noise handshake instead.
//
// # Sequencing
//
// Sequence numbers are strictly increasing per direction. Text and
// control frames must arrive exactly in order; a duplicate or gap drops
// the frame and counts toward a violation threshold. Voice frames
// tolerate gaps (late frames are dropped, never replayed).
//
// # Key rotation
//
// Either peer may trigger rotation. The exchange runs over the open
// stream under the current keys; outbound application traffic queues
// while rotating and is flushed under the new keys after the atomic
// swap. A rotation failure tears the session down rather than silently
// keeping the old keys.
package session
