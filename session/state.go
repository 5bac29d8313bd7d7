package session

// State is the lifecycle state of a session.
type State uint8

const (
	// StateIdle is the initial state before the handshake starts.
	StateIdle State = iota

	// StateHandshaking means the key exchange is in flight.
	StateHandshaking

	// StateEstablished means session keys are live and application
	// traffic flows.
	StateEstablished

	// StateRotating means a key rotation exchange is in flight;
	// outbound application traffic is queued.
	StateRotating

	// StateClosed is the terminal state after an orderly disconnect.
	StateClosed

	// StateError is the terminal state after a fatal protocol or
	// cryptographic failure.
	StateError
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateRotating:
		return "Rotating"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Role distinguishes the dialing peer from the accepting peer during
// the handshake. It has no meaning after establishment.
type Role uint8

const (
	// RoleInitiator is the dialing side; it generates the KDF salt and
	// sends the first handshake frame.
	RoleInitiator Role = iota

	// RoleResponder is the accepting side; it answers with its own
	// public key and verifies the initiator's key confirmation.
	RoleResponder
)

// String returns the role name for logging.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}
