package transport

// ConnectionState describes the link-level status of one peer.
type ConnectionState int

const (
	// StateDisconnected means no stream is open to the peer.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial or handshake is in progress,
	// including reconnection attempts.
	StateConnecting

	// StateConnected means an established session is pumping frames.
	StateConnected

	// StateListening means the manager is accepting inbound streams.
	StateListening

	// StateError means the peer is gone for good: reconnection was
	// exhausted or the session failed fatally.
	StateError
)

// String returns the state name for logging.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateListening:
		return "LISTENING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateCallback observes connection state transitions for one peer
// address. Called from manager goroutines; keep it fast.
type StateCallback func(addr string, state ConnectionState)
