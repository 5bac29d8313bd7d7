package transport

import "errors"

var (
	// ErrConnectionTimeout means the dial or handshake did not finish
	// within the configured timeout.
	ErrConnectionTimeout = errors.New("connection timed out")

	// ErrConnectionLost means a dialed peer dropped and every
	// reconnection attempt failed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrPeerUnresponsive means the peer sent nothing for three
	// heartbeat intervals.
	ErrPeerUnresponsive = errors.New("peer unresponsive")

	// ErrManagerClosed means the manager was shut down.
	ErrManagerClosed = errors.New("connection manager closed")

	// ErrConnClosed means the connection is no longer usable.
	ErrConnClosed = errors.New("connection closed")
)
