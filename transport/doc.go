// Package transport manages encrypted peer connections over reliable
// byte-stream links.
//
// The package sits between the session state machine and whatever link
// layer the platform provides. A Stream is any reliable, ordered,
// bidirectional byte pipe; adapters for net.Conn and an in-memory pipe
// are included. The Manager dials or accepts streams, runs the session
// handshake over them, and then pumps frames in both directions.
//
// # Connection Lifecycle
//
// Outbound connections move DISCONNECTED -> CONNECTING -> CONNECTED.
// A connection that drops while established is redialed with
// exponential backoff and a full fresh handshake; once the attempts are
// exhausted the peer is reported lost and the state goes to ERROR.
// Accepted connections go straight to CONNECTED after the handshake.
//
// # Heartbeats
//
// Each connection sends an encrypted PING after an idle interval with
// no inbound traffic. Silence for three intervals tears the connection
// down, which for dialed peers triggers the reconnection policy.
//
// # Example
//
//	mgr := transport.NewManager(transport.Config{
//		Dialer:        &transport.NetDialer{},
//		SessionConfig: session.NewConfig(localID),
//	})
//	mgr.OnStateChange(func(addr string, st transport.ConnectionState) {
//		log.Printf("%s: %s", addr, st)
//	})
//	conn, err := mgr.Connect(ctx, "192.0.2.1:33445")
//	if err != nil {
//		return err
//	}
//	conn.Send([]byte("hello"), wire.MessageTypeText)
package transport
