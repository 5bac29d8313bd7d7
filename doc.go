// Package whisperlink implements an encrypted session transport for
// peer-to-peer chat and voice.
//
// The package provides an authenticated, forward-secret channel over any
// reliable byte-stream link: X25519 key exchange, AES-256-GCM or
// ChaCha20-Poly1305 framing for every message, strict sequencing against
// replay, automatic key rotation, heartbeats, and reconnection with
// exponential backoff. The root package is the application facade; the
// crypto, wire, session, and transport packages underneath carry the
// actual mechanics and can be used directly.
//
// # Getting Started
//
// Create a Link with options, connect to a peer, and exchange messages:
//
//	options := whisperlink.NewOptions()
//	options.SenderID = 42
//
//	link, err := whisperlink.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer link.Close()
//
//	link.OnConnectionState(func(addr string, state transport.ConnectionState) {
//	    fmt.Printf("%s: %s\n", addr, state)
//	})
//
//	err = link.Connect(ctx, "192.0.2.10:33445")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	link.SendText("192.0.2.10:33445", "hello")
//
//	msgs, _ := link.Messages("192.0.2.10:33445")
//	for msg := range msgs {
//	    switch msg.Type {
//	    case whisperlink.MessageTypeText:
//	        fmt.Println(string(msg.Payload))
//	    case whisperlink.MessageTypeVoice:
//	        frame, err := link.DecodeVoice(msg.Payload)
//	        if err != nil {
//	            continue // voice tolerates loss
//	        }
//	        playback(frame.PCM)
//	    }
//	}
//
// # Authenticated Pairing
//
// The default handshake exchanges fresh ephemeral keys and needs no
// prior state. Peers that have exchanged long-term identity keys can
// set HandshakeMode to session.ModeNoiseIK instead, which runs the key
// exchange inside a Noise-IK handshake and rejects anyone not holding
// the paired identity.
//
// # Security Properties
//
// Session keys are derived per connection and rotated periodically, so
// compromise of one set of keys exposes neither past nor future
// traffic. Every frame is authenticated together with its header;
// tampered or replayed frames are dropped and counted, and a session
// that accumulates too many failures shuts down rather than limp along
// under attack. Key material is wiped from memory when a session ends.
package whisperlink
