// Package audio decodes Opus-encoded VOICE payloads into PCM samples.
//
// The transport delivers VOICE frames as opaque encrypted payloads; this
// package is the plumbing between those payloads and a playback path:
// payload validation plus decoding through the pure Go pion/opus
// decoder. Audio capture, encoding, and hardware output are out of
// scope.
//
// # Usage
//
//	dec := audio.NewDecoder()
//	frame, err := dec.Decode(msg.Payload)
//	if err != nil {
//		// drop the frame; voice tolerates loss
//	}
//	playback(frame.PCM, frame.SampleRate)
package audio
