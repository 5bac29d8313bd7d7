package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

const (
	// SampleRate is the Opus output rate in Hz.
	SampleRate = 48000

	// MaxPayloadSize bounds one encoded voice payload. Opus packets for
	// a single 120ms frame top out well under this.
	MaxPayloadSize = 4000

	// maxFrameSamples is 40ms of stereo audio at 48kHz, enough for the
	// frame durations voice chat uses.
	maxFrameSamples = 1920 * 2
)

var (
	// ErrEmptyPayload means a zero-length voice payload arrived.
	ErrEmptyPayload = errors.New("empty voice payload")

	// ErrPayloadTooLarge means the payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("voice payload too large")

	// ErrDecodeFailed wraps decoder errors for malformed Opus data.
	ErrDecodeFailed = errors.New("opus decode failed")
)

// Frame is one decoded block of voice audio.
type Frame struct {
	// PCM holds interleaved signed 16-bit samples.
	PCM []int16

	// SampleRate is the playback rate of PCM in Hz.
	SampleRate uint32

	// Stereo reports whether PCM interleaves two channels.
	Stereo bool
}

// opusDecoder is the slice of the Opus decoder Decode uses.
type opusDecoder interface {
	Decode(in, out []byte) (opus.Bandwidth, bool, error)
}

// Decoder turns Opus voice payloads into PCM frames. Safe for
// concurrent use; decoding is serialized internally because the Opus
// decoder carries inter-frame prediction state.
type Decoder struct {
	mu  sync.Mutex
	dec opusDecoder
}

// NewDecoder creates a voice decoder.
func NewDecoder() *Decoder {
	dec := opus.NewDecoder()
	return &Decoder{dec: &dec}
}

// ValidatePayload checks a voice payload's size bounds without decoding
// it.
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// Decode validates and decodes one voice payload. Malformed payloads
// return ErrDecodeFailed; callers drop the frame and move on, since
// voice tolerates loss.
func (d *Decoder) Decode(payload []byte) (*Frame, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// A fresh zeroed buffer per decode keeps samples from a longer
	// previous frame out of a shorter one.
	out := make([]byte, maxFrameSamples*2)
	bandwidth, isStereo, err := d.dec.Decode(payload, out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "Decode",
			"payload_size": len(payload),
			"error":        err.Error(),
		}).Warn("Dropping undecodable voice payload")
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Decode",
		"bandwidth": bandwidth.String(),
		"stereo":    isStereo,
	}).Debug("Voice payload decoded")

	return &Frame{
		PCM:        pcmFromBytes(out),
		SampleRate: SampleRate,
		Stereo:     isStereo,
	}, nil
}

// pcmFromBytes converts little-endian sample bytes to int16 samples.
func pcmFromBytes(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
