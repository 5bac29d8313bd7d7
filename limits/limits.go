// Package limits provides centralized payload size limits for the
// WhisperLink wire protocol. This ensures consistent validation across
// the codec, cipher, and connection layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the largest application payload accepted
	// for a single frame (64 KiB). Larger content must be chunked by
	// the caller.
	MaxPlaintextMessage = 64 * 1024

	// MaxCiphertext is the maximum ciphertext length. The AEAD ciphers
	// used on this link are length-preserving, so it equals the
	// plaintext limit; the 16-byte tag travels in its own frame field.
	MaxCiphertext = MaxPlaintextMessage

	// MaxFrameSize is the largest complete wire frame: 16-byte header,
	// 12-byte nonce, ciphertext, 16-byte tag.
	MaxFrameSize = 16 + 12 + MaxCiphertext + 16

	// MaxProcessingBuffer is the absolute maximum for any buffer handled
	// by the core. This prevents memory exhaustion from a hostile or
	// corrupted length field (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty payload where one is required.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayload checks an outbound application payload against
// MaxPlaintextMessage. Empty payloads are permitted; PING and ACK frames
// legitimately carry none.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPlaintextMessage {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPlaintextMessage)
	}
	return nil
}

// ValidateProcessingSize enforces the absolute buffer cap. It accepts
// empty input; only the upper bound is checked.
func ValidateProcessingSize(data []byte) error {
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: size %d exceeds processing limit %d", ErrPayloadTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}

// ValidateDeclaredLength checks a length field parsed off the wire
// before any allocation is sized from it.
func ValidateDeclaredLength(length uint32) error {
	if length > MaxCiphertext {
		return fmt.Errorf("%w: declared length %d exceeds limit %d", ErrPayloadTooLarge, length, MaxCiphertext)
	}
	return nil
}
