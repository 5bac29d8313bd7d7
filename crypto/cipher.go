package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/whisperlink/limits"
)

// Algorithm selects the AEAD used for payload encryption. Selection is
// explicit: both peers announce their algorithm during the handshake and
// a mismatch aborts with ErrUnsupportedAlgorithm. Nothing is negotiated
// silently.
type Algorithm uint16

const (
	// AlgorithmAESGCM is AES-256-GCM, the default.
	AlgorithmAESGCM Algorithm = 0x0001

	// AlgorithmChaCha20Poly1305 is the software-friendly alternative.
	AlgorithmChaCha20Poly1305 Algorithm = 0x0002
)

const (
	// NonceSize is the AEAD nonce size. Both supported algorithms use
	// 96-bit nonces.
	NonceSize = 12

	// TagSize is the authentication tag size. Both supported algorithms
	// use 128-bit tags.
	TagSize = 16
)

// String returns the algorithm name for logging and diagnostics.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmAESGCM:
		return "AES-256-GCM"
	case AlgorithmChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(a))
	}
}

// ParseAlgorithm validates a wire-level algorithm identifier.
func ParseAlgorithm(v uint16) (Algorithm, error) {
	switch Algorithm(v) {
	case AlgorithmAESGCM, AlgorithmChaCha20Poly1305:
		return Algorithm(v), nil
	default:
		return 0, fmt.Errorf("%w: 0x%04x", ErrUnsupportedAlgorithm, v)
	}
}

// newAEAD constructs the cipher.AEAD for the selected algorithm.
func newAEAD(key [32]byte, algorithm Algorithm) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		}
		return aead, nil

	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		}
		return aead, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// GenerateNonce creates a fresh cryptographically secure random nonce.
// A new nonce is drawn for every encryption; nonces are never derived
// from sequence numbers, so key rotation is the only nonce-space
// management required.
func GenerateNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return [NonceSize]byte{}, fmt.Errorf("nonce generation: %w", err)
	}
	return nonce, nil
}

// Encrypt seals plaintext under the session cipher key with a fresh
// random nonce, binding associatedData (the frame header) into the tag.
// Returns the nonce, the ciphertext, and the 16-byte tag separately to
// match the wire layout.
func Encrypt(plaintext []byte, key [32]byte, associatedData []byte, algorithm Algorithm) ([NonceSize]byte, []byte, [TagSize]byte, error) {
	var tag [TagSize]byte

	if err := limits.ValidateProcessingSize(plaintext); err != nil {
		return [NonceSize]byte{}, nil, tag, err
	}

	aead, err := newAEAD(key, algorithm)
	if err != nil {
		return [NonceSize]byte{}, nil, tag, err
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return [NonceSize]byte{}, nil, tag, err
	}

	sealed := aead.Seal(nil, nonce[:], plaintext, associatedData)

	// Seal appends the tag to the ciphertext; split it back out.
	ciphertext := sealed[:len(sealed)-TagSize]
	copy(tag[:], sealed[len(sealed)-TagSize:])

	logrus.WithFields(logrus.Fields{
		"function":        "Encrypt",
		"algorithm":       algorithm.String(),
		"plaintext_size":  len(plaintext),
		"ciphertext_size": len(ciphertext),
	}).Debug("Payload sealed")

	return nonce, ciphertext, tag, nil
}

// Decrypt verifies the authentication tag and, only on success, returns
// the plaintext. Verification failure is reported as ErrAuthentication
// with no indication of which byte mismatched (the AEAD compares tags in
// constant time) and no partial plaintext.
func Decrypt(nonce [NonceSize]byte, ciphertext []byte, tag [TagSize]byte, key [32]byte, associatedData []byte, algorithm Algorithm) ([]byte, error) {
	if err := limits.ValidateProcessingSize(ciphertext); err != nil {
		return nil, err
	}

	aead, err := newAEAD(key, algorithm)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)

	plaintext, err := aead.Open(nil, nonce[:], sealed, associatedData)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Decrypt",
			"algorithm": algorithm.String(),
		}).Warn("Authentication tag verification failed")
		return nil, ErrAuthentication
	}

	return plaintext, nil
}
