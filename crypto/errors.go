package crypto

import "errors"

// Sentinel errors for the cryptographic core. Callers match with
// errors.Is; wrapped variants carry additional context.
var (
	// ErrKeyGeneration indicates the RNG or curve provider failed while
	// generating an ephemeral key pair. This is fatal for the platform,
	// not for a single frame.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeyAgreement indicates the peer public key was malformed or the
	// X25519 computation produced a degenerate result.
	ErrKeyAgreement = errors.New("key agreement failed")

	// ErrKeyDerivation indicates the KDF could not produce session keys.
	ErrKeyDerivation = errors.New("session key derivation failed")

	// ErrAuthentication indicates AEAD tag verification failed. The frame
	// must be dropped without releasing any plaintext.
	ErrAuthentication = errors.New("message authentication failed")

	// ErrUnsupportedAlgorithm indicates an AEAD algorithm this build does
	// not implement, or a mismatch between the two peers.
	ErrUnsupportedAlgorithm = errors.New("unsupported cipher algorithm")
)
