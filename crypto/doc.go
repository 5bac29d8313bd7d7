// Package crypto implements the cryptographic core of the WhisperLink
// session transport.
//
// This package provides the cryptographic foundation for whisperlink,
// implementing X25519 ephemeral key agreement, PBKDF2-based session key
// derivation, pluggable AEAD encryption (AES-256-GCM and
// ChaCha20-Poly1305), and memory-safe handling of key material.
//
// # Core Types
//
//   - [KeyPair]: ephemeral X25519 key pair for one key exchange
//   - [SessionKeys]: derived cipher and authentication keys for one session
//   - [Algorithm]: AEAD algorithm selector
//
// # Key Exchange
//
// Each session performs a fresh ephemeral exchange; no long-term keys are
// required for the transport itself:
//
//	local, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer crypto.WipeKeyPair(local)
//
//	shared, err := crypto.DeriveSharedSecret(peerPublic, local.Private)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	keys, err := crypto.DeriveSessionKeys(shared, salt)
//	// shared is wiped by DeriveSessionKeys; keys.Wipe() when done
//
// # Authenticated Encryption
//
// Payloads are sealed with a fresh random 12-byte nonce per call and a
// 16-byte authentication tag. The frame header travels as associated
// data, so header tampering invalidates the tag:
//
//	nonce, ciphertext, tag, err := crypto.Encrypt(plaintext, keys.CipherKey, header, crypto.AlgorithmAESGCM)
//	plaintext, err = crypto.Decrypt(nonce, ciphertext, tag, keys.CipherKey, header, crypto.AlgorithmAESGCM)
//
// Authentication failures are reported as [ErrAuthentication], distinct
// from malformed-input errors, and never release partial plaintext.
//
// # Memory Safety
//
// Private keys, shared secrets, and intermediate key material are wiped
// with [SecureWipe] as soon as they are no longer needed. SessionKeys are
// never logged and never serialized; log statements carry only truncated
// hex previews of public values.
package crypto
