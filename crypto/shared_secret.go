package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
)

// DeriveSharedSecret computes a shared secret between two parties using
// Elliptic Curve Diffie-Hellman (ECDH) on Curve25519.
//
// The result is symmetric: DeriveSharedSecret(bPub, aPriv) equals
// DeriveSharedSecret(aPub, bPriv). The caller must pass the secret to
// DeriveSessionKeys promptly; it is raw ECDH output, not a usable key.
func DeriveSharedSecret(peerPublicKey, privateKey [32]byte) ([32]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSharedSecret",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
	}).Debug("Computing shared secret using ECDH")

	if isZeroKey(peerPublicKey) {
		return [32]byte{}, fmt.Errorf("%w: all-zero peer public key", ErrKeyAgreement)
	}

	// Work on copies so the caller's key material is never modified.
	var publicKeyCopy [32]byte
	var privateKeyCopy [32]byte
	copy(publicKeyCopy[:], peerPublicKey[:])
	copy(privateKeyCopy[:], privateKey[:])

	sharedSecret, err := curve25519.X25519(privateKeyCopy[:], publicKeyCopy[:])
	if err != nil {
		ZeroBytes(privateKeyCopy[:])
		logrus.WithFields(logrus.Fields{
			"function": "DeriveSharedSecret",
			"error":    err.Error(),
		}).Error("X25519 computation failed")
		return [32]byte{}, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	var result [32]byte
	copy(result[:], sharedSecret)

	// Wipe the key copy and the intermediate secret.
	ZeroBytes(privateKeyCopy[:])
	ZeroBytes(sharedSecret)

	if isZeroKey(result) {
		// A low-order peer point collapses the secret to zero.
		ZeroBytes(result[:])
		return [32]byte{}, fmt.Errorf("%w: degenerate shared secret", ErrKeyAgreement)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSharedSecret",
	}).Debug("Shared secret computed, intermediate data wiped")

	return result, nil
}
