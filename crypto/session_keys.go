package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the random salt mixed into session key
	// derivation. The handshake initiator generates it and sends it in
	// the clear alongside its public key.
	SaltSize = 16

	// KDFIterations is the PBKDF2-HMAC-SHA256 iteration count
	// (NIST SP 800-132 recommendation).
	KDFIterations = 100000

	// sessionKeyMaterial is the total KDF output split into the cipher
	// key and the authentication key.
	sessionKeyMaterial = 64
)

// SessionKeys holds the symmetric keys for one established session:
// a 32-byte AEAD cipher key and a 32-byte authentication key used for
// key-confirmation MACs. Keys are exclusively owned by one session,
// never logged, never serialized, and wiped on disconnect or rotation.
type SessionKeys struct {
	CipherKey [32]byte
	AuthKey   [32]byte
	CreatedAt time.Time
}

// GenerateSalt creates a random KDF salt for one handshake.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return [SaltSize]byte{}, fmt.Errorf("%w: salt generation: %v", ErrKeyDerivation, err)
	}
	return salt, nil
}

// DeriveSessionKeys stretches a raw ECDH shared secret into session keys
// using PBKDF2-HMAC-SHA256. The shared secret and all intermediate key
// material are wiped before the function returns; after a successful
// call only the returned SessionKeys hold live key bytes.
func DeriveSessionKeys(sharedSecret *[32]byte, salt [SaltSize]byte) (*SessionKeys, error) {
	if sharedSecret == nil {
		return nil, fmt.Errorf("%w: nil shared secret", ErrKeyDerivation)
	}
	if isZeroKey(*sharedSecret) {
		return nil, fmt.Errorf("%w: zero shared secret", ErrKeyDerivation)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "DeriveSessionKeys",
		"iterations": KDFIterations,
	}).Debug("Deriving session keys from shared secret")

	keyMaterial := pbkdf2.Key(sharedSecret[:], salt[:], KDFIterations, sessionKeyMaterial, sha256.New)
	if len(keyMaterial) != sessionKeyMaterial {
		ZeroBytes(sharedSecret[:])
		ZeroBytes(keyMaterial)
		return nil, fmt.Errorf("%w: short KDF output", ErrKeyDerivation)
	}

	keys := &SessionKeys{CreatedAt: time.Now()}
	copy(keys.CipherKey[:], keyMaterial[:32])
	copy(keys.AuthKey[:], keyMaterial[32:64])

	// The raw secret and the unsplit key material must not outlive the
	// split.
	ZeroBytes(keyMaterial)
	ZeroBytes(sharedSecret[:])

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSessionKeys",
	}).Debug("Session keys derived, shared secret wiped")

	return keys, nil
}

// Wipe erases both session keys. The SessionKeys value is unusable
// afterwards.
func (sk *SessionKeys) Wipe() {
	if sk == nil {
		return
	}
	ZeroBytes(sk.CipherKey[:])
	ZeroBytes(sk.AuthKey[:])
}
