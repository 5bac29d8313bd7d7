package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveSessionKeys(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	shared, err := DeriveSharedSecret(bob.Public, alice.Private)
	if err != nil {
		t.Fatalf("DeriveSharedSecret() error: %v", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}

	keys, err := DeriveSessionKeys(&shared, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}

	if isZeroKey(keys.CipherKey) {
		t.Error("DeriveSessionKeys() produced zero cipher key")
	}
	if isZeroKey(keys.AuthKey) {
		t.Error("DeriveSessionKeys() produced zero auth key")
	}
	if bytes.Equal(keys.CipherKey[:], keys.AuthKey[:]) {
		t.Error("cipher key and auth key are identical")
	}
	if keys.CreatedAt.IsZero() {
		t.Error("DeriveSessionKeys() did not stamp CreatedAt")
	}

	// The shared secret must be wiped after the split.
	if !isZeroKey(shared) {
		t.Error("DeriveSessionKeys() did not wipe the shared secret")
	}
}

func TestDeriveSessionKeysBothSidesAgree(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}

	aliceShared, _ := DeriveSharedSecret(bob.Public, alice.Private)
	bobShared, _ := DeriveSharedSecret(alice.Public, bob.Private)

	aliceKeys, err := DeriveSessionKeys(&aliceShared, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKeys(alice) error: %v", err)
	}
	bobKeys, err := DeriveSessionKeys(&bobShared, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKeys(bob) error: %v", err)
	}

	if !bytes.Equal(aliceKeys.CipherKey[:], bobKeys.CipherKey[:]) {
		t.Error("cipher keys disagree between the two parties")
	}
	if !bytes.Equal(aliceKeys.AuthKey[:], bobKeys.AuthKey[:]) {
		t.Error("auth keys disagree between the two parties")
	}
}

func TestDeriveSessionKeysSaltChangesKeys(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	shared1, _ := DeriveSharedSecret(bob.Public, alice.Private)
	shared2 := shared1

	salt1, _ := GenerateSalt()
	salt2, _ := GenerateSalt()

	keys1, err := DeriveSessionKeys(&shared1, salt1)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}
	keys2, err := DeriveSessionKeys(&shared2, salt2)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}

	if bytes.Equal(keys1.CipherKey[:], keys2.CipherKey[:]) {
		t.Error("different salts produced identical cipher keys")
	}
}

func TestDeriveSessionKeysRejectsBadInput(t *testing.T) {
	salt, _ := GenerateSalt()

	if _, err := DeriveSessionKeys(nil, salt); !errors.Is(err, ErrKeyDerivation) {
		t.Errorf("DeriveSessionKeys(nil) error = %v, want ErrKeyDerivation", err)
	}

	var zero [32]byte
	if _, err := DeriveSessionKeys(&zero, salt); !errors.Is(err, ErrKeyDerivation) {
		t.Errorf("DeriveSessionKeys(zero secret) error = %v, want ErrKeyDerivation", err)
	}
}

func TestSessionKeysWipe(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	shared, _ := DeriveSharedSecret(bob.Public, alice.Private)
	salt, _ := GenerateSalt()

	keys, err := DeriveSessionKeys(&shared, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}

	keys.Wipe()
	if !isZeroKey(keys.CipherKey) || !isZeroKey(keys.AuthKey) {
		t.Error("Wipe() left key material behind")
	}

	// Wiping nil must not panic.
	var nilKeys *SessionKeys
	nilKeys.Wipe()
}
