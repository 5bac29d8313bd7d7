package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func benchKey(b *testing.B) [32]byte {
	b.Helper()
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		b.Fatalf("rand.Read() error: %v", err)
	}
	return key
}

func BenchmarkEncryptAESGCM(b *testing.B) {
	key := benchKey(b)
	payload := bytes.Repeat([]byte{0x5a}, 1024)
	header := []byte{0x00, 0x01, 0x00, 0x02}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, err := Encrypt(payload, key, header, AlgorithmAESGCM); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncryptChaCha20Poly1305(b *testing.B) {
	key := benchKey(b)
	payload := bytes.Repeat([]byte{0x5a}, 1024)
	header := []byte{0x00, 0x01, 0x00, 0x02}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, err := Encrypt(payload, key, header, AlgorithmChaCha20Poly1305); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecryptAESGCM(b *testing.B) {
	key := benchKey(b)
	payload := bytes.Repeat([]byte{0x5a}, 1024)
	header := []byte{0x00, 0x01, 0x00, 0x02}

	nonce, ciphertext, tag, err := Encrypt(payload, key, header, AlgorithmAESGCM)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decrypt(nonce, ciphertext, tag, key, header, AlgorithmAESGCM); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeriveSharedSecret(b *testing.B) {
	alice, err := GenerateKeyPair()
	if err != nil {
		b.Fatal(err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DeriveSharedSecret(bob.Public, alice.Private); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeriveSessionKeys(b *testing.B) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	salt, _ := GenerateSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		shared, err := DeriveSharedSecret(bob.Public, alice.Private)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := DeriveSessionKeys(&shared, salt); err != nil {
			b.Fatal(err)
		}
	}
}
