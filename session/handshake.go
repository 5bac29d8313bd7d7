package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/whisperlink/crypto"
	"github.com/opd-ai/whisperlink/wire"
)

// handshakePayload is the body of a HANDSHAKE or KEY_ROTATION frame:
//
//	offset 0 : algorithm (2 bytes, big-endian)
//	offset 2 : mode      (1 byte)
//	offset 3 : saltLen   (1 byte; 16 from the initiator, 0 otherwise)
//	offset 4 : salt      (saltLen bytes)
//	...      : keyLen    (2 bytes, big-endian)
//	...      : key material (raw X25519 public key or Noise message)
type handshakePayload struct {
	algorithm   crypto.Algorithm
	mode        HandshakeMode
	salt        []byte
	keyMaterial []byte
}

const handshakeFixedLen = 2 + 1 + 1 + 2

func (p *handshakePayload) encode() []byte {
	buf := make([]byte, 0, handshakeFixedLen+len(p.salt)+len(p.keyMaterial))

	var algo [2]byte
	binary.BigEndian.PutUint16(algo[:], uint16(p.algorithm))
	buf = append(buf, algo[:]...)
	buf = append(buf, byte(p.mode), byte(len(p.salt)))
	buf = append(buf, p.salt...)

	var keyLen [2]byte
	binary.BigEndian.PutUint16(keyLen[:], uint16(len(p.keyMaterial)))
	buf = append(buf, keyLen[:]...)
	buf = append(buf, p.keyMaterial...)

	return buf
}

func parseHandshakePayload(data []byte) (*handshakePayload, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: handshake payload too short (%d bytes)", ErrHandshakeFailed, len(data))
	}

	algorithm, err := crypto.ParseAlgorithm(binary.BigEndian.Uint16(data[0:2]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	mode := HandshakeMode(data[2])
	if mode != ModeEphemeral && mode != ModeNoiseIK {
		return nil, fmt.Errorf("%w: unknown handshake mode 0x%02x", ErrHandshakeFailed, data[2])
	}

	saltLen := int(data[3])
	if saltLen != 0 && saltLen != crypto.SaltSize {
		return nil, fmt.Errorf("%w: salt length %d", ErrHandshakeFailed, saltLen)
	}
	if len(data) < 4+saltLen+2 {
		return nil, fmt.Errorf("%w: handshake payload truncated", ErrHandshakeFailed)
	}

	salt := data[4 : 4+saltLen]
	keyLen := int(binary.BigEndian.Uint16(data[4+saltLen : 4+saltLen+2]))
	rest := data[4+saltLen+2:]
	if len(rest) != keyLen {
		return nil, fmt.Errorf("%w: key material length %d, declared %d", ErrHandshakeFailed, len(rest), keyLen)
	}
	if keyLen == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrHandshakeFailed)
	}

	return &handshakePayload{
		algorithm:   algorithm,
		mode:        mode,
		salt:        append([]byte(nil), salt...),
		keyMaterial: append([]byte(nil), rest...),
	}, nil
}

// plaintextFrame builds a frame whose payload is not encrypted. Only
// handshake-phase frames use it; nonce and tag stay zero.
func plaintextFrame(messageType wire.MessageType, senderID uint32, payload []byte) *wire.EncryptedFrame {
	return &wire.EncryptedFrame{
		Header: wire.MessageHeader{
			Version:        wire.ProtocolVersion,
			Type:           messageType,
			SenderID:       senderID,
			SequenceNumber: 0,
			PayloadLength:  uint32(len(payload)),
		},
		Ciphertext: payload,
	}
}

// keyConfirmationLabel domain-separates the confirmation MAC from any
// other use of the authentication key.
const keyConfirmationLabel = "whisperlink key confirm v1"

// computeKeyConfirmation MACs the handshake transcript under the derived
// authentication key. Both sides compute it; the initiator sends it in
// an ACK frame and the responder verifies, proving the two sides derived
// identical keys before application traffic flows.
func computeKeyConfirmation(authKey [32]byte, transcript []byte) []byte {
	mac := hmac.New(sha256.New, authKey[:])
	mac.Write([]byte(keyConfirmationLabel))
	mac.Write(transcript)
	return mac.Sum(nil)
}

// verifyKeyConfirmation compares MACs in constant time.
func verifyKeyConfirmation(authKey [32]byte, transcript, received []byte) bool {
	expected := computeKeyConfirmation(authKey, transcript)
	return hmac.Equal(expected, received)
}
