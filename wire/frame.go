package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/whisperlink/limits"
)

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion uint16 = 1

// MessageType identifies the kind of payload a frame carries.
type MessageType uint16

const (
	// MessageTypeHandshake carries a key-exchange payload. Handshake
	// frames are the only frames sent before session keys exist; their
	// nonce and tag fields are zero and the payload travels in the
	// clear.
	MessageTypeHandshake MessageType = 0x01

	// MessageTypeText carries an encrypted chat message.
	MessageTypeText MessageType = 0x02

	// MessageTypeVoice carries an encrypted Opus audio frame.
	MessageTypeVoice MessageType = 0x03

	// MessageTypeAck carries a key-confirmation MAC or delivery
	// acknowledgement.
	MessageTypeAck MessageType = 0x04

	// MessageTypePing is the heartbeat keepalive.
	MessageTypePing MessageType = 0x05

	// MessageTypeKeyRotation carries an encrypted rotation key exchange.
	MessageTypeKeyRotation MessageType = 0x06
)

// String returns the type name for logging.
func (t MessageType) String() string {
	switch t {
	case MessageTypeHandshake:
		return "HANDSHAKE"
	case MessageTypeText:
		return "TEXT"
	case MessageTypeVoice:
		return "VOICE"
	case MessageTypeAck:
		return "ACK"
	case MessageTypePing:
		return "PING"
	case MessageTypeKeyRotation:
		return "KEY_ROTATION"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(t))
	}
}

// Valid reports whether the type is one this protocol version defines.
func (t MessageType) Valid() bool {
	return t >= MessageTypeHandshake && t <= MessageTypeKeyRotation
}

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 16

	// NonceSize is the AEAD nonce length carried after the header.
	NonceSize = 12

	// TagSize is the authentication tag length at the end of the frame.
	TagSize = 16

	// FrameOverhead is everything in a frame except the ciphertext.
	FrameOverhead = HeaderSize + NonceSize + TagSize
)

// MessageHeader is the fixed 16-byte frame header. PayloadLength counts
// the ciphertext only, excluding nonce and tag.
type MessageHeader struct {
	Version        uint16
	Type           MessageType
	SenderID       uint32
	SequenceNumber uint32
	PayloadLength  uint32
}

// Marshal serializes the header into its 16-byte big-endian wire form.
// The result is also the associated data for AEAD sealing.
func (h *MessageHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], h.SenderID)
	binary.BigEndian.PutUint32(buf[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLength)
	return buf
}

// ParseHeader parses the fixed header from the front of a buffer.
func ParseHeader(data []byte) (*MessageHeader, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrMalformedFrame, len(data), HeaderSize)
	}

	return &MessageHeader{
		Version:        binary.BigEndian.Uint16(data[0:2]),
		Type:           MessageType(binary.BigEndian.Uint16(data[2:4])),
		SenderID:       binary.BigEndian.Uint32(data[4:8]),
		SequenceNumber: binary.BigEndian.Uint32(data[8:12]),
		PayloadLength:  binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// EncryptedFrame is one complete wire frame: header, nonce, ciphertext,
// and authentication tag. It is constructed per outbound message and
// consumed immediately on write; inbound, it is parsed from bytes and
// consumed by decryption.
type EncryptedFrame struct {
	Header     MessageHeader
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

// AssociatedData returns the header bytes bound into the AEAD tag.
func (f *EncryptedFrame) AssociatedData() []byte {
	return f.Header.Marshal()
}

// EncodeFrame serializes a frame for transmission. The header's
// PayloadLength must match the actual ciphertext length.
func EncodeFrame(frame *EncryptedFrame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if int(frame.Header.PayloadLength) != len(frame.Ciphertext) {
		return nil, fmt.Errorf("%w: declared payload length %d, actual %d",
			ErrMalformedFrame, frame.Header.PayloadLength, len(frame.Ciphertext))
	}
	if err := limits.ValidateDeclaredLength(frame.Header.PayloadLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	buf := make([]byte, 0, FrameOverhead+len(frame.Ciphertext))
	buf = append(buf, frame.Header.Marshal()...)
	buf = append(buf, frame.Nonce[:]...)
	buf = append(buf, frame.Ciphertext...)
	buf = append(buf, frame.Tag[:]...)

	return buf, nil
}

// DecodeFrame parses a complete frame from a byte buffer. The total
// length must be exactly consistent with the declared payload length.
// This is pure parsing; tag verification happens at decryption.
func DecodeFrame(data []byte) (*EncryptedFrame, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if err := limits.ValidateDeclaredLength(header.PayloadLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	expected := FrameOverhead + int(header.PayloadLength)
	if len(data) != expected {
		return nil, fmt.Errorf("%w: total length %d, expected %d for declared payload %d",
			ErrMalformedFrame, len(data), expected, header.PayloadLength)
	}

	frame := &EncryptedFrame{
		Header:     *header,
		Ciphertext: make([]byte, header.PayloadLength),
	}
	copy(frame.Nonce[:], data[HeaderSize:HeaderSize+NonceSize])
	copy(frame.Ciphertext, data[HeaderSize+NonceSize:HeaderSize+NonceSize+int(header.PayloadLength)])
	copy(frame.Tag[:], data[expected-TagSize:])

	return frame, nil
}

// ReadFrame reads exactly one frame from a stream: the fixed header
// first, then the body the header declares. Short reads and declared
// lengths beyond the limit surface as ErrMalformedFrame; underlying I/O
// failures pass through for the connection layer's retry policy.
func ReadFrame(r io.Reader) (*EncryptedFrame, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	header, err := ParseHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateDeclaredLength(header.PayloadLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	body := make([]byte, NonceSize+int(header.PayloadLength)+TagSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame body", ErrMalformedFrame)
		}
		return nil, err
	}

	frame := &EncryptedFrame{
		Header:     *header,
		Ciphertext: make([]byte, header.PayloadLength),
	}
	copy(frame.Nonce[:], body[:NonceSize])
	copy(frame.Ciphertext, body[NonceSize:NonceSize+int(header.PayloadLength)])
	copy(frame.Tag[:], body[len(body)-TagSize:])

	return frame, nil
}

// WriteFrame serializes a frame and writes it to the stream in full.
func WriteFrame(w io.Writer, frame *EncryptedFrame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}
