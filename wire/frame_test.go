package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/opd-ai/whisperlink/limits"
)

func sampleFrame(payload []byte) *EncryptedFrame {
	frame := &EncryptedFrame{
		Header: MessageHeader{
			Version:        ProtocolVersion,
			Type:           MessageTypeText,
			SenderID:       0xdeadbeef,
			SequenceNumber: 42,
			PayloadLength:  uint32(len(payload)),
		},
		Ciphertext: payload,
	}
	for i := range frame.Nonce {
		frame.Nonce[i] = byte(i + 1)
	}
	for i := range frame.Tag {
		frame.Tag[i] = byte(0xf0 + i)
	}
	return frame
}

func TestHeaderMarshalLayout(t *testing.T) {
	header := &MessageHeader{
		Version:        0x0102,
		Type:           MessageTypeVoice,
		SenderID:       0x0a0b0c0d,
		SequenceNumber: 0x11223344,
		PayloadLength:  0x55667788,
	}

	data := header.Marshal()
	if len(data) != HeaderSize {
		t.Fatalf("Marshal() length = %d, want %d", len(data), HeaderSize)
	}

	// Exact big-endian byte layout.
	want := []byte{
		0x01, 0x02, // version
		0x00, 0x03, // messageType VOICE
		0x0a, 0x0b, 0x0c, 0x0d, // senderId
		0x11, 0x22, 0x33, 0x44, // sequenceNumber
		0x55, 0x66, 0x77, 0x88, // payloadLength
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Marshal() = %x, want %x", data, want)
	}

	parsed, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader() error: %v", err)
	}
	if *parsed != *header {
		t.Errorf("ParseHeader() = %+v, want %+v", parsed, header)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "small payload", payload: []byte("ciphertext bytes")},
		{name: "large payload", payload: bytes.Repeat([]byte{0x3c}, 10*1024)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := sampleFrame(tc.payload)

			data, err := EncodeFrame(frame)
			if err != nil {
				t.Fatalf("EncodeFrame() error: %v", err)
			}

			if len(data) != FrameOverhead+len(tc.payload) {
				t.Errorf("encoded length = %d, want %d", len(data), FrameOverhead+len(tc.payload))
			}

			decoded, err := DecodeFrame(data)
			if err != nil {
				t.Fatalf("DecodeFrame() error: %v", err)
			}

			if decoded.Header != frame.Header {
				t.Errorf("decoded header = %+v, want %+v", decoded.Header, frame.Header)
			}
			if decoded.Nonce != frame.Nonce {
				t.Error("decoded nonce differs")
			}
			if !bytes.Equal(decoded.Ciphertext, frame.Ciphertext) {
				t.Error("decoded ciphertext differs")
			}
			if decoded.Tag != frame.Tag {
				t.Error("decoded tag differs")
			}
		})
	}
}

func TestEncodeFrameValidation(t *testing.T) {
	t.Run("nil frame", func(t *testing.T) {
		if _, err := EncodeFrame(nil); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("EncodeFrame(nil) error = %v, want ErrMalformedFrame", err)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		frame := sampleFrame([]byte("payload"))
		frame.Header.PayloadLength = 3
		if _, err := EncodeFrame(frame); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("EncodeFrame(mismatched length) error = %v, want ErrMalformedFrame", err)
		}
	})

	t.Run("oversized payload", func(t *testing.T) {
		frame := sampleFrame(make([]byte, limits.MaxCiphertext+1))
		if _, err := EncodeFrame(frame); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("EncodeFrame(oversized) error = %v, want ErrMalformedFrame", err)
		}
	})
}

func TestDecodeFrameValidation(t *testing.T) {
	valid, err := EncodeFrame(sampleFrame([]byte("payload")))
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{name: "empty buffer", data: []byte{}},
		{name: "short header", data: valid[:HeaderSize-1]},
		{name: "header only", data: valid[:HeaderSize]},
		{name: "truncated body", data: valid[:len(valid)-1]},
		{name: "trailing garbage", data: append(append([]byte{}, valid...), 0x00)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeFrame(tc.data); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("DecodeFrame() error = %v, want ErrMalformedFrame", err)
			}
		})
	}

	t.Run("hostile declared length", func(t *testing.T) {
		data := append([]byte{}, valid...)
		binary.BigEndian.PutUint32(data[12:16], limits.MaxCiphertext+1)
		if _, err := DecodeFrame(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeFrame(hostile length) error = %v, want ErrMalformedFrame", err)
		}
	})
}

func TestReadWriteFrameStream(t *testing.T) {
	var buf bytes.Buffer

	first := sampleFrame([]byte("first frame"))
	second := sampleFrame([]byte("second"))
	second.Header.SequenceNumber = 43

	if err := WriteFrame(&buf, first); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if err := WriteFrame(&buf, second); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	got1, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if !bytes.Equal(got1.Ciphertext, first.Ciphertext) {
		t.Error("first frame ciphertext differs after stream round trip")
	}

	got2, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if got2.Header.SequenceNumber != 43 {
		t.Errorf("second frame sequence = %d, want 43", got2.Header.SequenceNumber)
	}

	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("ReadFrame(empty stream) error = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	data, err := EncodeFrame(sampleFrame([]byte("payload")))
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}

	r := bytes.NewReader(data[:len(data)-4])
	if _, err := ReadFrame(r); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("ReadFrame(truncated) error = %v, want ErrMalformedFrame", err)
	}
}

func TestMessageTypeStrings(t *testing.T) {
	cases := []struct {
		messageType MessageType
		want        string
		valid       bool
	}{
		{MessageTypeHandshake, "HANDSHAKE", true},
		{MessageTypeText, "TEXT", true},
		{MessageTypeVoice, "VOICE", true},
		{MessageTypeAck, "ACK", true},
		{MessageTypePing, "PING", true},
		{MessageTypeKeyRotation, "KEY_ROTATION", true},
		{MessageType(0x99), "UNKNOWN(0x0099)", false},
	}

	for _, tc := range cases {
		if got := tc.messageType.String(); got != tc.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", tc.messageType, got, tc.want)
		}
		if got := tc.messageType.Valid(); got != tc.valid {
			t.Errorf("MessageType(%d).Valid() = %v, want %v", tc.messageType, got, tc.valid)
		}
	}
}
