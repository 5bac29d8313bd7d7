// Package wire implements the WhisperLink frame codec.
//
// This package handles serialization and parsing of encrypted frames; it
// performs no cryptographic validation. A frame on the wire is laid out
// as follows, all multi-byte integers big-endian:
//
//	offset 0   : version        (2 bytes)
//	offset 2   : messageType    (2 bytes)
//	offset 4   : senderId       (4 bytes)
//	offset 8   : sequenceNumber (4 bytes)
//	offset 12  : payloadLength  (4 bytes, ciphertext only)
//	offset 16  : nonce          (12 bytes)
//	offset 28  : ciphertext     (payloadLength bytes)
//	offset 28+payloadLength : authTag (16 bytes)
//
// The 16-byte header is bound into the AEAD tag as associated data, so
// it travels unencrypted but not unauthenticated.
//
// Example:
//
//	frame := &wire.EncryptedFrame{
//	    Header: wire.MessageHeader{
//	        Version:        wire.ProtocolVersion,
//	        Type:           wire.MessageTypeText,
//	        SenderID:       senderID,
//	        SequenceNumber: seq,
//	        PayloadLength:  uint32(len(ciphertext)),
//	    },
//	    Nonce:      nonce,
//	    Ciphertext: ciphertext,
//	    Tag:        tag,
//	}
//
//	data, err := wire.EncodeFrame(frame)
//	if err != nil {
//	    log.Fatal(err)
//	}
package wire
