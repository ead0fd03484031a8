package net

import (
	"encoding/binary"
	"fmt"
)

// Category discriminates the four frame kinds on the wire.
type Category uint8

const (
	CategoryPayload            Category = 0
	CategoryKeepalive          Category = 1
	CategoryConnectionAccepted Category = 2
	CategoryConnectionClosed   Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryPayload:
		return "payload"
	case CategoryKeepalive:
		return "keepalive"
	case CategoryConnectionAccepted:
		return "connection_accepted"
	case CategoryConnectionClosed:
		return "connection_closed"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed wire size of a frame header: category (1 byte) +
// big-endian sequence (8 bytes) + big-endian encrypted-payload size (2
// bytes).
const HeaderSize = 11

// OverheadSize is the total non-payload wire cost of a frame: header plus
// the AEAD authentication tag.
const OverheadSize = HeaderSize + MACSize

// FrameHeader is the decoded fixed-size prefix of every frame.
type FrameHeader struct {
	Category      Category
	Sequence      uint64
	EncryptedSize uint16
}

// Encode writes the header into dst, which must be at least HeaderSize
// bytes.
func (h FrameHeader) Encode(dst []byte) {
	dst[0] = byte(h.Category)
	binary.BigEndian.PutUint64(dst[1:9], h.Sequence)
	binary.BigEndian.PutUint16(dst[9:11], h.EncryptedSize)
}

// DecodeFrameHeader reads a header from the front of src, which must be at
// least HeaderSize bytes.
func DecodeFrameHeader(src []byte) FrameHeader {
	return FrameHeader{
		Category:      Category(src[0]),
		Sequence:      binary.BigEndian.Uint64(src[1:9]),
		EncryptedSize: binary.BigEndian.Uint16(src[9:11]),
	}
}

// ControlFrame is the decoded body of any non-Payload frame: each of the
// three control categories carries exactly one big-endian user id and
// nothing else.
type ControlFrame struct {
	Category Category
	UserID   uint64
}

// controlPayloadSize is the plaintext size of every control frame body.
const controlPayloadSize = 8

// EncodeControlFrame writes cf's 8-byte plaintext body.
func EncodeControlFrame(cf ControlFrame) []byte {
	buf := make([]byte, controlPayloadSize)
	binary.BigEndian.PutUint64(buf, cf.UserID)
	return buf
}

// DecodeControlFrame parses a control frame body. It fails with
// FatalIncorrectCategory if payload is not exactly 8 bytes.
func DecodeControlFrame(category Category, payload []byte) (ControlFrame, error) {
	if len(payload) != controlPayloadSize {
		return ControlFrame{}, Fatal(FatalIncorrectCategory, fmt.Errorf("control frame payload must be %d bytes, got %d", controlPayloadSize, len(payload)))
	}
	return ControlFrame{Category: category, UserID: binary.BigEndian.Uint64(payload)}, nil
}

// Frame is a fully decoded frame. For CategoryPayload, Payload holds the
// raw serialized application message batch and Control is zero. For the
// three control categories, Control is populated and Payload is nil.
type Frame struct {
	Category Category
	Sequence uint64
	Control  ControlFrame
	Payload  []byte
}
