package net

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Connection tokens are handed to a client out-of-band (typically over an
// authenticated HTTPS login call) and presented on the first bytes of a
// connection attempt so the endpoint can admit it without a prior
// handshake round-trip. The public section is sent in the clear; the
// private section is ChaCha20-Poly1305-IETF sealed and only the endpoint
// holding the matching private key can open it.

// PublicSize is the connection token's cleartext prefix size. The wire
// format pins this at 43 bytes; version+protocol+expires+sequence account
// for 34 of them, and the remaining 9 bytes are reserved padding rather
// than a further semantic field.
const PublicSize = 43

// PrivateDataSize is the plaintext size of the token's private section,
// before sealing: a user id plus the two per-connection traffic keys.
const PrivateDataSize = 8 + KeySize + KeySize

// TokenSize is the full wire size of a sealed connection token.
const TokenSize = PublicSize + PrivateDataSize + MACSize

// PrivateData is the confidential half of a connection token: the user id
// the endpoint should attribute the connection to, and the two traffic
// keys used for the resulting channel's frames in each direction.
type PrivateData struct {
	UserID    uint64
	ServerKey Key
	ClientKey Key
}

func (p PrivateData) encode() []byte {
	buf := make([]byte, PrivateDataSize)
	binary.BigEndian.PutUint64(buf[0:8], p.UserID)
	copy(buf[8:8+KeySize], p.ServerKey[:])
	copy(buf[8+KeySize:8+2*KeySize], p.ClientKey[:])
	return buf
}

func decodePrivateData(buf []byte) PrivateData {
	var p PrivateData
	p.UserID = binary.BigEndian.Uint64(buf[0:8])
	copy(p.ServerKey[:], buf[8:8+KeySize])
	copy(p.ClientKey[:], buf[8+KeySize:8+2*KeySize])
	return p
}

// ConnectionToken is the full, sealed token presented by a connecting
// client.
type ConnectionToken struct {
	Version    [16]byte
	ProtocolID uint16
	ExpiresAt  uint64
	Sequence   uint64 // AEAD sequence the private section was sealed under
	Private    []byte // sealed PrivateData, PrivateDataSize+MACSize bytes
}

// SealToken builds a sealed connection token for data, expiring at
// expiresAt and sealed under sequence (the same sequence the server must
// supply when later calling Open).
func SealToken(version [16]byte, protocolID uint16, sequence uint64, expiresAt time.Time, data PrivateData, serverKey Key) (ConnectionToken, error) {
	aead, err := NewAEAD(serverKey)
	if err != nil {
		return ConnectionToken{}, fmt.Errorf("neutronium: build token AEAD: %w", err)
	}
	expires := uint64(expiresAt.Unix())
	ad := TokenAD(version, protocolID, expires)
	sealed := Seal(aead, sequence, ad, data.encode(), nil)
	return ConnectionToken{
		Version:    version,
		ProtocolID: protocolID,
		ExpiresAt:  expires,
		Sequence:   sequence,
		Private:    sealed,
	}, nil
}

// Encode writes the full wire representation of t into a new TokenSize
// buffer.
func (t ConnectionToken) Encode() []byte {
	buf := make([]byte, TokenSize)
	copy(buf[0:16], t.Version[:])
	binary.BigEndian.PutUint16(buf[16:18], t.ProtocolID)
	binary.BigEndian.PutUint64(buf[18:26], t.ExpiresAt)
	binary.BigEndian.PutUint64(buf[26:34], t.Sequence)
	// buf[34:43] reserved.
	copy(buf[PublicSize:], t.Private)
	return buf
}

// DecodeToken parses the cleartext envelope of a token without opening its
// private section.
func DecodeToken(buf []byte) (ConnectionToken, error) {
	if len(buf) != TokenSize {
		return ConnectionToken{}, Fatal(FatalSerialization, fmt.Errorf("connection token must be %d bytes, got %d", TokenSize, len(buf)))
	}
	var t ConnectionToken
	copy(t.Version[:], buf[0:16])
	t.ProtocolID = binary.BigEndian.Uint16(buf[16:18])
	t.ExpiresAt = binary.BigEndian.Uint64(buf[18:26])
	t.Sequence = binary.BigEndian.Uint64(buf[26:34])
	t.Private = append([]byte(nil), buf[PublicSize:]...)
	return t, nil
}

// Open verifies the token hasn't expired and authenticates/decrypts its
// private section under serverKey.
func (t ConnectionToken) Open(serverKey Key, now time.Time) (PrivateData, error) {
	if t.ExpiresAt <= uint64(now.Unix()) {
		return PrivateData{}, Fatal(FatalExpired, nil)
	}
	aead, err := NewAEAD(serverKey)
	if err != nil {
		return PrivateData{}, fmt.Errorf("neutronium: build token AEAD: %w", err)
	}
	ad := TokenAD(t.Version, t.ProtocolID, t.ExpiresAt)
	plain, err := Open(aead, t.Sequence, ad, t.Private, nil)
	if err != nil {
		return PrivateData{}, err
	}
	return decodePrivateData(plain), nil
}
