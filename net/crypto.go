package net

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize, MACSize and NonceSize are pinned to ChaCha20-Poly1305-IETF, the
// AEAD construction named by the wire format: a 256-bit key, a 128-bit
// authentication tag and a 96-bit nonce.
const (
	KeySize   = chacha20poly1305.KeySize
	MACSize   = chacha20poly1305.Overhead
	NonceSize = chacha20poly1305.NonceSize
)

// Key is a shared ChaCha20-Poly1305-IETF key.
type Key [KeySize]byte

// RandomKey generates a fresh key from the system CSPRNG.
func RandomKey() (Key, error) {
	var k Key
	_, err := rand.Read(k[:])
	return k, err
}

// ParseKey decodes a standard base64-encoded 32-byte key, the format the
// endpoint's server key is configured in.
func ParseKey(encoded string) (Key, error) {
	var k Key
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return k, fmt.Errorf("neutronium: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("neutronium: key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// NewAEAD builds the cipher.AEAD for one key.
func NewAEAD(key Key) (cipher.AEAD, error) {
	return chacha20poly1305.New(key[:])
}

// Nonce builds the 96-bit IETF nonce for a given frame/token sequence: the
// first four bytes are zero and the sequence occupies the low eight bytes,
// big-endian. The distilled specification pins this byte order explicitly;
// where it disagrees with the original source's encoding, the
// specification governs.
func Nonce(sequence uint64) [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint64(n[NonceSize-8:], sequence)
	return n
}

// FrameAD returns the associated data authenticated (but not encrypted)
// alongside a frame's ciphertext: protocol version, protocol id and frame
// category, binding a ciphertext to the exact wire context it was sealed
// under. The protocol tag is little-endian here even though it is
// big-endian on the outer token/header layer — both layers are bit-exact
// to the distilled wire format, which states the two orderings explicitly.
func FrameAD(version [16]byte, protocolID uint16, category Category) []byte {
	ad := make([]byte, 16+2+1)
	copy(ad[0:16], version[:])
	binary.LittleEndian.PutUint16(ad[16:18], protocolID)
	ad[18] = byte(category)
	return ad
}

// TokenAD returns the associated data for decrypting a connection token's
// private data section: protocol version, protocol id and the token's
// expiry timestamp, all little-endian per the wire format.
func TokenAD(version [16]byte, protocolID uint16, expiresAt uint64) []byte {
	ad := make([]byte, 16+2+8)
	copy(ad[0:16], version[:])
	binary.LittleEndian.PutUint16(ad[16:18], protocolID)
	binary.LittleEndian.PutUint64(ad[18:26], expiresAt)
	return ad
}

// Seal encrypts and authenticates plaintext under aead using the nonce
// derived from sequence, appending the result to dst.
func Seal(aead cipher.AEAD, sequence uint64, ad, plaintext, dst []byte) []byte {
	nonce := Nonce(sequence)
	return aead.Seal(dst, nonce[:], plaintext, ad)
}

// Open authenticates and decrypts ciphertext under aead using the nonce
// derived from sequence, appending the plaintext to dst. Authentication
// failure is reported as a FatalCrypto error.
func Open(aead cipher.AEAD, sequence uint64, ad, ciphertext, dst []byte) ([]byte, error) {
	nonce := Nonce(sequence)
	out, err := aead.Open(dst, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, Fatal(FatalCrypto, err)
	}
	return out, nil
}
