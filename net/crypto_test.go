package net

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	var version [16]byte
	ad := FrameAD(version, 1, CategoryPayload)
	sealed := Seal(aead, 5, ad, []byte("payload"), nil)

	plain, err := Open(aead, 5, ad, sealed, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(plain, []byte("payload")) {
		t.Fatalf("got %q want %q", plain, "payload")
	}
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	key, _ := RandomKey()
	aead, _ := NewAEAD(key)
	var version [16]byte
	ad := FrameAD(version, 1, CategoryPayload)
	sealed := Seal(aead, 5, ad, []byte("payload"), nil)

	_, err := Open(aead, 6, ad, sealed, nil)
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalCrypto {
		t.Fatalf("expected FatalCrypto for wrong sequence/nonce, got %v", err)
	}
}

func TestNonceEncodesSequenceBigEndianInLowBytes(t *testing.T) {
	n := Nonce(1)
	want := [NonceSize]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	if n != want {
		t.Fatalf("got %x want %x", n, want)
	}
}

func TestParseKeyRoundtrip(t *testing.T) {
	want, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(want[:])

	got, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if got != want {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	_, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("too short")))
	if err == nil {
		t.Fatalf("expected an error for a non-32-byte key")
	}
}
