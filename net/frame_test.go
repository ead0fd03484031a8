package net

import "testing"

func TestFrameHeaderEncodeDecodeRoundtrip(t *testing.T) {
	h := FrameHeader{Category: CategoryPayload, Sequence: 0x0102030405060708, EncryptedSize: 321}
	var buf [HeaderSize]byte
	h.Encode(buf[:])

	got := DecodeFrameHeader(buf[:])
	if got != h {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, h)
	}
}

func TestControlFrameEncodeDecodeRoundtrip(t *testing.T) {
	body := EncodeControlFrame(ControlFrame{Category: CategoryKeepalive, UserID: 42})
	got, err := DecodeControlFrame(CategoryKeepalive, body)
	if err != nil {
		t.Fatalf("DecodeControlFrame: %v", err)
	}
	if got.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", got.UserID)
	}
}

func TestDecodeControlFrameRejectsWrongSize(t *testing.T) {
	_, err := DecodeControlFrame(CategoryKeepalive, []byte{1, 2, 3})
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalIncorrectCategory {
		t.Fatalf("expected FatalIncorrectCategory, got %v", err)
	}
}
