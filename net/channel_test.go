//go:build linux

package net

import (
	"bytes"
	"testing"
	"time"
)

func newConnectedChannelPair(t *testing.T) (*Channel, *Channel, PrivateData, Key) {
	t.Helper()
	serverKey, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	serverTraffic, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	clientTraffic, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}
	private := PrivateData{UserID: 7, ServerKey: serverTraffic, ClientKey: clientTraffic}

	var version [16]byte
	copy(version[:], []byte("neutronium-v1"))
	now := time.Unix(1_700_000_000, 0)
	token, err := SealToken(version, 42, 0, now.Add(time.Hour), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}

	server, err := NewChannel(PageIncrement, time.Minute, version, 42)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := server.ReadConnectionToken(token.Encode(), serverKey, now); err != nil {
		t.Fatalf("ReadConnectionToken: %v", err)
	}

	client, err := NewChannel(PageIncrement, time.Minute, version, 42)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	// The client side derives the same channel state directly from the
	// private data it already possesses, rather than re-parsing a token.
	// Keys are swapped relative to the server: the client decrypts with
	// the client-bound key and encrypts with the server-inbound key.
	readAEAD, _ := NewAEAD(clientTraffic)
	writeAEAD, _ := NewAEAD(serverTraffic)
	client.Version = version
	client.Protocol = 42
	client.UserID = 7
	client.readAEAD = readAEAD
	client.writeAEAD = writeAEAD
	client.state = StateConnected
	client.lastActivity = now

	return server, client, private, serverKey
}

func TestChannelHandshakeAndPayloadRoundtrip(t *testing.T) {
	server, client, _, _ := newConnectedChannelPair(t)
	now := time.Unix(1_700_000_001, 0)

	if err := client.WritePayload([]byte("hello server")); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}

	var wire bytes.Buffer
	if err := client.PumpOut(&wire, now); err != nil {
		t.Fatalf("PumpOut: %v", err)
	}
	if err := server.PumpIn(&wire, Key{}, now); err != nil {
		t.Fatalf("PumpIn: %v", err)
	}

	payloads := server.TakePayloads()
	if len(payloads) != 1 || string(payloads[0]) != "hello server" {
		t.Fatalf("unexpected decoded payloads: %v", payloads)
	}
	if server.State() != StateConnected {
		t.Fatalf("expected server channel to remain connected")
	}
}

func TestChannelRejectsReplayedSequence(t *testing.T) {
	server, client, _, _ := newConnectedChannelPair(t)
	now := time.Unix(1_700_000_001, 0)

	client.WritePayload([]byte("one"))
	var wire bytes.Buffer
	client.PumpOut(&wire, now)
	replay := append([]byte(nil), wire.Bytes()...)

	if err := server.PumpIn(&wire, Key{}, now); err != nil {
		t.Fatalf("first PumpIn: %v", err)
	}
	server.TakePayloads()

	if err := server.PumpIn(bytes.NewReader(replay), Key{}, now); err == nil {
		t.Fatalf("expected a sequence mismatch error on replay")
	}
	if server.State() != StateDisconnected || server.Reason() != ReasonProtocolError {
		t.Fatalf("expected replay to disconnect with protocol_error, got state=%v reason=%v", server.State(), server.Reason())
	}
}

func TestChannelTimesOutOnInactivity(t *testing.T) {
	server, client, _, _ := newConnectedChannelPair(t)
	server.timeout = time.Second

	client.WriteControl(CategoryKeepalive)
	var wire bytes.Buffer
	start := time.Unix(1_700_000_001, 0)
	client.PumpOut(&wire, start)
	if err := server.PumpIn(&wire, Key{}, start); err != nil {
		t.Fatalf("PumpIn: %v", err)
	}
	if server.State() != StateConnected {
		t.Fatalf("expected channel to still be connected right after activity")
	}

	later := start.Add(2 * time.Second)
	if err := server.PumpIn(bytes.NewReader(nil), Key{}, later); err != nil {
		t.Fatalf("PumpIn: %v", err)
	}
	if server.State() != StateDisconnected || server.Reason() != ReasonTimedOut {
		t.Fatalf("expected timeout disconnect, got state=%v reason=%v", server.State(), server.Reason())
	}
}

func TestChannelExpiredTokenRejected(t *testing.T) {
	serverKey, _ := RandomKey()
	serverTraffic, _ := RandomKey()
	clientTraffic, _ := RandomKey()
	private := PrivateData{UserID: 1, ServerKey: serverTraffic, ClientKey: clientTraffic}

	var version [16]byte
	now := time.Unix(1_700_000_000, 0)
	token, err := SealToken(version, 1, 0, now.Add(time.Second), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}

	ch, err := NewChannel(PageIncrement, time.Minute, version, 1)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	err = ch.ReadConnectionToken(token.Encode(), serverKey, now.Add(time.Hour))
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalExpired {
		t.Fatalf("expected FatalExpired, got %v", err)
	}
}

func TestChannelRejectsProtocolMismatch(t *testing.T) {
	serverKey, _ := RandomKey()
	serverTraffic, _ := RandomKey()
	clientTraffic, _ := RandomKey()
	private := PrivateData{UserID: 1, ServerKey: serverTraffic, ClientKey: clientTraffic}

	var version [16]byte
	now := time.Unix(1_700_000_000, 0)
	token, err := SealToken(version, 1, 0, now.Add(time.Hour), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}

	ch, err := NewChannel(PageIncrement, time.Minute, version, 2)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	err = ch.ReadConnectionToken(token.Encode(), serverKey, now)
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalProtocolMismatch {
		t.Fatalf("expected FatalProtocolMismatch, got %v", err)
	}
	if ch.State() != StateHandshake {
		t.Fatalf("expected channel to remain in handshake after a rejected token, got %v", ch.State())
	}
}

func TestChannelRejectsVersionMismatch(t *testing.T) {
	serverKey, _ := RandomKey()
	serverTraffic, _ := RandomKey()
	clientTraffic, _ := RandomKey()
	private := PrivateData{UserID: 1, ServerKey: serverTraffic, ClientKey: clientTraffic}

	var tokenVersion, expectedVersion [16]byte
	copy(tokenVersion[:], []byte("v1"))
	copy(expectedVersion[:], []byte("v2"))
	now := time.Unix(1_700_000_000, 0)
	token, err := SealToken(tokenVersion, 1, 0, now.Add(time.Hour), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}

	ch, err := NewChannel(PageIncrement, time.Minute, expectedVersion, 1)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	err = ch.ReadConnectionToken(token.Encode(), serverKey, now)
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalVersionMismatch {
		t.Fatalf("expected FatalVersionMismatch, got %v", err)
	}
}

func TestChannelPumpInAdvancesPastRejectedHandshakeToken(t *testing.T) {
	serverKey, _ := RandomKey()
	serverTraffic, _ := RandomKey()
	clientTraffic, _ := RandomKey()
	private := PrivateData{UserID: 1, ServerKey: serverTraffic, ClientKey: clientTraffic}

	var version [16]byte
	now := time.Unix(1_700_000_000, 0)
	expired, err := SealToken(version, 1, 0, now.Add(-time.Second), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}

	ch, err := NewChannel(PageIncrement, time.Minute, version, 1)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	if err := ch.PumpIn(bytes.NewReader(expired.Encode()), serverKey, now); err == nil {
		t.Fatalf("expected PumpIn to surface the rejected token's error")
	}
	if got := ch.ingress.Len(); got != 0 {
		t.Fatalf("expected the rejected token to be fully consumed from the ingress buffer, got %d bytes buffered", got)
	}
}

func TestChannelRejectsOversizedEncryptedSize(t *testing.T) {
	server, _, _, _ := newConnectedChannelPair(t)
	now := time.Unix(1_700_000_001, 0)

	var header [HeaderSize]byte
	FrameHeader{Category: CategoryPayload, Sequence: 0, EncryptedSize: uint16(server.ingress.Capacity() - HeaderSize + 1)}.Encode(header[:])

	err := server.PumpIn(bytes.NewReader(header[:]), Key{}, now)
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalPayloadTooLarge {
		t.Fatalf("expected FatalPayloadTooLarge, got %v", err)
	}
}

func TestChannelRejectsZeroEncryptedSize(t *testing.T) {
	server, _, _, _ := newConnectedChannelPair(t)
	now := time.Unix(1_700_000_001, 0)

	var header [HeaderSize]byte
	FrameHeader{Category: CategoryPayload, Sequence: 0, EncryptedSize: 0}.Encode(header[:])

	err := server.PumpIn(bytes.NewReader(header[:]), Key{}, now)
	if fe, ok := AsFatal(err); !ok || fe.Kind != FatalEmptyPayload {
		t.Fatalf("expected FatalEmptyPayload, got %v", err)
	}
}
