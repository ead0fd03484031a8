//go:build linux

package net

import (
	"net"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestEndpointAcceptsHandshakeAndDeliversPayload(t *testing.T) {
	serverKey, err := RandomKey()
	if err != nil {
		t.Fatalf("RandomKey: %v", err)
	}

	ep, err := NewEndpoint(EndpointConfig{
		ListenAddr:      "127.0.0.1:0",
		ServerKey:       serverKey,
		ChannelBuffer:   PageIncrement,
		MaxChannels:     8,
		ChannelTimeout:  time.Minute,
		AcceptRateLimit: rate.Inf,
		AcceptBurst:     8,
		ProtocolID:      7,
	})
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer ep.Close()

	addr := ep.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	serverTraffic, _ := RandomKey()
	clientTraffic, _ := RandomKey()
	private := PrivateData{UserID: 99, ServerKey: serverTraffic, ClientKey: clientTraffic}
	var version [16]byte
	now := time.Unix(1_700_000_000, 0)
	token, err := SealToken(version, 7, 0, now.Add(time.Hour), private, serverKey)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}
	if _, err := conn.Write(token.Encode()); err != nil {
		t.Fatalf("write token: %v", err)
	}

	// The endpoint's channel decrypts inbound client traffic with the
	// server-inbound key, so the client here must seal with that same key.
	clientWriteAEAD, _ := NewAEAD(serverTraffic)
	ad := FrameAD(version, 7, CategoryPayload)
	sealed := Seal(clientWriteAEAD, 0, ad, []byte("ping"), nil)
	var header [HeaderSize]byte
	FrameHeader{Category: CategoryPayload, Sequence: 0, EncryptedSize: uint16(len(sealed))}.Encode(header[:])
	frame := append(header[:], sealed...)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var payloads [][]byte
	for time.Now().Before(deadline) {
		if err := ep.Tick(time.Now()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		payloads = ep.TakePayloads(99)
		if len(payloads) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if len(payloads) != 1 || string(payloads[0]) != "ping" {
		t.Fatalf("expected to receive the ping payload, got %v", payloads)
	}
}
