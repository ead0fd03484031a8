package net

import (
	"crypto/cipher"
	"fmt"
	"io"
	"time"

	"github.com/adred-codev/neutronium/metrics"
)

// ChannelState is a connection's position in the handshake/traffic/teardown
// lifecycle.
type ChannelState int

const (
	// StateHandshake awaits the client's connection token; no AEAD-framed
	// traffic is accepted yet.
	StateHandshake ChannelState = iota
	// StateConnected exchanges Payload/Keepalive frames.
	StateConnected
	// StateDisconnected is terminal: the channel is eligible for pool
	// reuse once the endpoint observes it.
	StateDisconnected
)

func (s ChannelState) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DisconnectReason records why a channel left StateConnected, surfaced to
// application code via a ConnectionChange so it can distinguish a clean
// close from a protocol violation.
type DisconnectReason int

const (
	ReasonClientClosed DisconnectReason = iota
	ReasonServerClosed
	ReasonTimedOut
	ReasonProtocolError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonClientClosed:
		return "client_closed"
	case ReasonServerClosed:
		return "server_closed"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// MaxPayloadSize bounds a single Payload frame's plaintext size, keeping
// one frame well inside a Buffer's page-granular capacity.
const MaxPayloadSize = 4096

// Channel is one connection's handshake state, traffic keys, sequence
// counters and ingress/egress buffers. It never touches a socket directly:
// PumpIn/PumpOut are handed an io.Reader/io.Writer by the owning Endpoint,
// which is what actually multiplexes the poller-selected fds.
type Channel struct {
	UserID   uint64
	Version  [16]byte
	Protocol uint16

	state ChannelState
	ingress *Buffer
	egress  *Buffer

	readAEAD  cipher.AEAD
	writeAEAD cipher.AEAD
	readSeq   uint64
	writeSeq  uint64

	lastActivity time.Time // last successful ingress (handshake or frame)
	lastEgress   time.Time // last time bytes were actually flushed out
	openedAt     time.Time
	connectedAt  time.Time // set once, when the handshake completes
	timeout      time.Duration

	// expectedVersion/expectedProtocol are the endpoint's configured wire
	// identity; a presented connection token must match both exactly or the
	// handshake is fatally rejected (§4.7/§6).
	expectedVersion  [16]byte
	expectedProtocol uint16

	pendingPayloads [][]byte
	reason          DisconnectReason
}

// NewChannel constructs a channel in StateHandshake with freshly allocated
// ring buffers, rejecting any handshake token whose version/protocol don't
// match expectedVersion/expectedProtocol.
func NewChannel(bufferCapacity int, timeout time.Duration, expectedVersion [16]byte, expectedProtocol uint16) (*Channel, error) {
	in, err := NewBuffer(bufferCapacity)
	if err != nil {
		return nil, err
	}
	out, err := NewBuffer(bufferCapacity)
	if err != nil {
		in.Close()
		return nil, err
	}
	return &Channel{
		state:            StateHandshake,
		ingress:          in,
		egress:           out,
		timeout:          timeout,
		expectedVersion:  expectedVersion,
		expectedProtocol: expectedProtocol,
	}, nil
}

// Open (re)starts a channel's handshake clock at now; the Endpoint calls
// this once when a socket is admitted (and again after Reset, on reuse)
// since a pooled Channel has no socket-open timestamp of its own.
func (c *Channel) Open(now time.Time) {
	c.openedAt = now
	c.lastActivity = now
	c.lastEgress = now
}

// OpenedAt reports when the channel entered StateHandshake, for the
// endpoint's handshake-timeout housekeeping check.
func (c *Channel) OpenedAt() time.Time { return c.openedAt }

// LastIngress reports the last time the channel successfully consumed
// inbound bytes (handshake or frame), for the endpoint's ingress-timeout
// housekeeping check.
func (c *Channel) LastIngress() time.Time { return c.lastActivity }

// LastEgress reports the last time the channel actually flushed bytes to
// its transport, for the endpoint's keepalive-interval housekeeping check.
func (c *Channel) LastEgress() time.Time { return c.lastEgress }

// ConnectedAt reports when the handshake completed and the channel entered
// StateConnected, for the endpoint's connection-duration metric at
// disconnect. Zero if the channel never left StateHandshake.
func (c *Channel) ConnectedAt() time.Time { return c.connectedAt }

// Close releases the channel's ring buffers; the channel cannot be used
// afterwards. The endpoint recycles pooled channels through Reset and only
// closes them in Endpoint.Close.
func (c *Channel) Close() error {
	err1 := c.ingress.Close()
	err2 := c.egress.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Reset restores a disconnected channel to its pre-handshake state for
// pool reuse, discarding any residual buffered bytes and keys.
func (c *Channel) Reset() {
	c.state = StateHandshake
	c.UserID = 0
	c.readAEAD = nil
	c.writeAEAD = nil
	c.readSeq = 0
	c.writeSeq = 0
	c.ingress.Clear()
	c.egress.Clear()
	c.pendingPayloads = c.pendingPayloads[:0]
	c.reason = 0
	c.connectedAt = time.Time{}
}

// State reports the channel's current lifecycle state.
func (c *Channel) State() ChannelState { return c.state }

// Reason reports why a disconnected channel left StateConnected.
func (c *Channel) Reason() DisconnectReason { return c.reason }

// ReadConnectionToken consumes a freshly received connection token from
// the handshake buffer, opens it against serverKey, and on success derives
// the channel's traffic keys and transitions to StateConnected. now is
// used to reject expired tokens. Per §4.7, a token is checked in order:
// expires > now, protocol matches, version matches, then authenticated.
func (c *Channel) ReadConnectionToken(raw []byte, serverKey Key, now time.Time) error {
	if c.state != StateHandshake {
		return Fatal(FatalAlreadyConnected, nil)
	}
	token, err := DecodeToken(raw)
	if err != nil {
		return err
	}
	if token.ExpiresAt <= uint64(now.Unix()) {
		return Fatal(FatalExpired, nil)
	}
	if token.ProtocolID != c.expectedProtocol {
		return Fatal(FatalProtocolMismatch, fmt.Errorf("expected protocol %d, got %d", c.expectedProtocol, token.ProtocolID))
	}
	if token.Version != c.expectedVersion {
		return Fatal(FatalVersionMismatch, fmt.Errorf("expected version %x, got %x", c.expectedVersion, token.Version))
	}
	private, err := token.Open(serverKey, now)
	if err != nil {
		return err
	}
	// The server-inbound key decrypts traffic the client encrypted; the
	// client-bound key encrypts traffic this channel sends to the client.
	readAEAD, err := NewAEAD(private.ServerKey)
	if err != nil {
		return Fatal(FatalCrypto, err)
	}
	writeAEAD, err := NewAEAD(private.ClientKey)
	if err != nil {
		return Fatal(FatalCrypto, err)
	}
	c.Version = token.Version
	c.Protocol = token.ProtocolID
	c.UserID = private.UserID
	c.readAEAD = readAEAD
	c.writeAEAD = writeAEAD
	c.state = StateConnected
	c.lastActivity = now
	c.connectedAt = now
	return nil
}

// WriteControl stages a control frame (Keepalive/ConnectionAccepted/
// ConnectionClosed) for the next PumpOut.
func (c *Channel) WriteControl(category Category) error {
	if category == CategoryPayload {
		return Fatal(FatalIncorrectCategory, fmt.Errorf("WriteControl cannot send a payload frame"))
	}
	body := EncodeControlFrame(ControlFrame{Category: category, UserID: c.UserID})
	return c.writeFrame(category, body)
}

// WritePayload stages one application payload frame for the next PumpOut.
func (c *Channel) WritePayload(payload []byte) error {
	if len(payload) == 0 {
		return Fatal(FatalEmptyPayload, nil)
	}
	if len(payload) > MaxPayloadSize {
		return Fatal(FatalPayloadTooLarge, fmt.Errorf("payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize))
	}
	return c.writeFrame(CategoryPayload, payload)
}

func (c *Channel) writeFrame(category Category, plaintext []byte) error {
	if c.writeAEAD == nil {
		return Fatal(FatalIncorrectCategory, fmt.Errorf("write attempted before handshake completed"))
	}
	ad := FrameAD(c.Version, c.Protocol, category)
	sealed := Seal(c.writeAEAD, c.writeSeq, ad, plaintext, nil)

	var header [HeaderSize]byte
	FrameHeader{Category: category, Sequence: c.writeSeq, EncryptedSize: uint16(len(sealed))}.Encode(header[:])

	free := c.egress.WriteSlice()
	if len(free) < HeaderSize+len(sealed) {
		return ErrWait
	}
	n := copy(free, header[:])
	n += copy(free[n:], sealed)
	c.egress.MoveTail(n)
	c.writeSeq++
	metrics.FramesSent.WithLabelValues(category.String()).Inc()
	metrics.BytesSent.Add(float64(n))
	return nil
}

// PumpOut drains staged frames to w via the egress buffer, recording
// lastEgress when bytes actually left the buffer.
func (c *Channel) PumpOut(w io.Writer, now time.Time) error {
	before := c.egress.Len()
	err := c.egress.Egress(w)
	if c.egress.Len() < before {
		c.lastEgress = now
	}
	return err
}

// tryHandshake consumes a raw, fixed-size connection token from the front
// of the ingress buffer once enough bytes have arrived. Unlike ordinary
// traffic, the token is sent once, unframed, before any AEAD frame. The
// buffer head advances by TokenSize whether or not the token is accepted —
// a rejected token is still consumed, never replayed into the frame parser.
func (c *Channel) tryHandshake(serverKey Key, now time.Time) error {
	data := c.ingress.ReadSlice()
	if len(data) < TokenSize {
		return nil
	}
	raw := append([]byte(nil), data[:TokenSize]...)
	err := c.ReadConnectionToken(raw, serverKey, now)
	c.ingress.MoveHead(TokenSize)
	return err
}

// PumpIn pulls fresh bytes from r, completes the handshake if one is
// pending, and decodes every complete frame now buffered, appending
// payload frames to pendingPayloads and handling control frames inline
// (advancing state, recording DisconnectReason). now drives the handshake
// token's expiry check and the keepalive timeout check.
func (c *Channel) PumpIn(r io.Reader, serverKey Key, now time.Time) error {
	if err := c.ingress.Ingress(r); err != nil {
		return err
	}
	if c.state == StateHandshake {
		if err := c.tryHandshake(serverKey, now); err != nil {
			return err
		}
		if c.state == StateHandshake {
			return nil
		}
	}
	for {
		data := c.ingress.ReadSlice()
		if len(data) < HeaderSize {
			break
		}
		header := DecodeFrameHeader(data)
		if header.EncryptedSize == 0 {
			c.state = StateDisconnected
			c.reason = ReasonProtocolError
			metrics.RecordFrameError("empty_payload")
			return Fatal(FatalEmptyPayload, nil)
		}
		if int(header.EncryptedSize) > c.ingress.Capacity()-HeaderSize {
			c.state = StateDisconnected
			c.reason = ReasonProtocolError
			metrics.RecordFrameError("payload_too_large")
			return Fatal(FatalPayloadTooLarge, fmt.Errorf("encrypted size %d exceeds buffer capacity %d", header.EncryptedSize, c.ingress.Capacity()-HeaderSize))
		}
		total := HeaderSize + int(header.EncryptedSize)
		if len(data) < total {
			break
		}
		if err := c.handleFrame(header, data[HeaderSize:total], now); err != nil {
			return err
		}
		metrics.BytesReceived.Add(float64(total))
		c.ingress.MoveHead(total)
	}
	if c.timeout > 0 && c.state == StateConnected && now.Sub(c.lastActivity) > c.timeout {
		c.state = StateDisconnected
		c.reason = ReasonTimedOut
	}
	return nil
}

func (c *Channel) handleFrame(header FrameHeader, sealed []byte, now time.Time) error {
	if c.state != StateConnected {
		return Fatal(FatalIncorrectCategory, fmt.Errorf("frame received before handshake completed"))
	}
	if header.Sequence != c.readSeq {
		c.state = StateDisconnected
		c.reason = ReasonProtocolError
		metrics.RecordFrameError("sequence_mismatch")
		return Fatal(FatalSequenceMismatch, fmt.Errorf("expected sequence %d, got %d", c.readSeq, header.Sequence))
	}
	ad := FrameAD(c.Version, c.Protocol, header.Category)
	plain, err := Open(c.readAEAD, header.Sequence, ad, sealed, nil)
	if err != nil {
		c.state = StateDisconnected
		c.reason = ReasonProtocolError
		metrics.RecordFrameError("aead_open")
		return err
	}
	c.readSeq++
	c.lastActivity = now
	metrics.FramesReceived.WithLabelValues(header.Category.String()).Inc()

	switch header.Category {
	case CategoryPayload:
		if len(plain) == 0 {
			return Fatal(FatalEmptyPayload, nil)
		}
		c.pendingPayloads = append(c.pendingPayloads, plain)
	case CategoryKeepalive:
		// liveness only; lastActivity already advanced above.
	case CategoryConnectionClosed:
		c.state = StateDisconnected
		c.reason = ReasonClientClosed
	default:
		c.state = StateDisconnected
		c.reason = ReasonProtocolError
		return Fatal(FatalIncorrectCategory, fmt.Errorf("unexpected category %s from client", header.Category))
	}
	return nil
}

// TakePayloads returns and clears every payload frame decoded since the
// last call.
func (c *Channel) TakePayloads() [][]byte {
	out := c.pendingPayloads
	c.pendingPayloads = nil
	return out
}

// Disconnect transitions a connected channel to StateDisconnected for a
// server-initiated close (e.g. application shutdown, kick).
func (c *Channel) Disconnect(reason DisconnectReason) {
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	c.reason = reason
}
