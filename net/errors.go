// Package net implements the wire protocol and connection endpoint: a
// double-mapped ring buffer, an AEAD-framed codec, a per-connection
// handshake state machine (Channel) and a non-blocking, poll-driven
// Endpoint managing a pool of channels.
package net

import (
	"errors"
	"fmt"
)

// ErrWait signals "no progress possible this call" — a short read/write or
// an empty poller pass. It is never surfaced to application code as a
// failure: every API returning it means "try again next tick", not "this
// failed".
var ErrWait = errors.New("neutronium: wait")

// FatalKind classifies the fatal (non-recoverable) wire and channel errors
// named in §7 of the error handling design. Every fatal error closes the
// owning channel without a notify frame, and none of them are retried. A
// fatal error on a connected channel also enqueues a Disconnected change;
// one raised while the channel is still in handshake enqueues no change.
type FatalKind int

const (
	FatalExpired FatalKind = iota
	FatalDuplicate
	FatalAlreadyConnected
	FatalPayloadTooLarge
	FatalEmptyPayload
	FatalIncorrectCategory
	FatalProtocolMismatch
	FatalVersionMismatch
	FatalSequenceMismatch
	FatalSerialization
	FatalCrypto
	FatalAddrParse
	FatalIO
)

func (k FatalKind) String() string {
	switch k {
	case FatalExpired:
		return "expired"
	case FatalDuplicate:
		return "duplicate"
	case FatalAlreadyConnected:
		return "already_connected"
	case FatalPayloadTooLarge:
		return "payload_too_large"
	case FatalEmptyPayload:
		return "empty_payload"
	case FatalIncorrectCategory:
		return "incorrect_category"
	case FatalProtocolMismatch:
		return "protocol_mismatch"
	case FatalVersionMismatch:
		return "version_mismatch"
	case FatalSequenceMismatch:
		return "sequence_mismatch"
	case FatalSerialization:
		return "serialization"
	case FatalCrypto:
		return "crypto"
	case FatalAddrParse:
		return "addr_parse"
	case FatalIO:
		return "io"
	default:
		return "unknown"
	}
}

// FatalError wraps a FatalKind with its underlying cause, if any.
type FatalError struct {
	Kind  FatalKind
	Cause error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("neutronium: fatal %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("neutronium: fatal %s", e.Kind)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Fatal constructs a FatalError of the given kind.
func Fatal(kind FatalKind, cause error) error {
	return &FatalError{Kind: kind, Cause: cause}
}

// AsFatal reports whether err is a *FatalError, returning it if so.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

var (
	// ErrBufferOverrun is returned by Buffer.Ingress when capacity was
	// exhausted before the reader signalled would-block: the peer is
	// producing data faster than this buffer can absorb.
	ErrBufferOverrun = Fatal(FatalIO, errors.New("buffer overrun: capacity exhausted before reader signalled would-block"))

	// ErrZeroWrite is returned by Buffer.Egress when a write reports zero
	// bytes written without error while the buffer is non-empty.
	ErrZeroWrite = Fatal(FatalIO, errors.New("zero-byte write with non-empty buffer"))
)
