package bridge

import (
	"github.com/adred-codev/neutronium/ecs"
)

// NatsRelay is an ecs.RunSystem that gives a World an external fan-out
// point without changing ecs.Bus's in-process semantics: each frame it
// drains NATS messages queued since the previous frame onto the central
// bus, and republishes whatever was published of type T on the previous
// frame's central bus back out to NATS. Grounded on the teacher's Kafka consumer's
// decode-then-publish loop (internal/shared/kafka/consumer.go), transposed
// from a partitioned consumer group onto a single NATS subscription.
type NatsRelay[T any] struct {
	subject string
	encode  func(T) ([]byte, error)
	decode  func([]byte) (T, error)
	inbox   chan T
	bridge  *Bridge
}

// NewNatsRelay builds a relay for subject, not yet attached to a live
// Bridge. Call Dispatch as the Bridge's Config.Dispatch, then Attach once
// Connect succeeds — Publish needs a live connection that doesn't exist
// until after the subscription it will also feed is created.
func NewNatsRelay[T any](subject string, encode func(T) ([]byte, error), decode func([]byte) (T, error)) *NatsRelay[T] {
	return &NatsRelay[T]{
		subject: subject,
		encode:  encode,
		decode:  decode,
		inbox:   make(chan T, 1024),
	}
}

// Attach gives the relay the Bridge to publish outbound messages through.
func (r *NatsRelay[T]) Attach(b *Bridge) { r.bridge = b }

// Dispatch decodes an inbound NATS payload and queues it for the next
// frame's Run. Safe to call from the NATS client's delivery goroutine; a
// full inbox drops the message rather than blocking that goroutine.
func (r *NatsRelay[T]) Dispatch(_ string, payload []byte) {
	msg, err := r.decode(payload)
	if err != nil {
		return
	}
	select {
	case r.inbox <- msg:
	default:
	}
}

// Declare reports no component access: the relay only touches the message
// bus, never entity storage.
func (r *NatsRelay[T]) Declare() ecs.Declaration { return ecs.Declaration{} }

// Init is a no-op; the relay has no per-world setup.
func (r *NatsRelay[T]) Init(res *ecs.Resources) {}

// Run drains messages queued by Dispatch onto this frame's outbound bus
// (visible to every system next frame via Router.Read), then forwards
// whatever was published of type T on the previous frame's central bus
// out to NATS.
func (r *NatsRelay[T]) Run(ctx *ecs.Context, tx *ecs.TransactionContext, router *ecs.Router) {
drain:
	for {
		select {
		case msg := <-r.inbox:
			ecs.RouterPublish(router, msg)
		default:
			break drain
		}
	}

	if r.bridge == nil {
		return
	}
	for _, msg := range ecs.RouterRead[T](router) {
		payload, err := r.encode(msg)
		if err != nil {
			continue
		}
		r.bridge.Publish(r.subject, payload)
	}
}
