package bridge

import (
	"fmt"
	"testing"
	"time"

	"github.com/adred-codev/neutronium/ecs"
)

type relayEvent struct{ Value string }

func encodeRelayEvent(e relayEvent) ([]byte, error) { return []byte(e.Value), nil }
func decodeRelayEvent(b []byte) (relayEvent, error) { return relayEvent{Value: string(b)}, nil }

// readerSystem records every relayEvent it observes on the central bus, so
// the test can assert a Dispatch-ed NATS message surfaces to application
// systems exactly one frame later.
type readerSystem struct {
	seen []relayEvent
}

func (r *readerSystem) Declare() ecs.Declaration { return ecs.Declaration{} }
func (r *readerSystem) Init(res *ecs.Resources)  {}
func (r *readerSystem) Run(ctx *ecs.Context, tx *ecs.TransactionContext, router *ecs.Router) {
	r.seen = append(r.seen, ecs.RouterRead[relayEvent](router)...)
}

func TestNatsRelayDeliversDispatchedMessageNextFrame(t *testing.T) {
	relay := NewNatsRelay[relayEvent]("neutronium.test", encodeRelayEvent, decodeRelayEvent)
	reader := &readerSystem{}

	w := ecs.NewWorld(time.Millisecond)
	ecs.RegisterSystem(w, "relay", relay)
	ecs.RegisterSystem(w, "reader", reader)
	w.Build()

	relay.Dispatch("neutronium.test", []byte("hello"))

	now := time.Unix(1_700_000_000, 0)
	w.Step(now)
	if len(reader.seen) != 0 {
		t.Fatalf("expected no delivery within the same frame the message was dispatched, got %v", reader.seen)
	}

	w.Step(now.Add(time.Millisecond))
	if len(reader.seen) != 1 || reader.seen[0].Value != "hello" {
		t.Fatalf("expected the dispatched message one frame later, got %v", reader.seen)
	}
}

func TestNatsRelayRunIsNoopWithoutAttachedBridge(t *testing.T) {
	relay := NewNatsRelay[relayEvent]("neutronium.test", encodeRelayEvent, decodeRelayEvent)
	w := ecs.NewWorld(time.Millisecond)
	ecs.RegisterSystem(w, "relay", relay)
	w.Build()

	// Stepping the world should not panic or block when no Bridge has been
	// attached yet — Run returns before republishing anything.
	w.Entities()
	if err := runSafely(func() { w.Step(time.Unix(1_700_000_000, 0)) }); err != nil {
		t.Fatalf("unexpected panic with no attached bridge: %v", err)
	}
}

func runSafely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
