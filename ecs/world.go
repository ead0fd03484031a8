package ecs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adred-codev/neutronium/metrics"
)

const defaultFrameDelta = 50 * time.Millisecond

// GameState is the World's shard storage and entity location registry —
// the data a frame's transaction application pass mutates.
type GameState struct {
	shards          map[ShardKey]*Shard
	entities        map[EntityId]EntityLoc
	columnFactories map[ComponentClass]func() Column
}

// World composes identity, shard storage, transactions, the message bus
// and the system scheduler into one frame loop. It owns one external
// TransactionContext for application code outside any system (e.g. the
// network layer staging newly-connected players) and one per registered
// system.
type World struct {
	state      *GameState
	registry   *systemRegistry
	external   *TransactionContext
	idCounter  *atomic.Uint64
	resources  *Resources
	centralBus *Bus
	frameDelta time.Duration
	built      bool
}

// NewWorld constructs an empty World. frameDelta is the minimum wall-clock
// duration per frame for Run's rate limiting; zero selects the 50ms
// default.
func NewWorld(frameDelta time.Duration) *World {
	if frameDelta <= 0 {
		frameDelta = defaultFrameDelta
	}
	w := &World{
		state: &GameState{
			shards:          make(map[ShardKey]*Shard),
			entities:        make(map[EntityId]EntityLoc),
			columnFactories: make(map[ComponentClass]func() Column),
		},
		registry:   &systemRegistry{},
		idCounter:  new(atomic.Uint64),
		resources:  newResources(),
		centralBus: NewBus(),
		frameDelta: frameDelta,
	}
	w.external = NewTransactionContext(w.idCounter)
	return w
}

// FrameDelta returns the World's configured minimum frame period.
func (w *World) FrameDelta() time.Duration { return w.frameDelta }

// RegisterComponent declares component type T, installing the column
// factory the World uses to build shards that include T. Safe to call
// multiple times for the same T.
func RegisterComponent[T any](w *World) ComponentClass {
	class := ComponentClassOf[T]()
	if _, ok := w.state.columnFactories[class]; !ok {
		w.state.columnFactories[class] = func() Column { return NewColumn[T]() }
	}
	return class
}

// RegisterSystem adds impl to the World under name, in registration order.
// Panics if impl's Declare() repeats a component class, or if the World
// has already been Build-ed.
func RegisterSystem(w *World, name string, impl RunSystem) SystemClass {
	if w.built {
		panic("neutronium: cannot register a system after World.Build")
	}
	class := SystemClass{ordinal: systemUniverse.register(name)}
	rt := newSystemRuntime(name, class, impl, w.idCounter)
	w.registry.register(rt)
	return class
}

// RegisterWorldResource installs value as the World's singleton resource of
// type T, available to every system via Context's Res accessor.
func RegisterWorldResource[T any](w *World, value T) {
	RegisterResource[T](w.resources, value)
}

// Build finalises registration: every system's Init runs exactly once,
// after which RegisterSystem and RegisterComponent must not be called
// again.
func (w *World) Build() {
	w.registry.initAll(w.resources)
	w.built = true
}

// Entities returns the World's external TransactionContext, for staging
// entity creation/destruction from outside any system (e.g. the endpoint
// layer spawning an entity for a newly connected player). Valid only after
// Build.
func (w *World) Entities() *TransactionContext {
	if !w.built {
		panic("neutronium: World.Entities called before Build")
	}
	return w.external
}

// Resources returns the World's resource registry directly, for tests and
// bridges that need to read a resource outside a system's Run.
func (w *World) Resources() *Resources { return w.resources }

func (w *World) getOrCreateShard(key ShardKey) (shard *Shard, isNew bool) {
	if s, ok := w.state.shards[key]; ok {
		return s, false
	}
	columns := make(map[ComponentClass]Column)
	for _, class := range key.Decompose() {
		if class == EntityIDClass() {
			continue
		}
		factory, ok := w.state.columnFactories[class]
		if !ok {
			panic(fmt.Sprintf("neutronium: component class %q appears in a shard key but was never registered", class.Name()))
		}
		columns[class] = factory()
	}
	shard = NewShard(key, columns)
	w.state.shards[key] = shard
	return shard, true
}

// applyAdd implements §4.3 Apply-add: find-or-create the shard, notify
// systems of its appearance before the first row ever lands in it, ingest,
// then register every new id's location.
func (w *World) applyAdd(key ShardKey, def *ShardDef) {
	shard, isNew := w.getOrCreateShard(key)
	if isNew {
		w.registry.addShard(shard)
	}
	rowStart := shard.Ingest(def)
	for i, id := range def.EntityIDs {
		w.state.entities[id] = EntityLoc{Key: key, Row: rowStart + i}
	}
}

// applyDelete implements §4.3 Apply-delete: remove the row, fix up the
// registry entry of whichever entity moved into the vacated row, and
// notify systems if the shard emptied out.
func (w *World) applyDelete(id EntityId) {
	loc, ok := w.state.entities[id]
	if !ok {
		return
	}
	shard := w.state.shards[loc.Key]
	movedID, moved := shard.Remove(loc.Row)
	delete(w.state.entities, id)
	if moved {
		w.state.entities[movedID] = EntityLoc{Key: loc.Key, Row: loc.Row}
	}
	if shard.Len() == 0 {
		w.registry.removeShard(loc.Key)
		delete(w.state.shards, loc.Key)
	}
}

// processContext applies every staged edit in tx: deletions before
// additions, so a delete-then-readd of the same id within one frame is
// well defined.
func (w *World) processContext(tx *TransactionContext) {
	added, deleted := tx.drain()
	for _, id := range deleted {
		w.applyDelete(id)
	}
	for key, def := range added {
		w.applyAdd(key, def)
	}
}

// processTransactions applies the external context first, then every
// system's context in registration order — matching the order systems
// observe structural changes from each other.
func (w *World) processTransactions() {
	w.processContext(w.external)
	for _, s := range w.registry.systems {
		w.processContext(s.tx)
	}
}

// processSystems runs every system in registration order, handing each one
// the previous frame's central bus to read from.
func (w *World) processSystems(delta float32, timestamp time.Time) {
	for _, s := range w.registry.systems {
		s.run(w.state.entities, w.centralBus, delta, timestamp, w.resources)
	}
}

// processMessages merges this frame's per-system outboxes into the central
// bus, in registration order, after first clearing it — giving one-frame
// message latency with deterministic (producer-order, publish-order)
// ordering.
func (w *World) processMessages() {
	w.centralBus.Clear()
	for _, s := range w.registry.systems {
		s.transferMessages(w.centralBus)
	}
}

// Step runs exactly one frame: apply staged transactions, run every
// system, then merge messages for the next frame's reads.
func (w *World) Step(timestamp time.Time) {
	start := time.Now()
	delta := float32(w.frameDelta.Seconds())
	w.processTransactions()
	w.processSystems(delta, timestamp)
	w.processMessages()

	metrics.WorldStepDuration.Observe(time.Since(start).Seconds())
	metrics.WorldEntities.Set(float64(len(w.state.entities)))
	metrics.WorldShards.Set(float64(len(w.state.shards)))
}

// RunOnce runs a single frame using the current wall-clock time.
func (w *World) RunOnce() { w.Step(time.Now()) }

// Run loops Step, sleeping out the remainder of frameDelta each tick, until
// stop is closed or receives a value. This is the World's only blocking
// call (§5 Suspension points).
func (w *World) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		w.Step(start)
		if elapsed := time.Since(start); elapsed < w.frameDelta {
			time.Sleep(w.frameDelta - elapsed)
		}
	}
}
