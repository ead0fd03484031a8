package ecs

import (
	"sync/atomic"
	"time"
)

// Access distinguishes read from write component/resource usage in a
// system's Declaration.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
)

// ComponentAccess names one component class a system touches and whether it
// reads or writes it.
type ComponentAccess struct {
	Class  ComponentClass
	Access Access
}

// Declaration is a system's static component-access capability set — the
// Go replacement for the source's macro-generated, arity-specific query
// tuples (see design notes on compile-time polymorphism over heterogeneous
// tuples). It drives both the access-rule check at registration and which
// shards the system's runtime cache matches.
type Declaration struct {
	Components []ComponentAccess
}

// queryKey is the union of every declared component class, used to test
// shard membership: a shard matches iff its key is a superset of queryKey.
func (d Declaration) queryKey() ShardKey {
	var k ShardKey
	for _, c := range d.Components {
		k = k.With(c.Class)
	}
	return k
}

// EntityLoc is a World entity registry entry: which shard an entity lives
// in and its row within that shard's columns.
type EntityLoc struct {
	Key ShardKey
	Row int
}

// Context is the per-frame, per-system view into World storage: the shards
// matching the system's declared query, the global entity location table
// for random access, frame timing, and the resource registry.
type Context struct {
	shardOrder []ShardKey
	shards     map[ShardKey]*Shard
	entities   map[EntityId]EntityLoc
	Delta      float32
	Timestamp  time.Time
	resources  *Resources
}

// Res returns the registered singleton resource of type T.
func Res[T any](ctx *Context) T { return GetResource[T](ctx.resources) }

// ForEach1 iterates every row of every shard matching the system's query,
// yielding the row's entity id and a pointer to its A column cell. The
// pointer aliases the shard's live storage: write it to mutate in place.
func ForEach1[A any](ctx *Context, ca ComponentClass, fn func(id EntityId, a *A)) {
	for _, key := range ctx.shardOrder {
		shard := ctx.shards[key]
		ids := shard.EntityIDs()
		as := ColumnData[A](shard, ca)
		for i := range ids {
			fn(ids[i], &as[i])
		}
	}
}

// ForEach2 is ForEach1 for two columns, row-zipped within each shard.
func ForEach2[A, B any](ctx *Context, ca, cb ComponentClass, fn func(id EntityId, a *A, b *B)) {
	for _, key := range ctx.shardOrder {
		shard := ctx.shards[key]
		ids := shard.EntityIDs()
		as := ColumnData[A](shard, ca)
		bs := ColumnData[B](shard, cb)
		for i := range ids {
			fn(ids[i], &as[i], &bs[i])
		}
	}
}

// ForEach3 is ForEach1 for three columns.
func ForEach3[A, B, C any](ctx *Context, ca, cb, cc ComponentClass, fn func(id EntityId, a *A, b *B, c *C)) {
	for _, key := range ctx.shardOrder {
		shard := ctx.shards[key]
		ids := shard.EntityIDs()
		as := ColumnData[A](shard, ca)
		bs := ColumnData[B](shard, cb)
		cs := ColumnData[C](shard, cc)
		for i := range ids {
			fn(ids[i], &as[i], &bs[i], &cs[i])
		}
	}
}

// ForEach4 is ForEach1 for four columns.
func ForEach4[A, B, C, D any](ctx *Context, ca, cb, cc, cd ComponentClass, fn func(id EntityId, a *A, b *B, c *C, d *D)) {
	for _, key := range ctx.shardOrder {
		shard := ctx.shards[key]
		ids := shard.EntityIDs()
		as := ColumnData[A](shard, ca)
		bs := ColumnData[B](shard, cb)
		cs := ColumnData[C](shard, cc)
		ds := ColumnData[D](shard, cd)
		for i := range ids {
			fn(ids[i], &as[i], &bs[i], &cs[i], &ds[i])
		}
	}
}

// ForIDs1 looks up each of the given ids via the world's entity registry
// and invokes fn for the ones that live in a shard matching this system's
// query (others are silently skipped), mirroring the source's
// ComponentContext::for_each random-access entry point.
func ForIDs1[A any](ctx *Context, ids []EntityId, ca ComponentClass, fn func(id EntityId, a *A)) {
	for _, id := range ids {
		loc, ok := ctx.entities[id]
		if !ok {
			continue
		}
		shard, ok := ctx.shards[loc.Key]
		if !ok {
			continue
		}
		a := &ColumnData[A](shard, ca)[loc.Row]
		fn(id, a)
	}
}

// ForIDs2 is ForIDs1 for two columns.
func ForIDs2[A, B any](ctx *Context, ids []EntityId, ca, cb ComponentClass, fn func(id EntityId, a *A, b *B)) {
	for _, id := range ids {
		loc, ok := ctx.entities[id]
		if !ok {
			continue
		}
		shard, ok := ctx.shards[loc.Key]
		if !ok {
			continue
		}
		a := &ColumnData[A](shard, ca)[loc.Row]
		b := &ColumnData[B](shard, cb)[loc.Row]
		fn(id, a, b)
	}
}

// Router routes a system's inbound/outbound messages for one frame: reads
// come from the previous frame's central bus, publishes go to this
// system's private outbound bus (merged into the central bus after every
// system has run).
type Router struct {
	incoming *Bus
	outgoing *Bus
}

// RouterRead reads the previous frame's messages of type T.
func RouterRead[T any](r *Router) []T { return Read[T](r.incoming) }

// RouterPublish publishes one message of type T onto this system's
// outbound bus.
func RouterPublish[T any](r *Router, msg T) { Publish[T](r.outgoing, msg) }

// RouterBatch begins a batched publish of type T onto this system's
// outbound bus.
func RouterBatch[T any](r *Router) *Batcher[T] { return Batch[T](r.outgoing) }

// RunSystem is implemented by application code to define one system: its
// static component-access declaration, one-time init, and per-frame Run.
type RunSystem interface {
	// Declare returns this system's component access. Called once at
	// registration.
	Declare() Declaration
	// Init runs once, after World.Build, before the first frame.
	Init(res *Resources)
	// Run executes one frame for this system.
	Run(ctx *Context, tx *TransactionContext, router *Router)
}

// systemRuntime wraps a RunSystem with the bookkeeping the World needs to
// schedule it: its cached matching shards (kept current by addShard /
// removeShard notifications, never recomputed wholesale per frame), its
// private outbound bus, and its own TransactionContext.
type systemRuntime struct {
	name       string
	class      SystemClass
	impl       RunSystem
	decl       Declaration
	queryKey   ShardKey
	shardOrder []ShardKey
	shards     map[ShardKey]*Shard
	messages   *Bus
	tx         *TransactionContext
}

func newSystemRuntime(name string, class SystemClass, impl RunSystem, idCounter *atomic.Uint64) *systemRuntime {
	decl := impl.Declare()
	return &systemRuntime{
		name:     name,
		class:    class,
		impl:     impl,
		decl:     decl,
		queryKey: decl.queryKey(),
		shards:   make(map[ShardKey]*Shard),
		messages: NewBus(),
		tx:       NewTransactionContext(idCounter),
	}
}

// checkShard reports whether shard shardKey is a superset of this system's
// declared query key — i.e. whether the system's query matches it.
func (s *systemRuntime) checkShard(shardKey ShardKey) bool {
	return shardKey.Contains(s.queryKey)
}

func (s *systemRuntime) addShard(shard *Shard) {
	if !s.checkShard(shard.Key()) {
		return
	}
	if _, exists := s.shards[shard.Key()]; !exists {
		s.shardOrder = append(s.shardOrder, shard.Key())
	}
	s.shards[shard.Key()] = shard
}

func (s *systemRuntime) removeShard(key ShardKey) {
	if !s.checkShard(key) {
		return
	}
	if _, exists := s.shards[key]; !exists {
		return
	}
	delete(s.shards, key)
	for i, k := range s.shardOrder {
		if k == key {
			s.shardOrder = append(s.shardOrder[:i], s.shardOrder[i+1:]...)
			break
		}
	}
}

func (s *systemRuntime) init(resources *Resources) {
	s.impl.Init(resources)
}

func (s *systemRuntime) run(entities map[EntityId]EntityLoc, incoming *Bus, delta float32, timestamp time.Time, resources *Resources) {
	ctx := &Context{
		shardOrder: s.shardOrder,
		shards:     s.shards,
		entities:   entities,
		Delta:      delta,
		Timestamp:  timestamp,
		resources:  resources,
	}
	router := &Router{incoming: incoming, outgoing: s.messages}
	s.impl.Run(ctx, s.tx, router)
}

func (s *systemRuntime) transferMessages(central *Bus) {
	central.transfer(s.messages)
}
