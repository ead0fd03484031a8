package ecs

import (
	"testing"
	"time"
)

type wA struct{ v int32 }
type wB struct{ v int32 }
type wC struct{ v int32 }

func TestWorldEntityLifecycle(t *testing.T) {
	w := NewWorld(time.Millisecond)
	classA := RegisterComponent[wA](w)
	classB := RegisterComponent[wB](w)
	classC := RegisterComponent[wC](w)
	w.Build()

	tx := w.Entities()
	e0 := SetComponent(SetComponent(tx.NewEntity(), wA{0}), wB{0}).Commit()
	e1 := SetComponent(SetComponent(tx.NewEntity(), wA{1}), wB{1}).Commit()
	e2 := SetComponent(SetComponent(SetComponent(tx.NewEntity(), wA{2}), wB{2}), wC{2}).Commit()

	w.processTransactions()

	abKey := classA.Key().Union(classB.Key()).With(EntityIDClass())
	abcKey := abKey.With(classC)

	if got := w.state.shards[abKey].Len(); got != 2 {
		t.Fatalf("expected AB shard length 2, got %d", got)
	}
	if got := w.state.shards[abcKey].Len(); got != 1 {
		t.Fatalf("expected ABC shard length 1, got %d", got)
	}

	w.external.Delete(e0)
	w.processTransactions()

	if loc, ok := w.state.entities[e1]; !ok || loc.Row != 0 {
		t.Fatalf("expected e1 to have swapped into row 0, got %+v ok=%v", loc, ok)
	}
	if _, ok := w.state.entities[e0]; ok {
		t.Fatalf("expected e0 to be gone from the registry")
	}

	w.external.Delete(e1)
	w.external.Delete(e2)
	w.processTransactions()

	if _, ok := w.state.shards[abKey]; ok {
		t.Fatalf("expected AB shard to be removed once empty")
	}
	if _, ok := w.state.shards[abcKey]; ok {
		t.Fatalf("expected ABC shard to be removed once empty")
	}
}

// iterSystem implements RunSystem, recording every (id, A, B) row it
// observes each frame plus any B mutation it applies.
type iterSystem struct {
	classA, classB ComponentClass
	seenIDs        []EntityId
	seenA          []int32
	seenB          []int32
}

func (s *iterSystem) Declare() Declaration {
	return Declaration{Components: []ComponentAccess{
		{Class: s.classA, Access: AccessRead},
		{Class: s.classB, Access: AccessWrite},
	}}
}

func (s *iterSystem) Init(*Resources) {}

func (s *iterSystem) Run(ctx *Context, tx *TransactionContext, router *Router) {
	s.seenIDs = s.seenIDs[:0]
	s.seenA = s.seenA[:0]
	s.seenB = s.seenB[:0]

	ForEach2[wA, wB](ctx, s.classA, s.classB, func(id EntityId, a *wA, b *wB) {
		s.seenIDs = append(s.seenIDs, id)
		s.seenA = append(s.seenA, a.v)
		s.seenB = append(s.seenB, b.v)
		b.v *= 10
	})
}

func TestWorldSystemIteration(t *testing.T) {
	w := NewWorld(time.Millisecond)
	classA := RegisterComponent[wA](w)
	classB := RegisterComponent[wB](w)

	sys := &iterSystem{classA: classA, classB: classB}
	RegisterSystem(w, "iter", sys)
	w.Build()

	tx := w.Entities()
	for i := int32(0); i < 3; i++ {
		SetComponent(SetComponent(tx.NewEntity(), wA{i}), wB{i}).Commit()
	}

	w.Step(time.Now())

	if len(sys.seenIDs) != 3 {
		t.Fatalf("expected system to observe 3 rows, got %d", len(sys.seenIDs))
	}
	for i := 0; i < 3; i++ {
		if sys.seenIDs[i] != EntityId(i) || sys.seenA[i] != int32(i) || sys.seenB[i] != int32(i) {
			t.Fatalf("row %d mismatch: id=%v a=%v b=%v", i, sys.seenIDs[i], sys.seenA[i], sys.seenB[i])
		}
	}

	// the write to B during frame 1 must be visible in frame 2.
	w.Step(time.Now())
	for i := 0; i < 3; i++ {
		if sys.seenB[i] != int32(i)*10 {
			t.Fatalf("expected mutated B value %d, got %d", int32(i)*10, sys.seenB[i])
		}
	}
}

type msgT1 struct{ v int }
type msgT2 struct{ v int }

type publishSystem struct {
	publish func(r *Router)
}

func (s *publishSystem) Declare() Declaration { return Declaration{} }
func (s *publishSystem) Init(*Resources)      {}
func (s *publishSystem) Run(ctx *Context, tx *TransactionContext, r *Router) {
	s.publish(r)
}

func TestWorldMessageLatencyAcrossSystems(t *testing.T) {
	w := NewWorld(time.Millisecond)

	var s1Reads []msgT2
	var s2Reads []msgT1

	s1 := &publishSystem{}
	s2 := &publishSystem{}

	s1.publish = func(r *Router) {
		s1Reads = append(s1Reads, RouterRead[msgT2](r)...)
		RouterPublish(r, msgT1{0})
		RouterPublish(r, msgT1{1})
	}
	s2.publish = func(r *Router) {
		s2Reads = append(s2Reads, RouterRead[msgT1](r)...)
		for i := 0; i < 3; i++ {
			RouterPublish(r, msgT2{i})
		}
	}

	RegisterSystem(w, "s1", s1)
	RegisterSystem(w, "s2", s2)
	w.Build()

	w.Step(time.Now()) // frame 1: both publish, neither has anything to read yet
	if len(s1Reads) != 0 || len(s2Reads) != 0 {
		t.Fatalf("expected no messages visible in frame 1")
	}

	w.Step(time.Now()) // frame 2: each reads the other's frame-1 output
	if len(s2Reads) != 2 || s2Reads[0].v != 0 || s2Reads[1].v != 1 {
		t.Fatalf("expected s2 to read s1's frame-1 T1 messages, got %v", s2Reads)
	}
	if len(s1Reads) != 3 || s1Reads[2].v != 2 {
		t.Fatalf("expected s1 to read s2's frame-1 T2 messages, got %v", s1Reads)
	}
}

type resourceT struct{ v int }

type resourceSystem struct {
	observed int
}

func (s *resourceSystem) Declare() Declaration { return Declaration{} }
func (s *resourceSystem) Init(*Resources)      {}
func (s *resourceSystem) Run(ctx *Context, tx *TransactionContext, r *Router) {
	s.observed = Res[*resourceT](ctx).v
}

func TestWorldResources(t *testing.T) {
	w := NewWorld(time.Millisecond)
	RegisterWorldResource(w, &resourceT{v: 42})

	sys := &resourceSystem{}
	RegisterSystem(w, "resource", sys)
	w.Build()

	w.Step(time.Now())

	if sys.observed != 42 {
		t.Fatalf("expected system to observe resource value 42, got %d", sys.observed)
	}
}

type spawningSystem struct {
	classA ComponentClass
	spawns int
}

func (s *spawningSystem) Declare() Declaration { return Declaration{} }
func (s *spawningSystem) Init(*Resources)      {}
func (s *spawningSystem) Run(ctx *Context, tx *TransactionContext, r *Router) {
	if s.spawns == 0 {
		SetComponent(tx.NewEntity(), wA{7}).Commit()
		s.spawns++
	}
}

func TestWorldSystemTransactionsApplyNextFrame(t *testing.T) {
	w := NewWorld(time.Millisecond)
	classA := RegisterComponent[wA](w)

	sys := &spawningSystem{classA: classA}
	RegisterSystem(w, "spawner", sys)
	w.Build()

	w.Step(time.Now())
	if len(w.state.entities) != 0 {
		t.Fatalf("expected the spawn staged in frame 1 to not yet be applied")
	}

	w.Step(time.Now())
	if len(w.state.entities) != 1 {
		t.Fatalf("expected the spawn staged in frame 1 to be applied at the start of frame 2")
	}
}
