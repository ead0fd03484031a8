package ecs

import "testing"

type idTestA struct{ x int }
type idTestB struct{ x int }
type idTestC struct{ x int }

func TestComponentClassOfIsIdempotent(t *testing.T) {
	a1 := ComponentClassOf[idTestA]()
	a2 := ComponentClassOf[idTestA]()
	if a1 != a2 {
		t.Fatalf("expected same ComponentClass for repeated registration, got %v and %v", a1, a2)
	}

	b := ComponentClassOf[idTestB]()
	if a1 == b {
		t.Fatalf("expected distinct ComponentClasses for distinct types")
	}
}

func TestShardKeyDecomposeAscending(t *testing.T) {
	a := ComponentClassOf[idTestA]()
	b := ComponentClassOf[idTestB]()
	c := ComponentClassOf[idTestC]()

	key := a.Key().Union(b.Key()).Union(c.Key())

	classes := key.Decompose()
	if len(classes) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(classes))
	}
	for i := 1; i < len(classes); i++ {
		if classes[i-1].Ordinal() >= classes[i].Ordinal() {
			t.Fatalf("decompose not ascending: %v then %v", classes[i-1], classes[i])
		}
	}

	var rebuilt ShardKey
	for _, class := range classes {
		rebuilt = rebuilt.With(class)
	}
	if rebuilt != key {
		t.Fatalf("union(decompose(k)) != k: got %v want %v", rebuilt, key)
	}
}

func TestShardKeyContains(t *testing.T) {
	a := ComponentClassOf[idTestA]()
	b := ComponentClassOf[idTestB]()
	c := ComponentClassOf[idTestC]()

	full := a.Key().Union(b.Key()).Union(c.Key())
	partial := a.Key().Union(b.Key())

	if !full.Contains(partial) {
		t.Fatalf("expected full to contain partial")
	}
	if partial.Contains(full) {
		t.Fatalf("did not expect partial to contain full")
	}
	if !full.ContainsClass(c) {
		t.Fatalf("expected full to contain class c")
	}
	if partial.ContainsClass(c) {
		t.Fatalf("did not expect partial to contain class c")
	}
}

func TestShardKeyCountAndEmpty(t *testing.T) {
	if !EmptyShardKey.Empty() {
		t.Fatalf("expected EmptyShardKey to be empty")
	}
	a := ComponentClassOf[idTestA]()
	if a.Key().Count() != 1 {
		t.Fatalf("expected single-class key to have count 1")
	}
}
