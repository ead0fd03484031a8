package ecs

import "fmt"

// Column is the type-erased storage for one component class within a Shard.
// Concrete columns are *typedColumn[T]; Column lets a Shard manage a
// heterogeneous set of them uniformly (the Go generics substitute for the
// source's dynamic-downcast AnyVec, per the design notes on type-erased
// column vectors).
type Column interface {
	Len() int
	// appendFrom moves all values out of src, in order, onto the end of
	// this column. Panics if src does not hold the same concrete type.
	appendFrom(src Column)
	// swapRemove drops row, moving the last element into its place (unless
	// row is already last). Panics if row is out of bounds.
	swapRemove(row int)
}

// typedColumn is the concrete, type-safe storage for one ComponentClass.
type typedColumn[T any] struct {
	data []T
}

// NewColumn constructs an empty column for component type T. The World's
// component registry holds one such factory per registered ComponentClass
// so shards can be built for an arbitrary ShardKey without knowing concrete
// component types ahead of time.
func NewColumn[T any]() Column {
	return &typedColumn[T]{}
}

func (c *typedColumn[T]) Len() int { return len(c.data) }

func (c *typedColumn[T]) appendFrom(src Column) {
	other, ok := src.(*typedColumn[T])
	if !ok {
		panic(fmt.Sprintf("neutronium: ingest column type mismatch: expected %T", c))
	}
	c.data = append(c.data, other.data...)
}

func (c *typedColumn[T]) swapRemove(row int) {
	last := len(c.data) - 1
	if row < 0 || row > last {
		panic(fmt.Sprintf("neutronium: column swap-remove row %d out of bounds (len %d)", row, len(c.data)))
	}
	c.data[row] = c.data[last]
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
}

// Data returns the live backing slice. The slice is stable only until the
// next structural mutation of the owning shard (append/remove); callers
// that iterate across a frame must not retain it past that point.
func (c *typedColumn[T]) Data() []T { return c.data }

// ColumnData returns the typed backing slice of class's column in shard.
// Panics if the column does not exist or is not of type T — a programmer
// error (query/shard mismatch), never a runtime condition.
func ColumnData[T any](s *Shard, class ComponentClass) []T {
	col, ok := s.columns[class]
	if !ok {
		panic(fmt.Sprintf("neutronium: shard %v has no column for class %q", s.key, class.Name()))
	}
	typed, ok := col.(*typedColumn[T])
	if !ok {
		panic(fmt.Sprintf("neutronium: shard %v column %q is not of requested type", s.key, class.Name()))
	}
	return typed.Data()
}

// MutColumnData is ColumnData for write access. Requesting mutable access
// to the entity-id column is a programmer error: entity identity is
// World-managed and never mutated by systems.
func MutColumnData[T any](s *Shard, class ComponentClass) []T {
	if class == EntityIDClass() {
		panic("neutronium: entity id column is not writable")
	}
	return ColumnData[T](s, class)
}

// ShardDef is a staged, append-only batch of rows awaiting ingest into a
// Shard: one EntityId per row plus one typed column per non-id component
// class in the target shard.
type ShardDef struct {
	EntityIDs []EntityId
	Columns   map[ComponentClass]Column
}

// Shard is the archetype storage unit: every entity with an identical
// component set (its ShardKey) lives in one Shard, column-major, with row i
// of every column describing entity entityIDs[i].
type Shard struct {
	key       ShardKey
	entityIDs []EntityId
	columns   map[ComponentClass]Column
}

// NewShard constructs an empty shard for key with the given (empty)
// columns; columns must cover exactly decompose(key) minus the entity-id
// class.
func NewShard(key ShardKey, columns map[ComponentClass]Column) *Shard {
	return &Shard{key: key, columns: columns}
}

// NewShardWithEntities is as NewShard but pre-populates entity ids; used by
// tests constructing a non-empty shard directly.
func NewShardWithEntities(key ShardKey, entityIDs []EntityId, columns map[ComponentClass]Column) *Shard {
	return &Shard{key: key, entityIDs: entityIDs, columns: columns}
}

func (s *Shard) Key() ShardKey { return s.key }

func (s *Shard) Len() int { return len(s.entityIDs) }

func (s *Shard) EntityIDs() []EntityId { return s.entityIDs }

// Ingest appends every staged row in def onto the shard and returns the row
// index of the first appended row. def.EntityIDs must be non-empty and
// def.Columns must cover exactly this shard's non-id columns; either
// violation is a programmer error and panics.
func (s *Shard) Ingest(def *ShardDef) int {
	if len(def.EntityIDs) == 0 {
		panic("neutronium: ingest called with an empty shard definition")
	}
	if len(def.Columns) != len(s.columns) {
		panic(fmt.Sprintf("neutronium: ingest column count mismatch: shard has %d, def has %d", len(s.columns), len(def.Columns)))
	}

	rowStart := len(s.entityIDs)

	for class, col := range s.columns {
		staged, ok := def.Columns[class]
		if !ok {
			panic(fmt.Sprintf("neutronium: ingest missing column for class %q", class.Name()))
		}
		col.appendFrom(staged)
	}

	s.entityIDs = append(s.entityIDs, def.EntityIDs...)
	return rowStart
}

// Remove swap-removes row from every column (including the entity-id
// column). It returns the id of the entity that moved into row, and
// whether a move actually occurred (false when row was already last).
func (s *Shard) Remove(row int) (movedID EntityId, moved bool) {
	last := len(s.entityIDs) - 1
	if row < 0 || row > last {
		panic(fmt.Sprintf("neutronium: shard remove row %d out of bounds (len %d)", row, len(s.entityIDs)))
	}

	moved = row != last
	movedID = s.entityIDs[last]

	s.entityIDs[row] = s.entityIDs[last]
	s.entityIDs = s.entityIDs[:last]

	for _, col := range s.columns {
		col.swapRemove(row)
	}

	return movedID, moved
}
