package ecs

import (
	"fmt"
	"sync/atomic"
)

// EntityId opaquely identifies an entity, unique within the World that
// created it for that World's lifetime. The id column itself is a
// registered ComponentClass (entityIDClass below) so every shard carries an
// id column the same way it carries any other component's column.
type EntityId uint64

var entityIDClass = ComponentClassOf[EntityId]()

// EntityIDClass returns the ComponentClass every Shard's id column is keyed
// under. Registered once at package init, so it is always present in every
// ShardKey a World builds.
func EntityIDClass() ComponentClass { return entityIDClass }

// TransactionContext is a per-frame, per-producer staging area for
// structural edits (entity creation and destruction). The World owns one
// context visible to external callers and one per registered system, all
// sharing the same EntityId counter so ids are unique across the whole
// World regardless of which context minted them.
type TransactionContext struct {
	added     map[ShardKey]*ShardDef
	deleted   []EntityId
	idCounter *atomic.Uint64
}

// NewTransactionContext creates a context reserving ids from the shared
// counter. Multiple contexts over the same *atomic.Uint64 is how the World
// and its per-system contexts avoid contending over id assignment while
// still guaranteeing global uniqueness.
func NewTransactionContext(counter *atomic.Uint64) *TransactionContext {
	return &TransactionContext{
		added:     make(map[ShardKey]*ShardDef),
		idCounter: counter,
	}
}

func (tx *TransactionContext) stageDef(key ShardKey) *ShardDef {
	def, ok := tx.added[key]
	if !ok {
		def = &ShardDef{Columns: make(map[ComponentClass]Column)}
		tx.added[key] = def
	}
	return def
}

// Delete stages id for removal. Within a frame, deletions are applied
// before additions, so a delete-then-readd of the same id in one frame is
// well defined.
func (tx *TransactionContext) Delete(id EntityId) {
	tx.deleted = append(tx.deleted, id)
}

// drain returns the staged additions and deletions and resets the context
// for the next frame. Called only by the World during transaction
// application.
func (tx *TransactionContext) drain() (map[ShardKey]*ShardDef, []EntityId) {
	added, deleted := tx.added, tx.deleted
	tx.added = make(map[ShardKey]*ShardDef)
	tx.deleted = nil
	return added, deleted
}

// EntityBuilder stages a single new entity's components before reserving
// one id and committing it to the owning TransactionContext.
type EntityBuilder struct {
	tx      *TransactionContext
	key     ShardKey
	columns map[ComponentClass]Column
}

// NewEntity begins staging a single entity on tx.
func (tx *TransactionContext) NewEntity() *EntityBuilder {
	return &EntityBuilder{tx: tx, columns: make(map[ComponentClass]Column)}
}

// SetComponent stages value as entity's component of type T.
func SetComponent[T any](b *EntityBuilder, value T) *EntityBuilder {
	class := ComponentClassOf[T]()
	col, ok := b.columns[class]
	if !ok {
		col = NewColumn[T]()
		b.columns[class] = col
		b.key = b.key.With(class)
	}
	col.(*typedColumn[T]).data = append(col.(*typedColumn[T]).data, value)
	return b
}

// Commit reserves one EntityId from the shared counter and stages the
// built row for ingest at the next transaction-application pass. Returns
// the new entity's id.
func (b *EntityBuilder) Commit() EntityId {
	id := EntityId(b.tx.idCounter.Add(1) - 1)
	effectiveKey := b.key.With(EntityIDClass())
	def := b.tx.stageDef(effectiveKey)
	def.EntityIDs = append(def.EntityIDs, id)
	mergeColumns(def, b.columns)
	return id
}

// BatchBuilder stages a homogeneous batch of N new entities sharing the
// same component set, reserving all N ids in a single atomic fetch-add.
type BatchBuilder struct {
	tx      *TransactionContext
	n       int
	key     ShardKey
	columns map[ComponentClass]Column
}

// NewBatch begins staging n entities on tx. Every SetBatch call on the
// returned builder must supply exactly n values.
func (tx *TransactionContext) NewBatch(n int) *BatchBuilder {
	return &BatchBuilder{tx: tx, n: n, columns: make(map[ComponentClass]Column)}
}

// SetBatch stages values as the batch's column of type T; len(values) must
// equal the batch size passed to NewBatch.
func SetBatch[T any](b *BatchBuilder, values []T) *BatchBuilder {
	if len(values) != b.n {
		panic(fmt.Sprintf("neutronium: batch column length %d does not match batch size %d", len(values), b.n))
	}
	class := ComponentClassOf[T]()
	b.key = b.key.With(class)
	col := &typedColumn[T]{data: append([]T(nil), values...)}
	b.columns[class] = col
	return b
}

// Commit reserves n ids in one atomic fetch-add and stages the batch for
// ingest. Returns the reserved ids in order.
func (b *BatchBuilder) Commit() []EntityId {
	if b.n == 0 {
		return nil
	}
	end := b.tx.idCounter.Add(uint64(b.n))
	start := end - uint64(b.n)

	ids := make([]EntityId, b.n)
	for i := range ids {
		ids[i] = EntityId(start) + EntityId(i)
	}

	effectiveKey := b.key.With(EntityIDClass())
	def := b.tx.stageDef(effectiveKey)
	def.EntityIDs = append(def.EntityIDs, ids...)
	mergeColumns(def, b.columns)
	return ids
}

func mergeColumns(def *ShardDef, columns map[ComponentClass]Column) {
	for class, col := range columns {
		existing, ok := def.Columns[class]
		if !ok {
			def.Columns[class] = col
			continue
		}
		existing.appendFrom(col)
	}
}
