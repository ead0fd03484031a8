package ecs

// Bus is a topic-indexed set of per-topic message queues, plus an activity
// bitset summarising which queues are currently non-empty. Every system
// owns a private Bus for its outbound messages; the World owns one central
// Bus that the previous frame's outbound buses are merged into.
type Bus struct {
	topics   map[TopicClass]topicQueue
	activity TopicBundle
}

// NewBus constructs an empty message bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[TopicClass]topicQueue)}
}

// topicQueue type-erases a typedQueue[T] so Bus can hold heterogeneous
// per-topic queues in one map, the same substitution shard columns use for
// heterogeneous component storage.
type topicQueue interface {
	appendFrom(src topicQueue)
	clear()
	newEmpty() topicQueue
}

type typedQueue[T any] struct {
	data []T
}

func (q *typedQueue[T]) appendFrom(src topicQueue) {
	q.data = append(q.data, src.(*typedQueue[T]).data...)
}

func (q *typedQueue[T]) clear() { q.data = nil }

func (q *typedQueue[T]) newEmpty() topicQueue { return &typedQueue[T]{} }

func queueOf[T any](b *Bus) *typedQueue[T] {
	class := TopicClassOf[T]()
	q, ok := b.topics[class]
	if !ok {
		q = &typedQueue[T]{}
		b.topics[class] = q
	}
	return q.(*typedQueue[T])
}

// Publish appends msg to T's topic queue.
func Publish[T any](b *Bus, msg T) {
	class := TopicClassOf[T]()
	q := queueOf[T](b)
	q.data = append(q.data, msg)
	b.activity = b.activity.With(class)
}

// PublishAll appends msgs to T's topic queue in order.
func PublishAll[T any](b *Bus, msgs []T) {
	if len(msgs) == 0 {
		return
	}
	class := TopicClassOf[T]()
	q := queueOf[T](b)
	q.data = append(q.data, msgs...)
	b.activity = b.activity.With(class)
}

// Read returns the current contents of T's topic queue. The returned slice
// is valid until the next Clear or Transfer.
func Read[T any](b *Bus) []T {
	class := TopicClassOf[T]()
	q, ok := b.topics[class]
	if !ok {
		return nil
	}
	return q.(*typedQueue[T]).data
}

// Batcher stages a run of same-topic messages for a single append, mirroring
// the source's `batch::<T>()` amortised multi-publish entry point.
type Batcher[T any] struct {
	bus    *Bus
	class  TopicClass
	staged []T
}

// Batch begins staging messages of type T onto b.
func Batch[T any](b *Bus) *Batcher[T] {
	return &Batcher[T]{bus: b, class: TopicClassOf[T]()}
}

// Push stages one message.
func (bt *Batcher[T]) Push(msg T) *Batcher[T] {
	bt.staged = append(bt.staged, msg)
	return bt
}

// Commit appends all staged messages onto the bus in push order.
func (bt *Batcher[T]) Commit() {
	if len(bt.staged) == 0 {
		return
	}
	q := queueOf[T](bt.bus)
	q.data = append(q.data, bt.staged...)
	bt.bus.activity = bt.bus.activity.With(bt.class)
	bt.staged = nil
}

// transfer moves every active topic queue out of other and into b, leaving
// other's transferred topics empty (their activity bits cleared). Inactive
// topics are skipped entirely.
func (b *Bus) transfer(other *Bus) {
	for _, topic := range other.activity.Decompose() {
		src := other.topics[topic]
		if dst, ok := b.topics[topic]; ok {
			dst.appendFrom(src)
		} else {
			b.topics[topic] = src
		}
		other.topics[topic] = src.newEmpty()
		b.activity = b.activity.With(topic)
	}
	other.activity = 0
}

// Transfer is the exported form of transfer, for callers composing buses
// outside the World's own frame loop.
func (b *Bus) Transfer(other *Bus) { b.transfer(other) }

// Clear drops every active topic's contents, skipping inactive ones.
func (b *Bus) Clear() {
	for _, topic := range b.activity.Decompose() {
		b.topics[topic].clear()
	}
	b.activity = 0
}
