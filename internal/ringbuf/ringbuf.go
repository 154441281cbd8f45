// Package ringbuf implements a fixed-size ring of items over caller-owned
// storage. Each item cycles Free, ProducerClaimed, Ready, ConsumerClaimed
// and back to Free. One producer and one consumer may run on different
// goroutines; item states are atomic and each side advances its own index.
// At most one item per side can be claimed at a time.
package ringbuf

import (
	"fmt"
	"sync/atomic"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// State is the lifecycle state of an item.
type State uint32

const (
	Free State = iota
	ProducerClaimed
	Ready
	ConsumerClaimed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case ProducerClaimed:
		return "producer-claimed"
	case Ready:
		return "ready"
	case ConsumerClaimed:
		return "consumer-claimed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Item is one slot of the ring.
type Item struct {
	index int
	state atomic.Uint32
	data  stream.Buffer
}

// Index returns the slot position.
func (it *Item) Index() int { return it.index }

// State returns the current lifecycle state.
func (it *Item) State() State { return State(it.state.Load()) }

// Data returns the item's view of the ring storage.
func (it *Item) Data() stream.Buffer { return it.data }

// RingBuffer is a SPSC ring of equally sized items.
type RingBuffer struct {
	storage  stream.Buffer
	itemSize int
	items    []Item

	// producer side
	prodIdx  int
	producer *Item

	// consumer side
	consIdx  int
	consumer *Item
}

// New binds itemCount items of itemSize elements to storage. Storage may
// be larger than needed; the tail is unused.
func New(storage stream.Buffer, itemSize, itemCount int) (*RingBuffer, error) {
	if itemSize < 1 || itemCount < 1 {
		return nil, errors.Newf("ring buffer needs positive item size and count, got %d and %d", itemSize, itemCount).
			Component(ComponentRingBuffer).
			Category(errors.CategoryValidation).
			Build()
	}
	if need := itemSize * itemCount; storage.Len() < need {
		return nil, errors.New(ErrBufferTooSmall).
			Context("required_elements", need).
			Context("storage_elements", storage.Len()).
			Build()
	}

	rb := &RingBuffer{
		storage:  storage,
		itemSize: itemSize,
		items:    make([]Item, itemCount),
	}
	for i := range rb.items {
		rb.items[i].index = i
		rb.items[i].data = storage.Slice(i*itemSize, (i+1)*itemSize)
	}
	return rb, nil
}

// Allocate creates a ring buffer with its own storage.
func Allocate(t stream.ElementType, itemSize, itemCount int) (*RingBuffer, error) {
	if itemSize < 1 || itemCount < 1 {
		return New(stream.Buffer{Type: t}, itemSize, itemCount)
	}
	return New(stream.NewBuffer(t, itemSize*itemCount), itemSize, itemCount)
}

// AcquireFreeItem claims the next item for the producer.
func (rb *RingBuffer) AcquireFreeItem() (*Item, error) {
	if rb.producer != nil {
		return nil, errors.New(ErrProducerBusy).
			Context("operation", "acquire_free_item").
			Context("item", rb.producer.index).
			Build()
	}
	it := &rb.items[rb.prodIdx]
	if !it.state.CompareAndSwap(uint32(Free), uint32(ProducerClaimed)) {
		return nil, ErrNoFreeItem
	}
	rb.prodIdx = (rb.prodIdx + 1) % len(rb.items)
	rb.producer = it
	return it, nil
}

// MarkReady publishes the producer's item to the consumer.
func (rb *RingBuffer) MarkReady(it *Item) error {
	if it == nil || it != rb.producer || !it.state.CompareAndSwap(uint32(ProducerClaimed), uint32(Ready)) {
		return rb.transitionError("mark_ready", it)
	}
	rb.producer = nil
	return nil
}

// AcquireReadyItem claims the oldest Ready item for the consumer.
func (rb *RingBuffer) AcquireReadyItem() (*Item, error) {
	if rb.consumer != nil {
		return nil, errors.New(ErrConsumerBusy).
			Context("operation", "acquire_ready_item").
			Context("item", rb.consumer.index).
			Build()
	}
	it := &rb.items[rb.consIdx]
	if !it.state.CompareAndSwap(uint32(Ready), uint32(ConsumerClaimed)) {
		return nil, ErrNoReadyItem
	}
	rb.consIdx = (rb.consIdx + 1) % len(rb.items)
	rb.consumer = it
	return it, nil
}

// Release returns the consumer's item to Free.
func (rb *RingBuffer) Release(it *Item) error {
	if it == nil || it != rb.consumer || !it.state.CompareAndSwap(uint32(ConsumerClaimed), uint32(Free)) {
		return rb.transitionError("release", it)
	}
	rb.consumer = nil
	return nil
}

func (rb *RingBuffer) transitionError(op string, it *Item) error {
	b := errors.New(ErrInvalidTransition).Context("operation", op)
	if it != nil {
		b = b.Context("item", it.index).Context("state", it.State().String())
	}
	return b.Build()
}

// Reset returns every item to Free and rewinds both sides. Storage is
// reused as is. Neither side may be running.
func (rb *RingBuffer) Reset() {
	for i := range rb.items {
		rb.items[i].state.Store(uint32(Free))
	}
	rb.prodIdx, rb.consIdx = 0, 0
	rb.producer, rb.consumer = nil, nil
}

// ItemSize returns the number of elements per item.
func (rb *RingBuffer) ItemSize() int { return rb.itemSize }

// ItemCount returns the number of items.
func (rb *RingBuffer) ItemCount() int { return len(rb.items) }

// ElementType returns the storage element type.
func (rb *RingBuffer) ElementType() stream.ElementType { return rb.storage.Type }

// Storage returns the whole backing buffer.
func (rb *RingBuffer) Storage() stream.Buffer { return rb.storage }

// ReadyCount returns how many items are waiting for the consumer.
func (rb *RingBuffer) ReadyCount() int { return rb.count(Ready) }

// FreeCount returns how many items the producer can still claim.
func (rb *RingBuffer) FreeCount() int { return rb.count(Free) }

func (rb *RingBuffer) count(s State) int {
	n := 0
	for i := range rb.items {
		if rb.items[i].State() == s {
			n++
		}
	}
	return n
}
