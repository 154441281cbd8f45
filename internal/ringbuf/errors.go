package ringbuf

import "github.com/tphakala/sensorflow/internal/errors"

// ComponentRingBuffer identifies this package in enhanced errors.
const ComponentRingBuffer = "ringbuf"

var (
	// ErrNoFreeItem is backpressure: every item is Ready or claimed.
	ErrNoFreeItem = errors.New(errors.NewStd("no free item")).
			Component(ComponentRingBuffer).
			Category(errors.CategoryBackpressure).
			Build()

	// ErrNoReadyItem means there is nothing to consume. It is the normal
	// outcome of polling an empty buffer.
	ErrNoReadyItem = errors.New(errors.NewStd("no ready item")).
			Component(ComponentRingBuffer).
			Category(errors.CategoryState).
			Build()

	// ErrProducerBusy is raised when a second free item is requested while
	// one is still claimed by the producer.
	ErrProducerBusy = errors.New(errors.NewStd("producer item already outstanding")).
			Component(ComponentRingBuffer).
			Category(errors.CategoryFatal).
			Priority(errors.PriorityCritical).
			Build()

	// ErrConsumerBusy is the consumer side counterpart of ErrProducerBusy.
	ErrConsumerBusy = errors.New(errors.NewStd("consumer item already outstanding")).
			Component(ComponentRingBuffer).
			Category(errors.CategoryFatal).
			Priority(errors.PriorityCritical).
			Build()

	// ErrInvalidTransition is raised for a MarkReady or Release on an item
	// not in the matching claimed state.
	ErrInvalidTransition = errors.New(errors.NewStd("invalid item state transition")).
				Component(ComponentRingBuffer).
				Category(errors.CategoryFatal).
				Priority(errors.PriorityCritical).
				Build()

	// ErrBufferTooSmall is returned when storage cannot hold every item.
	ErrBufferTooSmall = errors.New(errors.NewStd("storage too small for ring buffer")).
				Component(ComponentRingBuffer).
				Category(errors.CategoryValidation).
				Build()
)
