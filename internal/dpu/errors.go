package dpu

import (
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/ringbuf"
)

// ComponentDPU identifies this package in enhanced errors.
const ComponentDPU = "dpu"

var (
	// ErrUndefined is returned for a nil or out of range sensor, a sensor
	// without an event source, or a detach of something never attached.
	ErrUndefined = errors.New(errors.NewStd("undefined sensor or stage")).
			Component(ComponentDPU).
			Category(errors.CategoryValidation).
			Build()

	// ErrAlreadyAttached is returned when a sensor id or the upstream slot
	// is already taken.
	ErrAlreadyAttached = errors.New(errors.NewStd("already attached")).
				Component(ComponentDPU).
				Category(errors.CategoryLimit).
				Build()

	// ErrNotAttached is returned by DetachFromDPU without an upstream stage.
	ErrNotAttached = errors.New(errors.NewStd("not attached")).
			Component(ComponentDPU).
			Category(errors.CategoryState).
			Build()

	// ErrNotInitialized is returned by operations on a stage before Init.
	ErrNotInitialized = errors.New(errors.NewStd("stage not initialized")).
				Component(ComponentDPU).
				Category(errors.CategoryState).
				Build()

	// ErrBusy is returned by Init while links are still attached.
	ErrBusy = errors.New(errors.NewStd("stage has attached links")).
		Component(ComponentDPU).
		Category(errors.CategoryState).
		Build()

	// ErrProcessingFailed wraps any error returned by a Transformer.
	ErrProcessingFailed = errors.New(errors.NewStd("processing failed")).
				Component(ComponentDPU).
				Category(errors.CategoryProcessing).
				Build()

	// ErrFaulted is returned while a fatal error is latched on the stage.
	ErrFaulted = errors.New(errors.NewStd("stage faulted")).
			Component(ComponentDPU).
			Category(errors.CategoryFatal).
			Priority(errors.PriorityCritical).
			Build()

	// ErrInvalidConfig is returned by New for unusable stage configuration.
	ErrInvalidConfig = errors.New(errors.NewStd("invalid stage configuration")).
				Component(ComponentDPU).
				Category(errors.CategoryConfiguration).
				Build()

	// ErrNoReadyItem is the normal result of Process on an empty stage.
	ErrNoReadyItem = ringbuf.ErrNoReadyItem

	// ErrNoFreeItem reports a stalled link; the unwritten remainder of the
	// packet was dropped.
	ErrNoFreeItem = ringbuf.ErrNoFreeItem
)
