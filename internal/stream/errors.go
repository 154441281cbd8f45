package stream

import (
	"github.com/tphakala/sensorflow/internal/errors"
)

// ComponentStream identifies this package in enhanced errors.
const ComponentStream = "stream"

var (
	// ErrUnsupportedFormat is returned for element type pairs the adapter
	// cannot convert.
	ErrUnsupportedFormat = errors.New(errors.NewStd("unsupported element format conversion")).
				Component(ComponentStream).
				Category(errors.CategoryValidation).
				Build()

	// ErrNotImplemented is returned when input and output ranks differ or
	// exceed 2.
	ErrNotImplemented = errors.New(errors.NewStd("rank conversion not implemented")).
				Component(ComponentStream).
				Category(errors.CategoryNotImplemented).
				Build()

	// ErrInvalidShape is returned for shapes with no dimensions, too many
	// dimensions or a non-positive dimension.
	ErrInvalidShape = errors.New(errors.NewStd("invalid shape")).
			Component(ComponentStream).
			Category(errors.CategoryValidation).
			Build()
)
