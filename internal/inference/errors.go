package inference

import "github.com/tphakala/sensorflow/internal/errors"

var (
	ErrModelClosed = errors.Newf("model is closed").
			Component(ComponentInference).
			Category(errors.CategoryState).
			Build()

	ErrSizeMismatch = errors.Newf("tensor size mismatch").
			Component(ComponentInference).
			Category(errors.CategoryValidation).
			Build()

	ErrLabelMismatch = errors.Newf("labels do not match scores").
				Component(ComponentInference).
				Category(errors.CategoryValidation).
				Build()
)
