package inference

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// Transformer runs a Model as a stage transform.
type Transformer struct {
	model Model
}

// NewTransformer wraps m.
func NewTransformer(m Model) *Transformer {
	return &Transformer{model: m}
}

// Transform implements dpu.Transformer.
func (t *Transformer) Transform(in, out stream.Buffer) error {
	if out.Type != stream.Float32 {
		return fmt.Errorf("%w: inference output must be float32, got %s", stream.ErrUnsupportedFormat, out.Type)
	}
	if err := t.model.Run(in.Float32s(), out.F32); err != nil {
		return errors.New(err).
			Component(ComponentInference).
			Context("input_size", in.Len()).
			Build()
	}
	return nil
}

// StageConfig returns the configuration of a stage running m on items of
// shape in, which must hold exactly m.InputSize() elements.
func StageConfig(name string, in stream.Shape, m Model, itemCount, maxSensors, maxListeners int) (dpu.Config, error) {
	if in.Elements() != m.InputSize() {
		return dpu.Config{}, sizeError(in.Elements(), m.OutputSize(), m.InputSize(), m.OutputSize())
	}
	out, err := stream.NewShape(m.OutputSize())
	if err != nil {
		return dpu.Config{}, err
	}
	return dpu.Config{
		Name:         name,
		InputType:    stream.Float32,
		InputShape:   in,
		OutputType:   stream.Float32,
		OutputShape:  out,
		OutputMode:   stream.ModeFull,
		ItemCount:    itemCount,
		MaxSensors:   maxSensors,
		MaxListeners: maxListeners,
	}, nil
}

// Result is one labelled score.
type Result struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Decode pairs labels with scores and returns the topK best, highest first.
// topK <= 0 returns all of them. Unlabelled models get "class_<n>" names.
func Decode(labels []string, scores []float32, topK int) ([]Result, error) {
	if labels != nil && len(labels) != len(scores) {
		return nil, errors.New(fmt.Errorf("%w: %d labels, %d scores", ErrLabelMismatch, len(labels), len(scores))).
			Build()
	}
	results := make([]Result, len(scores))
	for i, s := range scores {
		label := fmt.Sprintf("class_%d", i)
		if labels != nil {
			label = labels[i]
		}
		results[i] = Result{Label: label, Confidence: s}
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// AboveThreshold drops results below threshold, keeping order.
func AboveThreshold(results []Result, threshold float32) []Result {
	return slices.DeleteFunc(results, func(r Result) bool { return r.Confidence < threshold })
}
