// Package inference runs classification models as stage transforms and
// decodes their scores.
package inference

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/sensorflow/internal/errors"
)

// ComponentInference identifies this package in enhanced errors.
const ComponentInference = "inference"

// Model is a fixed size scorer. Run must not retain in or out.
type Model interface {
	Run(in, out []float32) error
	InputSize() int
	OutputSize() int
	Close() error
}

// LinearFile is the YAML layout of a Linear model.
type LinearFile struct {
	Labels  []string    `yaml:"labels"`
	Weights [][]float32 `yaml:"weights"` // one row per label
	Bias    []float32   `yaml:"bias"`
}

// Linear is a dense layer followed by softmax.
type Linear struct {
	inputs  int
	outputs int
	weights []float32 // outputs x inputs, row major
	bias    []float32

	mu     sync.Mutex
	closed bool
}

// NewLinear builds a model from per output weight rows.
func NewLinear(weights [][]float32, bias []float32) (*Linear, error) {
	if len(weights) == 0 || len(weights[0]) == 0 {
		return nil, linearError("weights must not be empty")
	}
	if bias != nil && len(bias) != len(weights) {
		return nil, linearError(fmt.Sprintf("bias has %d entries for %d outputs", len(bias), len(weights)))
	}
	m := &Linear{
		inputs:  len(weights[0]),
		outputs: len(weights),
		weights: make([]float32, 0, len(weights)*len(weights[0])),
		bias:    make([]float32, len(weights)),
	}
	for i, row := range weights {
		if len(row) != m.inputs {
			return nil, linearError(fmt.Sprintf("weight row %d has %d columns, want %d", i, len(row), m.inputs))
		}
		m.weights = append(m.weights, row...)
	}
	copy(m.bias, bias)
	return m, nil
}

// NewRandomLinear returns a model with weights drawn deterministically from
// seed, for benchmarks and demos without a trained model.
func NewRandomLinear(inputs, outputs int, seed uint64) (*Linear, error) {
	if inputs < 1 || outputs < 1 {
		return nil, linearError(fmt.Sprintf("invalid dimensions %dx%d", outputs, inputs))
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scale := float32(1 / math.Sqrt(float64(inputs)))
	weights := make([][]float32, outputs)
	for i := range weights {
		weights[i] = make([]float32, inputs)
		for j := range weights[i] {
			weights[i][j] = float32(rng.NormFloat64()) * scale
		}
	}
	return NewLinear(weights, nil)
}

// LoadLinear reads a model and its labels from a YAML file.
func LoadLinear(path string) (*Linear, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.New(err).
			Component(ComponentInference).
			Category(errors.CategoryModelLoad).
			FileContext(path, 0).
			Build()
	}
	var f LinearFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, errors.New(fmt.Errorf("parse model: %w", err)).
			Component(ComponentInference).
			Category(errors.CategoryModelLoad).
			FileContext(path, int64(len(data))).
			Build()
	}
	m, err := NewLinear(f.Weights, f.Bias)
	if err != nil {
		return nil, nil, err
	}
	if len(f.Labels) != 0 && len(f.Labels) != m.outputs {
		return nil, nil, linearError(fmt.Sprintf("%d labels for %d outputs", len(f.Labels), m.outputs))
	}
	return m, f.Labels, nil
}

func (m *Linear) InputSize() int  { return m.inputs }
func (m *Linear) OutputSize() int { return m.outputs }

// Run writes softmax(W*in + b) into out.
func (m *Linear) Run(in, out []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrModelClosed
	}
	if len(in) != m.inputs || len(out) != m.outputs {
		return sizeError(len(in), len(out), m.inputs, m.outputs)
	}

	peak := math.Inf(-1)
	logits := make([]float64, m.outputs)
	for o := range m.outputs {
		acc := float64(m.bias[o])
		row := m.weights[o*m.inputs : (o+1)*m.inputs]
		for i, w := range row {
			acc += float64(w) * float64(in[i])
		}
		logits[o] = acc
		peak = max(peak, acc)
	}
	var sum float64
	for o, l := range logits {
		logits[o] = math.Exp(l - peak)
		sum += logits[o]
	}
	for o, e := range logits {
		out[o] = float32(e / sum)
	}
	return nil
}

// Close marks the model unusable.
func (m *Linear) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func linearError(msg string) error {
	return errors.Newf("linear model: %s", msg).
		Component(ComponentInference).
		Category(errors.CategoryModelInit).
		Build()
}

func sizeError(in, out, wantIn, wantOut int) error {
	return errors.New(fmt.Errorf("%w: got %d->%d, model is %d->%d", ErrSizeMismatch, in, out, wantIn, wantOut)).
		Build()
}
