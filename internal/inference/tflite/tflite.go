// Package tflite runs TensorFlow Lite models through the inference.Model
// interface.
package tflite

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	tfl "github.com/tphakala/go-tflite"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/inference"
	"github.com/tphakala/sensorflow/internal/logger"
)

const componentTFLite = "inference.tflite"

// Options configure the interpreter.
type Options struct {
	// Threads is the interpreter thread count; 0 uses all CPUs.
	Threads int
	Logger  logger.Logger
}

// Model wraps a single input, single output float32 interpreter.
type Model struct {
	mu          sync.Mutex
	model       *tfl.Model
	options     *tfl.InterpreterOptions
	interpreter *tfl.Interpreter
	inputSize   int
	outputSize  int
}

var _ inference.Model = (*Model)(nil)

// Load reads a .tflite file and allocates its interpreter.
func Load(path string, opts Options) (*Model, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentTFLite).
			Category(errors.CategoryModelLoad).
			FileContext(path, 0).
			Build()
	}
	return newModel(data, opts, start)
}

// New builds a model from serialized flatbuffer bytes.
func New(data []byte, opts Options) (*Model, error) {
	return newModel(data, opts, time.Now())
}

func newModel(data []byte, opts Options, start time.Time) (*Model, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	model := tfl.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component(componentTFLite).
			Category(errors.CategoryModelInit).
			Context("model_size_kb", len(data)/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tfl.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tfl.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, initError("cannot create interpreter", start)
	}
	if status := interpreter.AllocateTensors(); status != tfl.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, initError("tensor allocation failed", start)
	}

	m := &Model{model: model, options: options, interpreter: interpreter}
	in := interpreter.GetInputTensor(0)
	out := interpreter.GetOutputTensor(0)
	if in == nil || out == nil {
		_ = m.Close()
		return nil, initError("model has no input or output tensor", start)
	}
	m.inputSize = len(in.Float32s())
	m.outputSize = out.Dim(out.NumDims() - 1)

	log.Info("TFLite model loaded",
		logger.Int("input_size", m.inputSize),
		logger.Int("output_size", m.outputSize),
		logger.Int("threads", threads),
		logger.Duration("load_time", time.Since(start)))
	return m, nil
}

func (m *Model) InputSize() int  { return m.inputSize }
func (m *Model) OutputSize() int { return m.outputSize }

// Run copies in to the input tensor, invokes the interpreter and copies the
// last dimension of the output tensor to out.
func (m *Model) Run(in, out []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return inference.ErrModelClosed
	}
	if len(in) != m.inputSize || len(out) != m.outputSize {
		return errors.New(fmt.Errorf("%w: got %d->%d, model is %d->%d",
			inference.ErrSizeMismatch, len(in), len(out), m.inputSize, m.outputSize)).
			Build()
	}

	copy(m.interpreter.GetInputTensor(0).Float32s(), in)
	if status := m.interpreter.Invoke(); status != tfl.OK {
		return errors.Newf("tensor invoke failed: %v", status).
			Component(componentTFLite).
			Category(errors.CategoryProcessing).
			Build()
	}
	copy(out, m.interpreter.GetOutputTensor(0).Float32s())
	return nil
}

// Close releases the interpreter. It is safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}

func initError(msg string, start time.Time) error {
	return errors.Newf("%s", msg).
		Component(componentTFLite).
		Category(errors.CategoryModelInit).
		Timing("model-init", time.Since(start)).
		Build()
}
