// Package dpu implements processing stages: nodes that buffer upstream data
// in per-link ring buffers, transform one item at a time and republish the
// result to their listeners and to at most one downstream stage.
//
// A stage is fed either by sensors (up to MaxSensors, one ring buffer per
// sensor) or by exactly one upstream stage. Process pulls from the upstream
// stage link when there is one, otherwise from the lowest numbered sensor
// that has a Ready item; sensors are not served round robin, so a busy low
// numbered sensor can starve the others.
//
// Without a notify callback, Process runs inline on the producer's call
// stack every time an item becomes Ready. With a callback, the callback is
// invoked instead and Process is expected to run later on a consumer
// goroutine. Each link has exactly one producer and one consumer; attach,
// detach, Init and Reset must not run concurrently with either.
package dpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/ringbuf"
	"github.com/tphakala/sensorflow/internal/stream"
)

// Sensor is a data producer a stage can attach to.
type Sensor interface {
	ID() int
	EventSource() *events.Source
}

// Transformer is the stage specific processing step. It reads one working
// stream frame from in and writes the stage output into out. Both buffers
// are only valid during the call.
type Transformer interface {
	Transform(in stream.Buffer, out stream.Buffer) error
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(in stream.Buffer, out stream.Buffer) error

// Transform calls f(in, out).
func (f TransformFunc) Transform(in stream.Buffer, out stream.Buffer) error { return f(in, out) }

// NotifyFunc is called when an item becomes Ready on any link of stage.
type NotifyFunc func(stage *Stage, param any) error

// Recorder receives stage metrics. The metrics package provides one bound
// to a stage label.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
}

// FaultHandler is told about every fatal error latched on a stage.
type FaultHandler func(stage *Stage, err error)

// Option configures a Stage.
type Option func(*Stage)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Stage) { s.recorder = r }
}

// WithFaultHandler registers the supervisor hook for fatal errors.
func WithFaultHandler(h FaultHandler) Option {
	return func(s *Stage) { s.onFault = h }
}

// Stage is one processing node.
type Stage struct {
	cfg         Config
	transformer Transformer
	recorder    Recorder
	onFault     FaultHandler

	initialized bool
	active      atomic.Bool
	source      *events.Source

	sensors     []*link
	sensorCount int
	input       *link
	downstream  *Stage

	notify      NotifyFunc
	notifyParam any

	output stream.Buffer
	seq    uint64

	faultMu sync.Mutex
	fault   error

	processed atomic.Uint64
	failures  atomic.Uint64
	stalls    atomic.Uint64
	dropped   atomic.Uint64
	gated     atomic.Uint64
}

// New validates cfg, builds the stage and initializes it.
func New(cfg Config, t Transformer, opts ...Option) (*Stage, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New(fmt.Errorf("%w: transformer is required", ErrInvalidConfig)).
			Context("stage", cfg.Name).
			Build()
	}
	s := &Stage{
		cfg:         cfg,
		transformer: t,
		output:      stream.NewBuffer(cfg.OutputType, cfg.OutputShape.Elements()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init allocates the event source, activates the stage and clears all
// bookkeeping. It fails with ErrBusy while sensors or an upstream stage are
// attached, since their registrations would be orphaned.
func (s *Stage) Init() error {
	if s.sensorCount > 0 || s.input != nil {
		return errors.New(ErrBusy).
			Context("stage", s.cfg.Name).
			Context("sensors", s.sensorCount).
			Build()
	}
	s.source = events.NewSource(s.cfg.MaxListeners)
	s.sensors = make([]*link, s.cfg.MaxSensors)
	s.sensorCount = 0
	s.seq = 0
	s.clearFault()
	s.active.Store(true)
	s.initialized = true
	return nil
}

// Name returns the configured stage name.
func (s *Stage) Name() string { return s.cfg.Name }

// Config returns the effective configuration.
func (s *Stage) Config() Config { return s.cfg }

// EventSource is where application listeners register for stage output.
func (s *Stage) EventSource() *events.Source { return s.source }

// Downstream returns the stage fed by this one, if any.
func (s *Stage) Downstream() *Stage { return s.downstream }

// Upstream returns the stage feeding this one, if any.
func (s *Stage) Upstream() *Stage {
	if s.input == nil {
		return nil
	}
	return s.input.upstream
}

// AttachToSensor creates a link for sensor and registers it as a listener
// on the sensor's event source. A nil storage lets the stage allocate the
// ring buffer; caller storage must hold ItemCount items of the working
// stream type.
func (s *Stage) AttachToSensor(sensor Sensor, storage *stream.Buffer) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if sensor == nil || sensor.EventSource() == nil {
		return s.undefined("sensor has no event source", -1)
	}
	id := sensor.ID()
	if id < 0 || id >= len(s.sensors) {
		return s.undefined("sensor id out of range", id)
	}
	if s.sensors[id] != nil {
		return errors.New(ErrAlreadyAttached).
			Context("stage", s.cfg.Name).
			Context("sensor_id", id).
			Build()
	}

	rb, err := s.newRing(storage)
	if err != nil {
		return err
	}
	l := &link{stage: s, rb: rb, sensor: sensor, name: fmt.Sprintf("sensor-%d", id)}
	l.stamps = make([]time.Time, rb.ItemCount())
	if err := sensor.EventSource().AddListener(l); err != nil {
		return errors.New(err).
			Context("stage", s.cfg.Name).
			Context("sensor_id", id).
			Build()
	}
	s.sensors[id] = l
	s.sensorCount++
	return nil
}

// DetachFromSensor removes the sensor's link and drops its ring buffer.
func (s *Stage) DetachFromSensor(sensor Sensor) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if sensor == nil {
		return s.undefined("nil sensor", -1)
	}
	id := sensor.ID()
	if id < 0 || id >= len(s.sensors) || s.sensors[id] == nil || s.sensors[id].sensor != sensor {
		return s.undefined("sensor not attached", id)
	}
	l := s.sensors[id]
	if src := sensor.EventSource(); src != nil {
		src.RemoveListener(l)
	}
	s.sensors[id] = nil
	s.sensorCount--
	return nil
}

// AttachInputDPU makes up the single upstream stage of s. The upstream
// stage's output is fed into s through a ring buffer; a nil storage lets the
// stage allocate it.
func (s *Stage) AttachInputDPU(up *Stage, storage *stream.Buffer) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.input != nil {
		return errors.New(ErrAlreadyAttached).
			Context("stage", s.cfg.Name).
			Context("upstream", s.input.upstream.Name()).
			Build()
	}
	if up == nil || up == s {
		return s.undefined("invalid upstream stage", -1)
	}
	if up.downstream != nil {
		return errors.New(ErrAlreadyAttached).
			Context("stage", s.cfg.Name).
			Context("upstream", up.Name()).
			Context("upstream_downstream", up.downstream.Name()).
			Build()
	}

	rb, err := s.newRing(storage)
	if err != nil {
		return err
	}
	s.input = &link{stage: s, rb: rb, upstream: up, name: "dpu-" + up.Name()}
	s.input.stamps = make([]time.Time, rb.ItemCount())
	up.downstream = s
	return nil
}

// DetachFromDPU drops the upstream link and the upstream's reverse pointer.
func (s *Stage) DetachFromDPU() error {
	if s.input == nil {
		return errors.New(ErrNotAttached).Context("stage", s.cfg.Name).Build()
	}
	if up := s.input.upstream; up != nil && up.downstream == s {
		up.downstream = nil
	}
	s.input = nil
	return nil
}

// RegisterNotifyCallback switches the stage to deferred processing.
// Passing nil restores inline processing.
func (s *Stage) RegisterNotifyCallback(fn NotifyFunc, param any) {
	s.notify = fn
	s.notifyParam = param
}

// DispatchEvents publishes ev to the stage's own listeners, then feeds its
// packet into the downstream stage, which may process it inline.
func (s *Stage) DispatchEvents(ev events.Event) error {
	err := s.source.SendEvent(ev)
	if d := s.downstream; d != nil && d.input != nil {
		err = errors.Join(err, d.input.OnNewDataReady(ev))
	}
	return err
}

// Process consumes one Ready item, transforms it and dispatches the output.
// It returns ErrNoReadyItem when there is nothing to do.
func (s *Stage) Process() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := s.Fault(); err != nil {
		return s.faultedError(err)
	}

	l, it, err := s.nextReady()
	if err != nil {
		if errors.IsFatal(err) {
			return s.latch(err)
		}
		return err
	}

	start := time.Now()
	terr := s.transformer.Transform(it.Data(), s.output)
	ts := l.stamps[it.Index()]
	if rerr := l.rb.Release(it); rerr != nil {
		return s.latch(rerr)
	}
	s.recordDuration("process", time.Since(start))

	if terr != nil {
		s.failures.Add(1)
		s.recordOperation("process", "error")
		s.recordError("process", string(errors.CategoryProcessing))
		return errors.New(fmt.Errorf("%w: %w", ErrProcessingFailed, terr)).
			Category(errors.CategoryProcessing).
			Context("stage", s.cfg.Name).
			Context("link", l.name).
			Build()
	}

	s.processed.Add(1)
	s.recordOperation("process", "success")
	s.seq++
	pkt := &stream.Packet{
		Payload:   s.output,
		Shape:     s.cfg.OutputShape,
		Mode:      s.cfg.OutputMode,
		Timestamp: ts,
	}
	return s.DispatchEvents(events.Event{Packet: pkt, Origin: s.cfg.Name, Sequence: s.seq})
}

// nextReady implements the polling policy: the upstream stage link when
// attached, otherwise the first sensor link in ascending id order.
func (s *Stage) nextReady() (*link, *ringbuf.Item, error) {
	if s.input != nil {
		it, err := s.input.rb.AcquireReadyItem()
		if err != nil {
			return nil, nil, err
		}
		return s.input, it, nil
	}
	for _, l := range s.sensors {
		if l == nil {
			continue
		}
		it, err := l.rb.AcquireReadyItem()
		if err == nil {
			return l, it, nil
		}
		if !errors.Is(err, ringbuf.ErrNoReadyItem) {
			return nil, nil, err
		}
	}
	return nil, nil, ErrNoReadyItem
}

// Reset empties every link ring buffer in place and clears a latched fault.
func (s *Stage) Reset() {
	for _, l := range s.sensors {
		if l != nil {
			l.reset()
		}
	}
	if s.input != nil {
		s.input.reset()
	}
	s.clearFault()
}

// Suspend stops intake: packets arriving from sensors or the upstream stage
// are dropped. Items already Ready can still be drained by Process.
func (s *Stage) Suspend() { s.active.Store(false) }

// Resume restarts intake.
func (s *Stage) Resume() { s.active.Store(true) }

// IsActive reports whether intake is enabled.
func (s *Stage) IsActive() bool { return s.active.Load() }

// Fault returns the latched fatal error, if any.
func (s *Stage) Fault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.fault
}

func (s *Stage) clearFault() {
	s.faultMu.Lock()
	s.fault = nil
	s.faultMu.Unlock()
}

// latch records err as the stage fault and notifies the supervisor. The
// first fault wins.
func (s *Stage) latch(err error) error {
	s.faultMu.Lock()
	first := s.fault == nil
	if first {
		s.fault = err
	}
	s.faultMu.Unlock()

	if first {
		s.recordError("fault", string(errors.CategoryFatal))
		if s.onFault != nil {
			s.onFault(s, err)
		}
	}
	return err
}

func (s *Stage) faultedError(cause error) error {
	return errors.New(fmt.Errorf("%w: %w", ErrFaulted, cause)).
		Category(errors.CategoryFatal).
		Context("stage", s.cfg.Name).
		Build()
}

// signal tells whoever consumes this stage that an item is Ready.
func (s *Stage) signal() error {
	if s.notify != nil {
		return s.notify(s, s.notifyParam)
	}
	err := s.Process()
	if errors.Is(err, ErrNoReadyItem) {
		return nil
	}
	return err
}

func (s *Stage) newRing(storage *stream.Buffer) (*ringbuf.RingBuffer, error) {
	if storage == nil {
		return ringbuf.Allocate(s.cfg.InputType, s.cfg.ItemSize(), s.cfg.ItemCount)
	}
	if storage.Type != s.cfg.InputType {
		return nil, errors.New(fmt.Errorf("%w: storage is %s, working stream is %s",
			stream.ErrUnsupportedFormat, storage.Type, s.cfg.InputType)).
			Context("stage", s.cfg.Name).
			Build()
	}
	return ringbuf.New(*storage, s.cfg.ItemSize(), s.cfg.ItemCount)
}

func (s *Stage) undefined(reason string, id int) error {
	b := errors.New(fmt.Errorf("%w: %s", ErrUndefined, reason)).Context("stage", s.cfg.Name)
	if id >= 0 {
		b = b.Context("sensor_id", id)
	}
	return b.Build()
}

func (s *Stage) recordOperation(op, status string) {
	if s.recorder != nil {
		s.recorder.RecordOperation(op, status)
	}
}

func (s *Stage) recordDuration(op string, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordDuration(op, d.Seconds())
	}
}

func (s *Stage) recordError(op, errorType string) {
	if s.recorder != nil {
		s.recorder.RecordError(op, errorType)
	}
}
