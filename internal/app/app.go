// Package app wires sensors, processing stages and sinks into a running
// pipeline and supervises it.
//
// The chain is fixed: every sensor feeds a scale stage that converts PCM to
// float32, which feeds the band energy stage, which feeds the classifier.
// Sinks listen on the classifier. In deferred mode each stage has its own
// consumer goroutine woken by the stage notify callback; in inline mode the
// whole chain runs on the publishing sensor's goroutine.
package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/inference"
	"github.com/tphakala/sensorflow/internal/logger"
	"github.com/tphakala/sensorflow/internal/observability"
	"github.com/tphakala/sensorflow/internal/sensors"
	"github.com/tphakala/sensorflow/internal/sinks"
)

// ComponentApp identifies this package in enhanced errors.
const ComponentApp = "app"

// Source is a sensor the pipeline can run.
type Source interface {
	dpu.Sensor
	Name() string
	Run(ctx context.Context) error
}

// publisher is the sensors.Base surface the pipeline configures.
type publisher interface {
	SetGuard(l sync.Locker)
	SetRecorder(r dpu.Recorder)
	OnStall(fn sensors.StallFunc)
	OnError(fn sensors.ErrorFunc)
	Dropped() uint64
}

// Pipeline is a built, runnable chain.
type Pipeline struct {
	settings *conf.Settings
	log      logger.Logger
	runID    string

	sources []Source
	model   inference.Model
	labels  []string

	scale    *dpu.Stage
	features *dpu.Stage
	classify *dpu.Stage
	stages   []*dpu.Stage
	wakes    []chan struct{}

	cache    *sinks.Cache
	tap      *sinks.Tap
	mqtt     *sinks.MQTT
	store    *sinks.Store
	metrics  *observability.Metrics
	endpoint *observability.Endpoint

	// mu quiesces the data path for a reset. Producers and consumers hold
	// it shared in deferred mode and exclusively in inline mode.
	mu     sync.RWMutex
	faults chan fault

	stalls       atomic.Uint64
	resets       atomic.Uint64
	stallLimiter *rate.Limiter
	errLimiter   *rate.Limiter
}

type fault struct {
	stage string
	err   error
}

// Option customizes New.
type Option func(*options)

type options struct {
	sources []Source
	metrics *observability.Metrics
}

// WithSources replaces the sensors built from settings.
func WithSources(sources ...Source) Option {
	return func(o *options) { o.sources = sources }
}

// WithMetrics shares a metrics registry instead of creating one.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds every component named by settings. Nothing runs until Run.
func New(settings *conf.Settings, log logger.Logger, opts ...Option) (*Pipeline, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	p := &Pipeline{
		settings:     settings,
		runID:        uuid.NewString(),
		faults:       make(chan fault, 8),
		stallLimiter: newLimiter(settings.Diagnostics.StallWarnInterval),
		errLimiter:   newLimiter(settings.Diagnostics.StallWarnInterval),
	}
	p.log = log.With(logger.String("run_id", p.runID))

	if err := p.build(o); err != nil {
		_ = p.Close()
		return nil, err
	}
	p.log.Info("pipeline built",
		logger.String("mode", settings.Pipeline.Mode),
		logger.Int("sensors", len(p.sources)),
		logger.Int("classes", p.model.OutputSize()),
		logger.String("fault_policy", settings.Pipeline.FaultPolicy))
	return p, nil
}

// RunID identifies this pipeline instance in logs, records and metrics.
func (p *Pipeline) RunID() string { return p.runID }

// Stages returns a snapshot of every stage in chain order.
func (p *Pipeline) Stages() []dpu.Stats {
	out := make([]dpu.Stats, 0, len(p.stages))
	for _, st := range p.stages {
		out = append(out, st.Stats())
	}
	return out
}

// Results returns the latest cached classification.
func (p *Pipeline) Results() []sinks.Record { return p.cache.All() }

// Tap returns the JSON lines tap, or nil when disabled.
func (p *Pipeline) Tap() *sinks.Tap { return p.tap }

// Metrics returns the registry the pipeline reports to.
func (p *Pipeline) Metrics() *observability.Metrics { return p.metrics }

// Stalls returns the number of packets that were partially dropped.
func (p *Pipeline) Stalls() uint64 { return p.stalls.Load() }

// Resets returns how many times the supervisor reset the chain.
func (p *Pipeline) Resets() uint64 { return p.resets.Load() }

// Run starts the sensors, the stage consumers, the supervisor and the
// telemetry endpoint. It returns when every sensor has finished and the
// chain is drained, when ctx ends, or when a fault halts the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return p.supervise(gctx) })
	if p.endpoint != nil {
		g.Go(func() error { return p.endpoint.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return p.runDataPath(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.log.Info("pipeline stopped",
		logger.Uint64("stalls", p.stalls.Load()),
		logger.Uint64("resets", p.resets.Load()))
	return err
}

// runDataPath runs the sensors to completion and drains what they left in
// the chain.
func (p *Pipeline) runDataPath(ctx context.Context) error {
	consumerCtx, stopConsumers := context.WithCancel(ctx)
	var consumers sync.WaitGroup
	if p.settings.Pipeline.Mode == conf.ModeDeferred {
		for i, st := range p.stages {
			consumers.Go(func() { p.consume(consumerCtx, st, p.wakes[i]) })
		}
	}

	sg, sctx := errgroup.WithContext(ctx)
	for _, src := range p.sources {
		sg.Go(func() error {
			if err := src.Run(sctx); err != nil {
				return errors.New(err).
					Component(ComponentApp).
					Context("sensor", src.Name()).
					Build()
			}
			p.log.Debug("sensor finished", logger.String("sensor", src.Name()))
			return nil
		})
	}
	err := sg.Wait()

	stopConsumers()
	consumers.Wait()
	for _, st := range p.stages {
		p.drain(st)
	}
	p.observe()
	return err
}

// Close releases the model and the sinks holding external resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, st := range []*dpu.Stage{p.features, p.classify} {
		if st != nil && st.Upstream() != nil {
			errs = append(errs, st.DetachFromDPU())
		}
	}
	if p.scale != nil {
		for _, src := range p.sources {
			_ = p.scale.DetachFromSensor(src)
		}
	}
	if p.mqtt != nil {
		p.mqtt.Close()
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	if p.model != nil {
		errs = append(errs, p.model.Close())
	}
	return errors.Join(errs...)
}

func (p *Pipeline) observe() {
	if p.metrics == nil {
		return
	}
	for _, st := range p.Stages() {
		p.metrics.Pipeline.ObserveStage(st)
	}
}
