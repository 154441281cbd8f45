package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/diagnostics"
	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/logger"
)

// newLimiter allows one event per interval; zero or less never limits.
func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// consume is the deferred mode consumer of one stage.
func (p *Pipeline) consume(ctx context.Context, st *dpu.Stage, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		p.drain(st)
	}
}

// drain processes st until it has no Ready item or is faulted.
func (p *Pipeline) drain(st *dpu.Stage) {
	for {
		p.mu.RLock()
		err := st.Process()
		p.mu.RUnlock()

		switch {
		case err == nil:
		case errors.Is(err, dpu.ErrNoReadyItem):
			return
		case errors.IsFatal(err):
			// Latched; the supervisor takes it from here.
			return
		case errors.IsBackpressure(err):
			if n, ok := dpu.DroppedElements(err); ok && p.stallLimiter.Allow() {
				p.log.Warn("downstream stage stalled",
					logger.String("stage", st.Name()),
					logger.Int("dropped_elements", n))
			}
		default:
			_ = p.handleError(st.Name(), err)
		}
	}
}

// handleError keeps the data path alive on recoverable errors. Fatal errors
// are swallowed under the reset policy, since the stage already latched them
// and the supervisor resets the chain.
func (p *Pipeline) handleError(origin string, err error) error {
	if errors.IsFatal(err) {
		if p.settings.Pipeline.FaultPolicy == conf.FaultHalt {
			return err
		}
		return nil
	}
	if p.errLimiter.Allow() {
		p.log.Warn("pipeline error",
			logger.String("origin", origin),
			logger.String("category", categoryOf(err)),
			logger.Error(err))
	}
	if p.metrics != nil {
		p.metrics.Pipeline.ForComponent(origin).RecordError("process", categoryOf(err))
	}
	return nil
}

func (p *Pipeline) onPublishError(sensor string, err error) error {
	return p.handleError(sensor, err)
}

// onFault runs on whichever goroutine latched the fault, possibly while it
// holds mu, so it only queues.
func (p *Pipeline) onFault(st *dpu.Stage, err error) {
	select {
	case p.faults <- fault{stage: st.Name(), err: err}:
	default:
		p.log.Error("fault queue full", logger.String("stage", st.Name()), logger.Error(err))
	}
}

// supervise applies the fault policy until ctx ends.
func (p *Pipeline) supervise(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-p.faults:
			p.log.Error("stage faulted",
				logger.String("stage", f.stage),
				logger.String("policy", p.settings.Pipeline.FaultPolicy),
				logger.Error(f.err))
			if p.settings.Pipeline.FaultPolicy == conf.FaultHalt {
				return errors.New(f.err).
					Component(ComponentApp).
					Context("stage", f.stage).
					Build()
			}
			p.reset()
		}
	}
}

// reset empties every stage with the data path quiesced.
func (p *Pipeline) reset() {
	p.mu.Lock()
	for _, st := range p.stages {
		st.Reset()
	}
	p.mu.Unlock()

	// Faults queued by the same incident are cleared by this reset.
drained:
	for {
		select {
		case <-p.faults:
		default:
			break drained
		}
	}
	n := p.resets.Add(1)
	p.log.Warn("pipeline reset", logger.Uint64("resets", n))
}

// onStall runs on the publishing sensor's goroutine.
func (p *Pipeline) onStall(sensor string, dropped int, err error) {
	n := p.stalls.Add(1)
	if p.metrics != nil {
		p.metrics.Pipeline.AddDroppedSamples(sensor, dropped)
	}
	if p.stallLimiter.Allow() {
		p.log.Warn("stage stalled, samples dropped",
			logger.String("sensor", sensor),
			logger.Int("dropped_elements", dropped),
			logger.Uint64("stalls", n),
			logger.Error(err))
	}
	if every := p.settings.Diagnostics.SnapshotAfter; every > 0 && n%uint64(every) == 0 { //nolint:gosec // validated non-negative
		p.snapshot("persistent stall")
	}
}

func (p *Pipeline) snapshot(reason string) {
	snap := diagnostics.Capture(reason, p.Stages())
	p.log.Warn("pipeline diagnostics", logger.String("snapshot", snap.String()))
	if dir := p.settings.Diagnostics.Dir; dir != "" {
		path, err := snap.WriteFile(dir)
		if err != nil {
			p.log.Error("failed to write diagnostics", logger.Error(err))
			return
		}
		p.log.Info("diagnostics written", logger.String("path", path))
	}
}

func categoryOf(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
