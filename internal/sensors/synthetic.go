package sensors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// SyntheticConfig describes a generated sine with additive noise.
type SyntheticConfig struct {
	ID              int
	Name            string
	SampleRate      int
	Frequency       float64 // Hz
	Amplitude       float64 // 0..1 of full scale
	Noise           float64 // 0..1 of full scale
	FrameSize       int
	FramesPerPacket int
	Packets         int           // 0 runs until the context ends
	Interval        time.Duration // 0 publishes as fast as possible
	Seed            uint64
	MaxListeners    int
}

// Synthetic generates int16 test signals.
type Synthetic struct {
	*Base
	cfg   SyntheticConfig
	rng   *rand.Rand
	phase float64
}

// NewSynthetic validates cfg and returns a generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 || cfg.FramesPerPacket <= 0 {
		return nil, errors.Newf("synthetic sensor %q needs positive sample rate and framing", cfg.Name).
			Component(ComponentSensors).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.MaxListeners == 0 {
		cfg.MaxListeners = 1
	}
	return &Synthetic{
		Base: NewBase(cfg.ID, cfg.Name, cfg.MaxListeners),
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
	}, nil
}

// Run publishes packets until Packets are sent or ctx ends.
func (s *Synthetic) Run(ctx context.Context) error {
	f, err := newFramer(s.cfg.FrameSize, s.cfg.FramesPerPacket, s.cfg.SampleRate, time.Now())
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	samples := make([]int16, f.shape.Elements())
	for sent := 0; s.cfg.Packets == 0 || sent < s.cfg.Packets; sent++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		s.fill(samples)
		if err := f.push(samples, s.Publish); err != nil {
			return err
		}
	}
	return nil
}

// Next returns the next packet without publishing it.
func (s *Synthetic) Next(start time.Time) *stream.Packet {
	shape := stream.MustShape(s.cfg.FrameSize, s.cfg.FramesPerPacket)
	samples := make([]int16, shape.Elements())
	s.fill(samples)
	return &stream.Packet{Payload: stream.Int16Buffer(samples), Shape: shape, Timestamp: start}
}

func (s *Synthetic) fill(dst []int16) {
	step := 2 * math.Pi * s.cfg.Frequency / float64(s.cfg.SampleRate)
	for i := range dst {
		v := s.cfg.Amplitude * math.Sin(s.phase)
		if s.cfg.Noise > 0 {
			v += s.cfg.Noise * (2*s.rng.Float64() - 1)
		}
		dst[i] = int16(math.Round(math.Max(-1, math.Min(v, 32767.0/32768.0)) * 32768))
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
}
