// Package features provides the feature extraction transforms run by
// processing stages: PCM scaling and per frame band energies.
package features

import (
	"fmt"
	"math"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// ComponentFeatures identifies this package in enhanced errors.
const ComponentFeatures = "features"

// energyFloor keeps log10 finite on silent bands.
const energyFloor = 1e-10

// PCMScale normalizes 16 bit PCM to [-1, 1).
const PCMScale = 1.0 / 32768.0

// Scale multiplies every sample by Gain and stores it as float32.
type Scale struct {
	Gain float32
}

// Transform implements dpu.Transformer.
func (s Scale) Transform(in, out stream.Buffer) error {
	if out.Type != stream.Float32 || out.Len() != in.Len() {
		return lengthError("scale", in.Len(), out.Len())
	}
	switch in.Type {
	case stream.Int16:
		for i, v := range in.I16 {
			out.F32[i] = float32(v) * s.Gain
		}
	case stream.Float32:
		for i, v := range in.F32 {
			out.F32[i] = v * s.Gain
		}
	default:
		return fmt.Errorf("%w: scale input %s", stream.ErrUnsupportedFormat, in.Type)
	}
	return nil
}

// BandEnergy splits each frame's power spectrum into equal width bands and
// emits log10 band energies. Input is Frames rows of FrameSize samples,
// output is Frames rows of Bands values.
type BandEnergy struct {
	frameSize int
	frames    int
	bands     int
	bins      int

	window []float64
	cos    []float64
	sin    []float64
	power  []float64
}

// NewBandEnergy precomputes the Hann window and DFT twiddle tables.
func NewBandEnergy(frameSize, frames, bands int) (*BandEnergy, error) {
	if frameSize < 2 || frames < 1 || bands < 1 {
		return nil, errors.Newf("band energy needs frame size >= 2 and positive frames and bands, got %d, %d, %d",
			frameSize, frames, bands).
			Component(ComponentFeatures).
			Category(errors.CategoryConfiguration).
			Build()
	}
	bins := frameSize/2 + 1
	if bands > bins {
		return nil, errors.Newf("%d bands exceed %d spectrum bins", bands, bins).
			Component(ComponentFeatures).
			Category(errors.CategoryConfiguration).
			Build()
	}

	b := &BandEnergy{
		frameSize: frameSize,
		frames:    frames,
		bands:     bands,
		bins:      bins,
		window:    make([]float64, frameSize),
		cos:       make([]float64, frameSize),
		sin:       make([]float64, frameSize),
		power:     make([]float64, bins),
	}
	for n := range frameSize {
		b.window[n] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(frameSize-1))
		angle := 2 * math.Pi * float64(n) / float64(frameSize)
		b.cos[n] = math.Cos(angle)
		b.sin[n] = math.Sin(angle)
	}
	return b, nil
}

// InputShape is FrameSize x Frames.
func (b *BandEnergy) InputShape() stream.Shape { return stream.MustShape(b.frameSize, b.frames) }

// OutputShape is Bands x Frames.
func (b *BandEnergy) OutputShape() stream.Shape { return stream.MustShape(b.bands, b.frames) }

// Transform implements dpu.Transformer. It is not safe for concurrent use;
// a stage calls it from one goroutine at a time.
func (b *BandEnergy) Transform(in, out stream.Buffer) error {
	if in.Len() != b.frameSize*b.frames || out.Len() != b.bands*b.frames {
		return lengthError("band energy", in.Len(), out.Len())
	}
	samples := in.Float32s()
	for f := range b.frames {
		b.spectrum(samples[f*b.frameSize : (f+1)*b.frameSize])
		b.fold(out.F32[f*b.bands : (f+1)*b.bands])
	}
	return nil
}

// spectrum computes the windowed power spectrum of one frame. The frame
// sizes used here are small, so a direct DFT is adequate.
func (b *BandEnergy) spectrum(frame []float32) {
	n := b.frameSize
	for k := range b.bins {
		var re, im float64
		for t, v := range frame {
			x := float64(v) * b.window[t]
			idx := (k * t) % n
			re += x * b.cos[idx]
			im -= x * b.sin[idx]
		}
		b.power[k] = (re*re + im*im) / float64(n)
	}
}

func (b *BandEnergy) fold(dst []float32) {
	for band := range b.bands {
		lo := band * b.bins / b.bands
		hi := (band + 1) * b.bins / b.bands
		var e float64
		for _, p := range b.power[lo:hi] {
			e += p
		}
		dst[band] = float32(math.Log10(energyFloor + e))
	}
}

// StageConfig returns a stage configuration whose working stream is one
// item of float32 frames and whose output is the band energies.
func (b *BandEnergy) StageConfig(name string, itemCount, maxSensors, maxListeners int) dpu.Config {
	return dpu.Config{
		Name:         name,
		InputType:    stream.Float32,
		InputShape:   b.InputShape(),
		OutputType:   stream.Float32,
		OutputShape:  b.OutputShape(),
		OutputMode:   stream.ModePerRow,
		ItemCount:    itemCount,
		MaxSensors:   maxSensors,
		MaxListeners: maxListeners,
	}
}

// ScaleStageConfig returns the configuration of a front stage that converts
// sensor PCM frames of the given shape to float32.
func ScaleStageConfig(name string, in stream.ElementType, shape stream.Shape, itemCount, maxSensors, maxListeners int) dpu.Config {
	return dpu.Config{
		Name:         name,
		InputType:    in,
		InputShape:   shape,
		OutputType:   stream.Float32,
		OutputShape:  shape,
		OutputMode:   stream.ModeFull,
		ItemCount:    itemCount,
		MaxSensors:   maxSensors,
		MaxListeners: maxListeners,
	}
}

func lengthError(op string, in, out int) error {
	return errors.Newf("%s: unexpected buffer sizes in=%d out=%d", op, in, out).
		Component(ComponentFeatures).
		Category(errors.CategoryValidation).
		Build()
}
