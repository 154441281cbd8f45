package sensors

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// wavReadFrames is how many sample frames are decoded per read.
const wavReadFrames = 8192

// WAVConfig describes a file sensor.
type WAVConfig struct {
	ID              int
	Name            string
	Path            string
	FrameSize       int
	FramesPerPacket int
	// Realtime paces packets to the file's sample rate.
	Realtime     bool
	MaxListeners int
}

// WAVInfo is the decoded header of a file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// WAVFile replays a PCM WAV file as int16 mono packets. Multichannel input
// is averaged down to one channel and deeper samples are scaled to 16 bits.
type WAVFile struct {
	*Base
	cfg  WAVConfig
	info WAVInfo
}

// OpenWAV validates the file header and returns the sensor.
func OpenWAV(cfg WAVConfig) (*WAVFile, error) {
	if cfg.FrameSize <= 0 || cfg.FramesPerPacket <= 0 {
		return nil, errors.Newf("wav sensor %q needs positive framing", cfg.Name).
			Component(ComponentSensors).
			Category(errors.CategoryConfiguration).
			Build()
	}
	info, err := ReadWAVInfo(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.MaxListeners == 0 {
		cfg.MaxListeners = 1
	}
	return &WAVFile{Base: NewBase(cfg.ID, cfg.Name, cfg.MaxListeners), cfg: cfg, info: info}, nil
}

// Info returns the file header.
func (w *WAVFile) Info() WAVInfo { return w.info }

// ReadWAVInfo decodes only the header of path.
func ReadWAVInfo(path string) (WAVInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fileError(err, path)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return WAVInfo{}, parseError(fmt.Errorf("invalid WAV file format"), path)
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return WAVInfo{}, parseError(fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth), path)
	}
	if decoder.NumChans < 1 || decoder.SampleRate == 0 {
		return WAVInfo{}, parseError(fmt.Errorf("invalid channel count %d or sample rate %d",
			decoder.NumChans, decoder.SampleRate), path)
	}
	dur, err := decoder.Duration()
	if err != nil {
		return WAVInfo{}, parseError(err, path)
	}
	return WAVInfo{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   dur,
	}, nil
}

// Run decodes the whole file and publishes it. The trailing partial packet
// is zero padded.
func (w *WAVFile) Run(ctx context.Context) error {
	file, err := os.Open(w.cfg.Path)
	if err != nil {
		return fileError(err, w.cfg.Path)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return parseError(fmt.Errorf("invalid WAV file format"), w.cfg.Path)
	}

	f, err := newFramer(w.cfg.FrameSize, w.cfg.FramesPerPacket, w.info.SampleRate, time.Now())
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if w.cfg.Realtime {
		ticker := time.NewTicker(f.packetDuration())
		defer ticker.Stop()
		tick = ticker.C
	}
	emit := func(p *stream.Packet) error {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		return w.Publish(p)
	}

	channels := w.info.Channels
	shift := uint(w.info.BitDepth - 16)
	buf := &audio.IntBuffer{
		Data:   make([]int, wavReadFrames*channels),
		Format: &audio.Format{SampleRate: w.info.SampleRate, NumChannels: channels},
	}
	mono := make([]int16, wavReadFrames)

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return parseError(err, w.cfg.Path)
		}
		if n == 0 {
			break
		}
		frames := n / channels
		for i := range frames {
			sum := 0
			for c := range channels {
				sum += buf.Data[i*channels+c]
			}
			mono[i] = int16((sum / channels) >> shift)
		}
		if err := f.push(mono[:frames], emit); err != nil {
			return cancelled(err)
		}
	}
	return cancelled(f.flush(emit))
}

// cancelled treats context shutdown as a clean stop.
func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component(ComponentSensors).
		Category(errors.CategoryFileIO).
		FileContext(path, 0).
		Build()
}

func parseError(err error, path string) error {
	return errors.New(err).
		Component(ComponentSensors).
		Category(errors.CategoryFileParsing).
		FileContext(path, 0).
		Build()
}
