package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/logger"
)

// MicrophoneConfig describes a soundcard capture.
type MicrophoneConfig struct {
	ID              int
	Name            string
	Device          string // substring of the device name, empty for default
	SampleRate      int
	FrameSize       int
	FramesPerPacket int
	// QueueDepth is how many capture callbacks may be pending before
	// audio is dropped.
	QueueDepth   int
	MaxListeners int
	Logger       logger.Logger
}

// Microphone captures 16 bit mono audio with malgo.
type Microphone struct {
	*Base
	cfg     MicrophoneConfig
	log     logger.Logger
	overrun atomic.Uint64
}

// NewMicrophone validates cfg. The device is opened by Run.
func NewMicrophone(cfg MicrophoneConfig) (*Microphone, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 || cfg.FramesPerPacket <= 0 {
		return nil, errors.Newf("microphone %q needs positive sample rate and framing", cfg.Name).
			Component(ComponentSensors).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.MaxListeners == 0 {
		cfg.MaxListeners = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Microphone{Base: NewBase(cfg.ID, cfg.Name, cfg.MaxListeners), cfg: cfg, log: log}, nil
}

// Overruns returns how many capture callbacks were dropped because the
// publisher fell behind.
func (m *Microphone) Overruns() uint64 { return m.overrun.Load() }

// DeviceInfo names a capture device.
type DeviceInfo struct {
	Index int
	Name  string
}

// ListDevices returns the available capture devices.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, audioError(fmt.Errorf("failed to initialize context: %w", err))
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, audioError(fmt.Errorf("failed to get devices: %w", err))
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{Index: i, Name: info.Name()})
	}
	return devices, nil
}

// Run captures until ctx ends. The malgo callback only copies samples into
// a queue; framing and publishing happen on the calling goroutine.
func (m *Microphone) Run(ctx context.Context) error {
	mctx, err := malgo.InitContext(backends(), malgo.ContextConfig{}, func(message string) {
		m.log.Debug("malgo", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return audioError(fmt.Errorf("context init failed: %w", err))
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate) //nolint:gosec // validated positive
	deviceConfig.Alsa.NoMMap = 1

	if m.cfg.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return audioError(fmt.Errorf("failed to get devices: %w", err))
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(m.cfg.Device)) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return errors.Newf("no capture device matches %q", m.cfg.Device).
				Component(ComponentSensors).
				Category(errors.CategoryNotFound).
				Build()
		}
	}

	queue := make(chan []int16, m.cfg.QueueDepth)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			select {
			case queue <- decodeS16(input):
			default:
				m.overrun.Add(1)
			}
		},
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return audioError(fmt.Errorf("device init failed: %w", err))
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return audioError(fmt.Errorf("device start failed: %w", err))
	}
	defer device.Stop() //nolint:errcheck // best effort on shutdown

	m.log.Info("capture started",
		logger.String("sensor", m.Name()),
		logger.Int("sample_rate", m.cfg.SampleRate))

	f, err := newFramer(m.cfg.FrameSize, m.cfg.FramesPerPacket, m.cfg.SampleRate, time.Now())
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case samples := <-queue:
			if err := f.push(samples, m.Publish); err != nil {
				return err
			}
		}
	}
}

// decodeS16 converts little endian 16 bit PCM bytes to samples.
func decodeS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:])) //nolint:gosec // PCM reinterpretation
	}
	return out
}

func backends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	}
	return nil
}

func audioError(err error) error {
	return errors.New(err).
		Component(ComponentSensors).
		Category(errors.CategoryAudioSource).
		Build()
}
