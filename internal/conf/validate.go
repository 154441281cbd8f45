package conf

import (
	"fmt"
	"strings"

	"github.com/tphakala/sensorflow/internal/errors"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ErrorCategory implements errors.CategorizedError.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings checks the settings as a whole and normalizes enum
// fields to lower case.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(format string, args ...any) {
		ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
	}

	s.Pipeline.Mode = strings.ToLower(s.Pipeline.Mode)
	s.Pipeline.FaultPolicy = strings.ToLower(s.Pipeline.FaultPolicy)
	s.Sensor.Type = strings.ToLower(s.Sensor.Type)
	s.Inference.Backend = strings.ToLower(s.Inference.Backend)

	validatePipeline(&s.Pipeline, add)
	validateSensor(&s.Sensor, add)
	validateFeatures(s, add)
	validateInference(&s.Inference, add)

	if s.Output.TapBytes < 0 {
		add("output.tapbytes must not be negative")
	}
	if s.Telemetry.Enabled && s.Telemetry.Listen == "" {
		add("telemetry.listen is required when telemetry is enabled")
	}
	if s.MQTT.Enabled {
		if err := validateBrokerURL(s.MQTT.Broker); err != nil {
			add("mqtt.broker: %v", err)
		}
		if s.MQTT.Topic == "" {
			add("mqtt.topic is required when mqtt is enabled")
		}
		if s.MQTT.QoS > 2 {
			add("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
		}
	}
	if s.Datastore.Enabled && s.Datastore.Path == "" {
		add("datastore.path is required when the datastore is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add("sentry.dsn is required when sentry is enabled")
	}
	if s.Diagnostics.SnapshotAfter < 0 {
		add("diagnostics.snapshotafter must not be negative")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePipeline(p *PipelineSettings, add func(string, ...any)) {
	if p.ItemCount < 1 {
		add("pipeline.itemcount must be positive, got %d", p.ItemCount)
	}
	if p.MaxSensors < 1 {
		add("pipeline.maxsensors must be positive, got %d", p.MaxSensors)
	}
	if p.MaxListeners < 1 {
		add("pipeline.maxlisteners must be positive, got %d", p.MaxListeners)
	}
	if p.Mode != ModeInline && p.Mode != ModeDeferred {
		add("pipeline.mode must be %q or %q, got %q", ModeInline, ModeDeferred, p.Mode)
	}
	if p.FaultPolicy != FaultReset && p.FaultPolicy != FaultHalt {
		add("pipeline.faultpolicy must be %q or %q, got %q", FaultReset, FaultHalt, p.FaultPolicy)
	}
}

func validateSensor(s *SensorSettings, add func(string, ...any)) {
	switch s.Type {
	case SensorWAV:
		if s.Path == "" {
			add("sensor.path is required for wav sensors")
		}
	case SensorMicrophone, SensorSynthetic:
	default:
		add("sensor.type must be one of wav, microphone, synthetic, got %q", s.Type)
	}
	if s.Count < 1 {
		add("sensor.count must be positive, got %d", s.Count)
	}
	if s.Type != SensorSynthetic && s.Count > 1 {
		add("sensor.count above 1 is only supported for synthetic sensors")
	}
	if s.SampleRate < 1 {
		add("sensor.samplerate must be positive, got %d", s.SampleRate)
	}
	if s.FrameSize < 2 {
		add("sensor.framesize must be at least 2, got %d", s.FrameSize)
	}
	if s.FramesPerPacket < 1 {
		add("sensor.framesperpacket must be positive, got %d", s.FramesPerPacket)
	}
	if s.Type == SensorSynthetic {
		if s.Synthetic.Frequency <= 0 || s.Synthetic.Frequency >= float64(s.SampleRate)/2 {
			add("sensor.synthetic.frequency must be between 0 and the Nyquist frequency")
		}
		if s.Synthetic.Amplitude < 0 || s.Synthetic.Amplitude > 1 {
			add("sensor.synthetic.amplitude must be within [0, 1]")
		}
		if s.Synthetic.Packets < 0 {
			add("sensor.synthetic.packets must not be negative")
		}
	}
}

func validateFeatures(s *Settings, add func(string, ...any)) {
	f := s.Features
	if f.FramesPerItem < 1 {
		add("features.framesperitem must be positive, got %d", f.FramesPerItem)
	}
	if f.Bands < 1 || f.Bands > s.Sensor.FrameSize/2+1 {
		add("features.bands must be between 1 and framesize/2+1 (%d), got %d", s.Sensor.FrameSize/2+1, f.Bands)
	}
	// Equal sides would make packet rows land as columns of the working frame.
	if s.Sensor.FrameSize == f.FramesPerItem && s.Sensor.FrameSize != s.Sensor.FramesPerPacket {
		add("sensor.framesize must differ from features.framesperitem")
	}
	if f.Gain <= 0 {
		add("features.gain must be positive")
	}
}

func validateInference(in *InferenceSettings, add func(string, ...any)) {
	switch in.Backend {
	case BackendLinear:
		if in.ModelPath == "" && in.Classes < 1 {
			add("inference.classes must be positive when no model path is set")
		}
	case BackendTFLite:
		if in.ModelPath == "" {
			add("inference.modelpath is required for the tflite backend")
		}
	default:
		add("inference.backend must be %q or %q, got %q", BackendLinear, BackendTFLite, in.Backend)
	}
	if in.Threads < 0 {
		add("inference.threads must not be negative")
	}
	if in.TopK < 1 {
		add("inference.topk must be positive, got %d", in.TopK)
	}
	if in.Threshold < 0 || in.Threshold > 1 {
		add("inference.threshold must be within [0, 1]")
	}
}
