// Package conf loads and validates sensorflow settings from defaults, an
// optional YAML file and SENSORFLOW_* environment variables.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/logger"
)

// Pipeline scheduling modes.
const (
	ModeInline   = "inline"
	ModeDeferred = "deferred"
)

// Fault policies applied when a stage latches a fatal error.
const (
	FaultReset = "reset"
	FaultHalt  = "halt"
)

// Sensor types.
const (
	SensorWAV        = "wav"
	SensorMicrophone = "microphone"
	SensorSynthetic  = "synthetic"
)

// Inference backends.
const (
	BackendLinear = "linear"
	BackendTFLite = "tflite"
)

// Settings contains all configuration options.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Log         logger.Config       `yaml:"log" mapstructure:"log"`
	Pipeline    PipelineSettings    `yaml:"pipeline" mapstructure:"pipeline"`
	Sensor      SensorSettings      `yaml:"sensor" mapstructure:"sensor"`
	Features    FeatureSettings     `yaml:"features" mapstructure:"features"`
	Inference   InferenceSettings   `yaml:"inference" mapstructure:"inference"`
	Output      OutputSettings      `yaml:"output" mapstructure:"output"`
	Telemetry   TelemetrySettings   `yaml:"telemetry" mapstructure:"telemetry"`
	MQTT        MQTTSettings        `yaml:"mqtt" mapstructure:"mqtt"`
	Datastore   DatastoreSettings   `yaml:"datastore" mapstructure:"datastore"`
	Sentry      SentrySettings      `yaml:"sentry" mapstructure:"sentry"`
	Diagnostics DiagnosticsSettings `yaml:"diagnostics" mapstructure:"diagnostics"`
}

// PipelineSettings size the stages and choose how they are scheduled.
type PipelineSettings struct {
	ItemCount    int    `yaml:"itemcount" mapstructure:"itemcount"`       // ring buffer items per link
	MaxSensors   int    `yaml:"maxsensors" mapstructure:"maxsensors"`     // sensor links per stage
	MaxListeners int    `yaml:"maxlisteners" mapstructure:"maxlisteners"` // listeners per event source
	Mode         string `yaml:"mode" mapstructure:"mode"`                 // inline or deferred
	FaultPolicy  string `yaml:"faultpolicy" mapstructure:"faultpolicy"`   // reset or halt
}

// SensorSettings select and configure the data source.
type SensorSettings struct {
	Type            string            `yaml:"type" mapstructure:"type"`
	Count           int               `yaml:"count" mapstructure:"count"` // synthetic sensors only
	Path            string            `yaml:"path" mapstructure:"path"`
	Device          string            `yaml:"device" mapstructure:"device"`
	SampleRate      int               `yaml:"samplerate" mapstructure:"samplerate"`
	FrameSize       int               `yaml:"framesize" mapstructure:"framesize"`
	FramesPerPacket int               `yaml:"framesperpacket" mapstructure:"framesperpacket"`
	Realtime        bool              `yaml:"realtime" mapstructure:"realtime"`
	Synthetic       SyntheticSettings `yaml:"synthetic" mapstructure:"synthetic"`
}

// SyntheticSettings configure the generated test signal.
type SyntheticSettings struct {
	Frequency float64       `yaml:"frequency" mapstructure:"frequency"`
	Amplitude float64       `yaml:"amplitude" mapstructure:"amplitude"`
	Noise     float64       `yaml:"noise" mapstructure:"noise"`
	Packets   int           `yaml:"packets" mapstructure:"packets"`
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
	Seed      uint64        `yaml:"seed" mapstructure:"seed"`
}

// FeatureSettings configure the scale and band energy stages.
type FeatureSettings struct {
	FramesPerItem int     `yaml:"framesperitem" mapstructure:"framesperitem"`
	Bands         int     `yaml:"bands" mapstructure:"bands"`
	Gain          float32 `yaml:"gain" mapstructure:"gain"` // applied after PCM normalization
}

// InferenceSettings configure the classifier stage.
type InferenceSettings struct {
	Backend   string  `yaml:"backend" mapstructure:"backend"`
	ModelPath string  `yaml:"modelpath" mapstructure:"modelpath"`
	LabelPath string  `yaml:"labelpath" mapstructure:"labelpath"`
	Classes   int     `yaml:"classes" mapstructure:"classes"` // random linear model when no model path
	Seed      uint64  `yaml:"seed" mapstructure:"seed"`
	Threads   int     `yaml:"threads" mapstructure:"threads"`
	TopK      int     `yaml:"topk" mapstructure:"topk"`
	Threshold float32 `yaml:"threshold" mapstructure:"threshold"`
}

// OutputSettings configure the in-process sinks.
type OutputSettings struct {
	LogResults bool          `yaml:"logresults" mapstructure:"logresults"`
	CacheTTL   time.Duration `yaml:"cachettl" mapstructure:"cachettl"`
	TapBytes   int           `yaml:"tapbytes" mapstructure:"tapbytes"`
}

// TelemetrySettings configure the metrics and status endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings configure result publishing.
type MQTTSettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Broker   string        `yaml:"broker" mapstructure:"broker"`
	ClientID string        `yaml:"clientid" mapstructure:"clientid"`
	Username string        `yaml:"username" mapstructure:"username"`
	Password string        `yaml:"password" mapstructure:"password"`
	Topic    string        `yaml:"topic" mapstructure:"topic"`
	QoS      byte          `yaml:"qos" mapstructure:"qos"`
	Retain   bool          `yaml:"retain" mapstructure:"retain"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DatastoreSettings configure result persistence.
type DatastoreSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SentrySettings configure error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"samplerate" mapstructure:"samplerate"`
}

// DiagnosticsSettings configure stall reporting.
type DiagnosticsSettings struct {
	StallWarnInterval time.Duration `yaml:"stallwarninterval" mapstructure:"stallwarninterval"`
	SnapshotAfter     int           `yaml:"snapshotafter" mapstructure:"snapshotafter"` // stalls before a snapshot, 0 disables
	Dir               string        `yaml:"dir" mapstructure:"dir"`
}

// Load builds settings from defaults, the config file and the environment.
// An empty configFile searches the default paths; finding no file there is
// not an error. The returned string is the file that was read, if any.
func Load(configFile string) (*Settings, string, error) {
	v := viper.New()
	setDefaultConfig(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, "", errors.New(fmt.Errorf("error reading config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Build()
		}
	} else {
		used = v.ConfigFileUsed()
	}

	if err := bindEnvVars(v); err != nil {
		return nil, "", errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, "", errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, used, err
	}
	return settings, used, nil
}

// Defaults returns the settings with nothing but defaults applied.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		panic(fmt.Sprintf("default settings do not unmarshal: %v", err))
	}
	return settings
}
