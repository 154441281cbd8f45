package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/errors"
)

func TestDefaultsAreValid(t *testing.T) {
	s := Defaults()
	require.NoError(t, ValidateSettings(s))

	assert.Equal(t, ModeDeferred, s.Pipeline.Mode)
	assert.Equal(t, FaultReset, s.Pipeline.FaultPolicy)
	assert.Equal(t, SensorSynthetic, s.Sensor.Type)
	assert.Equal(t, 256, s.Sensor.FrameSize)
	assert.Equal(t, 64*time.Millisecond, s.Sensor.Synthetic.Interval)
	assert.Equal(t, "info", s.Log.Level)
	assert.InDelta(t, 0.1, s.Inference.Threshold, 1e-6)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  mode: INLINE
  itemcount: 8
sensor:
  type: wav
  path: /tmp/in.wav
  framesize: 128
inference:
  topk: 1
diagnostics:
  stallwarninterval: 30s
`)
	s, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, ModeInline, s.Pipeline.Mode, "enums are normalized")
	assert.Equal(t, 8, s.Pipeline.ItemCount)
	assert.Equal(t, "/tmp/in.wav", s.Sensor.Path)
	assert.Equal(t, 128, s.Sensor.FrameSize)
	assert.Equal(t, 4, s.Sensor.FramesPerPacket, "unset keys keep defaults")
	assert.Equal(t, 1, s.Inference.TopK)
	assert.Equal(t, 30*time.Second, s.Diagnostics.StallWarnInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  mode: sometimes
sensor:
  type: wav
`)
	_, _, err := Load(path)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "sensor:\n  samplerate: 8000\n")
	t.Setenv("SENSORFLOW_SENSOR_SAMPLERATE", "22050")
	t.Setenv("SENSORFLOW_PIPELINE_FAULTPOLICY", "halt")

	s, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 22050, s.Sensor.SampleRate)
	assert.Equal(t, FaultHalt, s.Pipeline.FaultPolicy)
}

func TestEnvironmentValidation(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	t.Setenv("SENSORFLOW_DEBUG", "maybe")
	t.Setenv("SENSORFLOW_MQTT_BROKER", "localhost")

	_, _, err := Load(path)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Errors, 2)
	assert.Contains(t, ve.Errors[0], "SENSORFLOW_DEBUG")
	assert.Contains(t, ve.Errors[1], "SENSORFLOW_MQTT_BROKER")
}

func TestSaveYAMLReloads(t *testing.T) {
	s := Defaults()
	s.Pipeline.Mode = ModeInline
	s.Output.CacheTTL = 90 * time.Second
	s.MQTT.Topic = "lab/bench"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAML(path, s))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is renamed away")

	loaded, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Pipeline, loaded.Pipeline)
	assert.Equal(t, s.Sensor, loaded.Sensor)
	assert.Equal(t, s.Output, loaded.Output)
	assert.Equal(t, s.MQTT, loaded.MQTT)
	assert.Equal(t, s.Diagnostics, loaded.Diagnostics)
}
