package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevelsAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo).Module("dpu").Module("features")

	log.Debug("dropped")
	log.With(Int("sensor_id", 2)).Info("item ready",
		String("stage", "features"),
		Float64("score", 0.123456),
		Duration("elapsed", 1500*time.Microsecond),
		Error(nil))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "item ready", lines[0]["msg"])
	assert.Equal(t, "dpu.features", lines[0]["module"])
	assert.InDelta(t, 2, lines[0]["sensor_id"], 0)
	assert.InDelta(t, 0.123, lines[0]["score"], 1e-9)
	assert.Equal(t, "1.5ms", lines[0]["elapsed"])
	assert.Nil(t, lines[0]["error"])
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelDebug)
	_ = parent.With(String("k", "v"))
	parent.Info("plain")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "k")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo)

	log.WithContext(context.Background()).Info("no trace")
	log.WithContext(WithTraceID(context.Background(), "run-1")).Info("traced")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "trace_id")
	assert.Equal(t, "run-1", lines[1]["trace_id"])
}

func TestLogExplicitLevelRespectsThreshold(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn)
	log.Log(LogLevelInfo, "suppressed")
	log.Log(LogLevelError, "kept")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])
}

func TestCentralLoggerFileOutputAndModuleLevels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "sensorflow.log")
	cl, err := NewCentralLogger(&Config{
		Level:        "info",
		Timezone:     "UTC",
		File:         FileOutput{Enabled: true, Path: path, Level: "trace", MaxSize: 1},
		ModuleLevels: map[string]string{"sinks": "debug"},
	})
	require.NoError(t, err)

	cl.Module("sinks.mqtt").Debug("published")
	cl.Module("app").Debug("hidden")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"sinks.mqtt"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestCentralLoggerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)

	_, err = NewCentralLogger(&Config{Timezone: "Nowhere/Invalid"})
	require.Error(t, err)

	_, err = NewCentralLogger(&Config{File: FileOutput{Enabled: true}})
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"trace": "DEBUG-4",
		"DEBUG": "DEBUG",
		"warn":  "WARN",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in).String(), in)
	}
}
