package logger

import (
	"bytes"
	"testing"

	echo_log "github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoAdapterRoutesToLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	a := NewEchoAdapter(NewSlogLogger(buf, LogLevelInfo).Module("http"))

	a.Debug("hidden")
	a.Printf("listening on %s", "127.0.0.1:8090")
	a.Warnj(echo_log.JSON{"path": "/healthz"})
	a.Error("shutdown", " failed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "listening on 127.0.0.1:8090", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "http", lines[0]["module"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, map[string]any{"path": "/healthz"}, lines[1]["data"])
	assert.Equal(t, "shutdown failed", lines[2]["msg"])

	assert.Equal(t, echo_log.INFO, a.Level())
	a.SetLevel(echo_log.DEBUG)
	assert.Equal(t, echo_log.DEBUG, a.Level())
}

func TestEchoAdapterPanicsInsteadOfExiting(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	a := NewEchoAdapter(NewSlogLogger(buf, LogLevelInfo))

	assert.PanicsWithValue(t, "bind failed: busy", func() { a.Fatalf("bind failed: %s", "busy") })
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])

	assert.NotPanics(t, func() { NewEchoAdapter(nil).Info("dropped") })
}
