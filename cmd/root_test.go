package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := RootCommand("test")
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out := execute(t, "config", "init", path)
	assert.Contains(t, out, "Wrote "+path)
	require.FileExists(t, path)

	out = execute(t, "--config", path, "--mode", "inline", "config", "show")
	assert.Contains(t, out, "# loaded from "+path)
	assert.Contains(t, out, "mode: inline", "flags override the file")

	root := RootCommand("test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "init", path})
	require.Error(t, root.Execute(), "existing file needs --force")
}

func TestFileCommandClassifiesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	data := make([]int, 4096)
	for i := range data {
		data[i] = (i%32 - 16) * 512
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{Data: data, Format: &audio.Format{SampleRate: 16000, NumChannels: 1}}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	out := execute(t, "--mode", "inline", "file", path)
	assert.Contains(t, out, "classify")
	assert.Contains(t, out, "latest: class_")
}

func TestInvalidFlagIsRejected(t *testing.T) {
	root := RootCommand("test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--fault-policy", "retry", "config", "show"})
	require.Error(t, root.Execute())
}
