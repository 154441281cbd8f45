package tflite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/errors"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.tflite"), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestNewRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := New([]byte("not a flatbuffer"), Options{Threads: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
}
