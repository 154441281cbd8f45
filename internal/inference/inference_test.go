package inference

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/stream"
)

func TestLinearSoftmax(t *testing.T) {
	t.Parallel()

	m, err := NewLinear([][]float32{{1, 0}, {0, 1}, {0, 0}}, []float32{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, m.InputSize())
	assert.Equal(t, 3, m.OutputSize())

	out := make([]float32, 3)
	require.NoError(t, m.Run([]float32{4, 0}, out))

	var sum float32
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Greater(t, out[0], out[1])
	assert.InDelta(t, out[1], out[2], 1e-7, "equal logits give equal scores")
}

func TestLinearValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLinear(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))

	_, err = NewLinear([][]float32{{1, 2}, {3}}, nil)
	require.Error(t, err)

	_, err = NewLinear([][]float32{{1}}, []float32{1, 2})
	require.Error(t, err)

	m, err := NewLinear([][]float32{{1}}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, m.Run([]float32{1, 2}, make([]float32, 1)), ErrSizeMismatch)

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Run([]float32{1}, make([]float32, 1)), ErrModelClosed)
}

func TestRandomLinearIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := NewRandomLinear(8, 3, 42)
	require.NoError(t, err)
	b, err := NewRandomLinear(8, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, a.weights, b.weights)

	c, err := NewRandomLinear(8, 3, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.weights, c.weights)

	_, err = NewRandomLinear(0, 3, 1)
	require.Error(t, err)
}

func TestLoadLinear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
labels: [quiet, loud]
weights:
  - [-1, -1]
  - [1, 1]
bias: [0.5, -0.5]
`), 0o600))

	m, labels, err := LoadLinear(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"quiet", "loud"}, labels)
	assert.Equal(t, 2, m.InputSize())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("labels: [a, b, c]\nweights: [[1]]\n"), 0o600))
	_, _, err = LoadLinear(bad)
	require.Error(t, err)

	_, _, err = LoadLinear(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	res, err := Decode([]string{"a", "b", "c", "d"}, []float32{0.1, 0.4, 0.4, 0.1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Result{{"b", 0.4}, {"c", 0.4}, {"a", 0.1}}, res, "ties keep label order")

	res, err = Decode(nil, []float32{0.2, 0.8}, 0)
	require.NoError(t, err)
	assert.Equal(t, []Result{{"class_1", 0.8}, {"class_0", 0.2}}, res)

	assert.Equal(t, []Result{{"class_1", 0.8}}, AboveThreshold(res, 0.5))

	_, err = Decode([]string{"a"}, []float32{1, 2}, 1)
	require.ErrorIs(t, err, ErrLabelMismatch)
}

// collector records every output packet of a stage.
type collector struct {
	scores [][]float32
}

func (c *collector) OnNewDataReady(ev events.Event) error {
	c.scores = append(c.scores, append([]float32(nil), ev.Packet.Payload.F32...))
	return nil
}

type sensor struct {
	src *events.Source
}

func (s *sensor) ID() int                     { return 0 }
func (s *sensor) EventSource() *events.Source { return s.src }

func TestTransformerRunsInsideStage(t *testing.T) {
	t.Parallel()

	m, err := NewLinear([][]float32{{1, 1, 0, 0}, {0, 0, 1, 1}}, nil)
	require.NoError(t, err)

	cfg, err := StageConfig("classify", stream.MustShape(2, 2), m, 2, 1, 1)
	require.NoError(t, err)
	stage, err := dpu.New(cfg, NewTransformer(m))
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, stage.EventSource().AddListener(c))

	upstream, err := dpu.New(dpu.Config{
		Name:        "source",
		InputType:   stream.Float32,
		InputShape:  stream.MustShape(2, 2),
		OutputType:  stream.Float32,
		OutputShape: stream.MustShape(2, 2),
	}, dpu.TransformFunc(func(in, out stream.Buffer) error {
		copy(out.F32, in.F32)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, stage.AttachInputDPU(upstream))

	mic := &sensor{src: events.NewSource(1)}
	require.NoError(t, upstream.AttachToSensor(mic, nil))
	p, err := stream.NewPacket(stream.Float32Buffer([]float32{0, 0, 5, 5}), stream.MustShape(2, 2), time.Now())
	require.NoError(t, err)
	require.NoError(t, mic.src.SendEvent(events.Event{Packet: p}))

	require.Len(t, c.scores, 1)
	assert.Greater(t, c.scores[0][1], c.scores[0][0])

	_, err = StageConfig("bad", stream.MustShape(3), m, 1, 1, 1)
	require.ErrorIs(t, err, ErrSizeMismatch)
}
