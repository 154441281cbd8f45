package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/stream"
)

func newTestMetrics(t *testing.T) (*PipelineMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func TestRegistrationIsPerRegistry(t *testing.T) {
	t.Parallel()

	_, reg := newTestMetrics(t)
	_, err := NewPipelineMetrics(reg)
	require.Error(t, err, "duplicate registration")

	_, err = NewPipelineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
}

func TestComponentRecorder(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	r := m.ForComponent("features")

	r.RecordOperation(OpProcess, StatusSuccess)
	r.RecordOperation(OpProcess, StatusSuccess)
	r.RecordOperation(OpProcess, StatusError)
	r.RecordError(OpWrite, "backpressure")
	r.RecordError(OpFault, "fatal")
	r.RecordDuration(OpProcess, 0.001)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Operations.WithLabelValues("features", OpProcess, StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues("features", OpProcess, StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("features", OpWrite, "backpressure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Faults.WithLabelValues("features")), 0)

	var hist dto.Metric
	obs, err := m.Durations.GetMetricWithLabelValues("features", OpProcess)
	require.NoError(t, err)
	require.NoError(t, obs.(prometheus.Histogram).Write(&hist))
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
}

func TestDroppedSamplesAndGauges(t *testing.T) {
	t.Parallel()

	m, reg := newTestMetrics(t)
	m.AddDroppedSamples("mic", 0)
	m.AddDroppedSamples("mic", 128)
	assert.InDelta(t, 128, testutil.ToFloat64(m.DroppedSamples.WithLabelValues("mic")), 0)

	m.ObserveStage(dpu.Stats{Name: "scale", Links: []dpu.LinkStats{{Name: "sensor-0", Ready: 2, Free: 1}}})
	assert.InDelta(t, 2, testutil.ToFloat64(m.ReadyItems.WithLabelValues("scale", "sensor-0")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FreeItems.WithLabelValues("scale", "sensor-0")), 0)

	expected := `
# HELP sensorflow_dropped_samples_total Samples dropped because a stage had no free item
# TYPE sensorflow_dropped_samples_total counter
sensorflow_dropped_samples_total{sensor="mic"} 128
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sensorflow_dropped_samples_total"))
}

func TestStageReportsThroughRecorder(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	shape := stream.MustShape(1, 2)
	stage, err := dpu.New(dpu.Config{
		Name:        "copy",
		InputType:   stream.Float32,
		InputShape:  shape,
		OutputType:  stream.Float32,
		OutputShape: shape,
	}, dpu.TransformFunc(func(in, out stream.Buffer) error {
		copy(out.F32, in.F32)
		return nil
	}), dpu.WithRecorder(m.ForComponent("copy")))
	require.NoError(t, err)

	up, err := dpu.New(dpu.Config{
		Name:        "source",
		InputType:   stream.Float32,
		InputShape:  shape,
		OutputType:  stream.Float32,
		OutputShape: shape,
	}, dpu.TransformFunc(func(in, out stream.Buffer) error {
		copy(out.F32, in.F32)
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, stage.AttachInputDPU(up, nil))

	p, err := stream.NewPacket(stream.Float32Buffer([]float32{1, 2}), shape, time.Time{})
	require.NoError(t, err)
	require.NoError(t, up.DispatchEvents(events.Event{Packet: p, Origin: "source"}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues("copy", OpProcess, StatusSuccess)), 0)
	m.ObserveStage(stage.Stats())
	assert.InDelta(t, 0, testutil.ToFloat64(m.ReadyItems.WithLabelValues("copy", "dpu-source")), 0)
}
