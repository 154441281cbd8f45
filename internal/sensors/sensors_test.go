package sensors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/stream"
)

// capture keeps copies of every packet it receives.
type capture struct {
	mu      sync.Mutex
	packets []*stream.Packet
}

func (c *capture) OnNewDataReady(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, ev.Packet.Clone())
	return nil
}

func (c *capture) samples() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int16
	for _, p := range c.packets {
		out = append(out, p.Payload.I16...)
	}
	return out
}

type countingRecorder struct {
	ops    map[string]int
	errors map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{ops: map[string]int{}, errors: map[string]int{}}
}

func (r *countingRecorder) RecordOperation(op, status string) { r.ops[op+"/"+status]++ }
func (r *countingRecorder) RecordDuration(string, float64)    {}
func (r *countingRecorder) RecordError(op, errorType string)  { r.errors[op+"/"+errorType]++ }

func TestFramerSplitsAndPads(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	f, err := newFramer(2, 2, 4, start)
	require.NoError(t, err)

	var got []*stream.Packet
	emit := func(p *stream.Packet) error {
		got = append(got, p)
		return nil
	}
	require.NoError(t, f.push([]int16{1, 2, 3}, emit))
	require.Empty(t, got)
	require.NoError(t, f.push([]int16{4, 5, 6, 7, 8, 9}, emit))
	require.Len(t, got, 2)
	require.NoError(t, f.flush(emit))
	require.Len(t, got, 3)

	assert.Equal(t, []int16{1, 2, 3, 4}, got[0].Payload.I16)
	assert.Equal(t, []int16{5, 6, 7, 8}, got[1].Payload.I16)
	assert.Equal(t, []int16{9, 0, 0, 0}, got[2].Payload.I16)
	assert.Equal(t, start, got[0].Timestamp)
	assert.Equal(t, start.Add(time.Second), got[1].Timestamp, "4 samples at 4 Hz")
	assert.Equal(t, time.Second, f.packetDuration())
}

func TestDecodeS16(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []int16{1, -1, -32768}, decodeS16([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f}))
}

func TestSyntheticPublishesPackets(t *testing.T) {
	t.Parallel()

	s, err := NewSynthetic(SyntheticConfig{
		Name: "tone", SampleRate: 8000, Frequency: 1000, Amplitude: 0.5,
		FrameSize: 8, FramesPerPacket: 2, Packets: 3, Seed: 1,
	})
	require.NoError(t, err)
	c := &capture{}
	require.NoError(t, s.EventSource().AddListener(c))

	require.NoError(t, s.Run(t.Context()))
	require.Len(t, c.packets, 3)
	assert.Equal(t, uint64(3), s.Published())
	assert.Equal(t, []int{8, 2}, c.packets[0].Shape.Dims())

	samples := c.samples()
	assert.Equal(t, int16(0), samples[0])
	assert.Equal(t, int16(16384), samples[2], "quarter period of 1 kHz at 8 kHz peaks at half scale")
	for _, v := range samples {
		assert.LessOrEqual(t, v, int16(16384))
		assert.GreaterOrEqual(t, v, int16(-16384))
	}
}

func TestSyntheticStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := NewSynthetic(SyntheticConfig{
		Name: "paced", SampleRate: 8000, FrameSize: 4, FramesPerPacket: 1, Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Published())

	_, err = NewSynthetic(SyntheticConfig{Name: "bad"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func writeWAV(t *testing.T, rate, depth, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	out, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(out, rate, depth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: depth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, out.Close())
	return path
}

func TestWAVFileReplaysSamples(t *testing.T) {
	t.Parallel()

	data := make([]int, 10)
	for i := range data {
		data[i] = i * 100
	}
	path := writeWAV(t, 8000, 16, 1, data)

	w, err := OpenWAV(WAVConfig{Name: "file", Path: path, FrameSize: 4, FramesPerPacket: 1})
	require.NoError(t, err)
	assert.Equal(t, 8000, w.Info().SampleRate)
	assert.Equal(t, 1, w.Info().Channels)

	c := &capture{}
	require.NoError(t, w.EventSource().AddListener(c))
	require.NoError(t, w.Run(t.Context()))

	require.Len(t, c.packets, 3)
	assert.Equal(t, []int16{0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 0, 0}, c.samples())
}

func TestWAVFileDownmixesStereo(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 8000, 16, 2, []int{100, 300, -200, -400})
	w, err := OpenWAV(WAVConfig{Name: "stereo", Path: path, FrameSize: 2, FramesPerPacket: 1})
	require.NoError(t, err)

	c := &capture{}
	require.NoError(t, w.EventSource().AddListener(c))
	require.NoError(t, w.Run(t.Context()))
	assert.Equal(t, []int16{200, -300}, c.samples())
}

func TestOpenWAVErrors(t *testing.T) {
	t.Parallel()

	_, err := OpenWAV(WAVConfig{Name: "missing", Path: filepath.Join(t.TempDir(), "nope.wav"), FrameSize: 1, FramesPerPacket: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	junk := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not riff data"), 0o600))
	_, err = OpenWAV(WAVConfig{Name: "junk", Path: junk, FrameSize: 1, FramesPerPacket: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestPublishAbsorbsStalls(t *testing.T) {
	t.Parallel()

	stage, err := dpu.New(dpu.Config{
		Name:        "narrow",
		InputType:   stream.Int16,
		InputShape:  stream.MustShape(2, 1),
		OutputType:  stream.Int16,
		OutputShape: stream.MustShape(2, 1),
		ItemCount:   1,
		MaxSensors:  1,
	}, dpu.TransformFunc(func(in, out stream.Buffer) error { return nil }))
	require.NoError(t, err)
	stage.RegisterNotifyCallback(func(*dpu.Stage, any) error { return nil }, nil)

	b := NewBase(0, "mic", 1)
	rec := newCountingRecorder()
	b.SetRecorder(rec)
	var stalls []int
	b.OnStall(func(name string, dropped int, err error) {
		assert.Equal(t, "mic", name)
		assert.True(t, errors.IsBackpressure(err))
		stalls = append(stalls, dropped)
	})
	b.SetGuard(&sync.Mutex{})
	require.NoError(t, stage.AttachToSensor(b, nil))

	p := &stream.Packet{Payload: stream.Int16Buffer([]int16{1, 2, 3, 4, 5}), Shape: stream.MustShape(5, 1)}
	require.NoError(t, b.Publish(p))

	assert.Equal(t, []int{3}, stalls)
	assert.Equal(t, uint64(3), b.Dropped())
	assert.Equal(t, 1, rec.ops["publish/stalled"])
	assert.Equal(t, 1, rec.errors["publish/backpressure"])

	bad := &stream.Packet{Payload: stream.Float32Buffer([]float32{1}), Shape: stream.MustShape(1, 1)}
	require.ErrorIs(t, b.Publish(bad), stream.ErrUnsupportedFormat)
	assert.Equal(t, 1, rec.ops["publish/error"])
}

func TestPublishErrorHandler(t *testing.T) {
	t.Parallel()

	failing := errors.Newf("sink offline").Category(errors.CategoryNetwork).Build()
	b := NewBase(0, "mic", 1)
	require.NoError(t, b.EventSource().AddListener(events.ListenerFunc(func(events.Event) error {
		return failing
	})))

	p := &stream.Packet{Payload: stream.Int16Buffer([]int16{1}), Shape: stream.MustShape(1, 1)}
	require.ErrorIs(t, b.Publish(p), failing, "without a handler the error stops the sensor")

	var seen []error
	b.OnError(func(name string, err error) error {
		assert.Equal(t, "mic", name)
		seen = append(seen, err)
		return nil
	})
	require.NoError(t, b.Publish(p))
	require.Len(t, seen, 1)
	assert.ErrorIs(t, seen[0], failing)
	assert.Equal(t, uint64(2), b.Published())
}

func TestPublishRoutesFatalBehindStall(t *testing.T) {
	t.Parallel()

	stalled := errors.Newf("no free item").Category(errors.CategoryBackpressure).Build()
	broken := errors.Newf("item state corrupted").Category(errors.CategoryFatal).Build()

	b := NewBase(0, "mic", 2)
	require.NoError(t, b.EventSource().AddListener(events.ListenerFunc(func(events.Event) error {
		return stalled
	})))
	require.NoError(t, b.EventSource().AddListener(events.ListenerFunc(func(events.Event) error {
		return broken
	})))

	var stalls int
	b.OnStall(func(string, int, error) { stalls++ })
	var seen []error
	b.OnError(func(_ string, err error) error {
		seen = append(seen, err)
		return nil
	})

	p := &stream.Packet{Payload: stream.Int16Buffer([]int16{1}), Shape: stream.MustShape(1, 1)}
	require.NoError(t, b.Publish(p))
	require.Len(t, seen, 1)
	assert.ErrorIs(t, seen[0], broken)
	assert.Zero(t, stalls, "fatal errors are not absorbed as stalls")
	assert.Zero(t, b.Dropped())
}
