package sinks

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/inference"
	"github.com/tphakala/sensorflow/internal/logger"
	"github.com/tphakala/sensorflow/internal/stream"
)

var testLabels = []string{"wind", "bird", "engine"}

func scoreEvent(seq uint64, ts time.Time, scores ...float32) events.Event {
	return events.Event{
		Packet: &stream.Packet{
			Payload:   stream.Float32Buffer(scores),
			Shape:     stream.MustShape(len(scores)),
			Timestamp: ts,
		},
		Origin:   "classify",
		Sequence: seq,
	}
}

func testDecoder() Decoder {
	return Decoder{RunID: "run-1", Labels: testLabels, TopK: 2, Threshold: 0.2}
}

func TestDecoder(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1700000000, 0).UTC()
	ev := scoreEvent(7, ts, 0.1, 0.7, 0.2)
	rec, err := testDecoder().Decode(ev)
	require.NoError(t, err)

	assert.Equal(t, "classify", rec.Stage)
	assert.Equal(t, uint64(7), rec.Sequence)
	assert.Equal(t, ts, rec.Timestamp)
	assert.Equal(t, []inference.Result{{Label: "bird", Confidence: 0.7}, {Label: "engine", Confidence: 0.2}}, rec.Results)

	ev.Packet.Payload.F32[1] = 0
	assert.InDelta(t, 0.7, rec.Results[0].Confidence, 1e-7, "record does not alias the packet")

	_, err = testDecoder().Decode(events.Event{Packet: &stream.Packet{Payload: stream.Int16Buffer([]int16{1})}})
	require.Error(t, err)
	_, err = testDecoder().Decode(scoreEvent(1, ts, 0.5, 0.5))
	require.ErrorIs(t, err, inference.ErrLabelMismatch)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(logger.NewSlogLogger(&buf, logger.LogLevelInfo), testDecoder())

	require.NoError(t, sink.OnNewDataReady(scoreEvent(1, time.Now(), 0.1, 0.1, 0.8)))
	require.NoError(t, sink.OnNewDataReady(scoreEvent(2, time.Now(), 0.1, 0.1, 0.1)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "below threshold is debug only")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "classification", entry["msg"])
	assert.Equal(t, "engine", entry["label"])
	assert.InDelta(t, 0.8, entry["confidence"], 1e-6)
}

func TestCacheKeepsLatestPerStage(t *testing.T) {
	t.Parallel()

	c := NewCache(testDecoder(), time.Minute)
	_, ok := c.Latest("classify")
	assert.False(t, ok)

	require.NoError(t, c.OnNewDataReady(scoreEvent(1, time.Now(), 0.9, 0.05, 0.05)))
	require.NoError(t, c.OnNewDataReady(scoreEvent(2, time.Now(), 0.05, 0.9, 0.05)))

	rec, ok := c.Latest("classify")
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.Sequence)

	other := scoreEvent(3, time.Now(), 0.3, 0.3, 0.4)
	other.Origin = "aux"
	require.NoError(t, c.OnNewDataReady(other))

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "aux", all[0].Stage)
	assert.Equal(t, "classify", all[1].Stage)

	c.Flush()
	assert.Empty(t, c.All())
}

func TestCacheExpires(t *testing.T) {
	t.Parallel()

	c := NewCache(testDecoder(), 20*time.Millisecond)
	require.NoError(t, c.OnNewDataReady(scoreEvent(1, time.Now(), 0.9, 0.05, 0.05)))
	assert.Eventually(t, func() bool {
		_, ok := c.Latest("classify")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestTapStreamsJSONLines(t *testing.T) {
	t.Parallel()

	tap := NewTap(testDecoder(), 4096)
	for i := range 3 {
		require.NoError(t, tap.OnNewDataReady(scoreEvent(uint64(i), time.Now(), 0.1, 0.6, 0.3)))
	}
	assert.Positive(t, tap.Buffered())

	data, err := io.ReadAll(tap)
	require.NoError(t, err)

	sc := bufio.NewScanner(bytes.NewReader(data))
	var seqs []uint64
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		seqs = append(seqs, rec.Sequence)
	}
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
	assert.Zero(t, tap.Buffered())

	n, err := tap.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTapDropsWholeLines(t *testing.T) {
	t.Parallel()

	tap := NewTap(testDecoder(), 64)
	require.NoError(t, tap.OnNewDataReady(scoreEvent(1, time.Now(), 0.1, 0.6, 0.3)))
	assert.Equal(t, uint64(1), tap.Dropped())
	assert.Zero(t, tap.Buffered())
}

type fakeToken struct {
	err     error
	timeout bool
}

func (f *fakeToken) Wait() bool                     { return !f.timeout }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return !f.timeout }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f *fakeToken) Error() error { return f.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func TestMQTTPublishesAboveThreshold(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{token: &fakeToken{}}
	m := newMQTT(MQTTConfig{Topic: "sensorflow/results"}, testDecoder(), logger.NewNopLogger(), pub)

	require.NoError(t, m.OnNewDataReady(scoreEvent(1, time.Now(), 0.1, 0.1, 0.8)))
	require.NoError(t, m.OnNewDataReady(scoreEvent(2, time.Now(), 0.1, 0.1, 0.1)))

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "sensorflow/results", pub.topics[0])
	var rec Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &rec))
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "engine", rec.Results[0].Label)
	assert.Equal(t, uint64(1), m.Published())
}

func TestMQTTPublishFailures(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{token: &fakeToken{timeout: true}}
	m := newMQTT(MQTTConfig{Topic: "t"}, testDecoder(), logger.NewNopLogger(), pub)
	err := m.OnNewDataReady(scoreEvent(1, time.Now(), 0.1, 0.1, 0.8))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	pub.token = &fakeToken{err: fmt.Errorf("broker refused")}
	err = m.OnNewDataReady(scoreEvent(2, time.Now(), 0.1, 0.1, 0.8))
	require.ErrorContains(t, err, "broker refused")
	assert.Equal(t, uint64(2), m.Failed())
}

func TestStorePersistsDetections(t *testing.T) {
	t.Parallel()

	s, err := OpenStore(filepath.Join(t.TempDir(), "results.db"), testDecoder(), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.OnNewDataReady(scoreEvent(1, ts, 0.1, 0.6, 0.3)))
	require.NoError(t, s.OnNewDataReady(scoreEvent(2, ts, 0.1, 0.7, 0.2)))
	require.NoError(t, s.OnNewDataReady(scoreEvent(3, ts, 0.5, 0.1, 0.4)))
	require.NoError(t, s.OnNewDataReady(scoreEvent(4, ts, 0.1, 0.1, 0.1)), "nothing above threshold")

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].Sequence)
	assert.Equal(t, 2, recent[0].Position)
	assert.Equal(t, "engine", recent[0].Label)

	top, err := s.TopLabels("run-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []LabelCount{{Label: "bird", Count: 2}, {Label: "wind", Count: 1}}, top)

	none, err := s.TopLabels("other-run", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreErrorsCarrySQLiteCode(t *testing.T) {
	t.Parallel()

	err := dbError(fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), "insert")
	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.Equal(t, "insert", ee.GetContext()["operation"])
	assert.Equal(t, sqlite3.ErrBusy.Error(), ee.GetContext()["sqlite_code"])
	assert.Equal(t, errors.PriorityLow, ee.GetPriority())

	plain := dbError(errors.NewStd("record not found"), "query")
	require.ErrorAs(t, plain, &ee)
	assert.NotContains(t, ee.GetContext(), "sqlite_code")
	assert.Empty(t, ee.GetPriority())

	_, err = OpenStore(filepath.Join(t.TempDir(), "missing", "results.db"), testDecoder(), logger.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}
