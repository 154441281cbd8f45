// Package sensors provides the data producers that feed processing stages:
// a WAV file reader, a soundcard capture and a synthetic signal generator.
//
// Every sensor publishes on its own goroutine. When stages run inline, the
// processing of the whole chain happens inside Publish, so sensors that
// share a chain must share a guard.
package sensors

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/stream"
)

// ComponentSensors identifies this package in enhanced errors.
const ComponentSensors = "sensors"

// StallFunc is told about every packet a stalled stage could not fully
// accept. dropped is the number of elements lost across all listeners.
type StallFunc func(sensor string, dropped int, err error)

// ErrorFunc decides what happens to a publish error that is not
// backpressure. Returning nil keeps the sensor running.
type ErrorFunc func(sensor string, err error) error

// Base carries the identity and event source shared by all sensors and
// implements the drop on stall publish policy.
type Base struct {
	id   int
	name string
	src  *events.Source
	seq  uint64

	guard    sync.Locker
	recorder dpu.Recorder
	onStall  StallFunc
	onError  ErrorFunc

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBase returns a sensor identity with room for maxListeners stages.
func NewBase(id int, name string, maxListeners int) *Base {
	return &Base{id: id, name: name, src: events.NewSource(maxListeners)}
}

func (b *Base) ID() int                     { return b.id }
func (b *Base) Name() string                { return b.name }
func (b *Base) EventSource() *events.Source { return b.src }

// SetGuard serializes Publish with other holders of l.
func (b *Base) SetGuard(l sync.Locker) { b.guard = l }

// SetRecorder attaches a metrics recorder.
func (b *Base) SetRecorder(r dpu.Recorder) { b.recorder = r }

// OnStall registers the stall observer.
func (b *Base) OnStall(fn StallFunc) { b.onStall = fn }

// OnError registers the handler for non-backpressure publish errors.
// Without one, Publish returns them and the sensor stops.
func (b *Base) OnError(fn ErrorFunc) { b.onError = fn }

// Published returns the number of packets handed to listeners.
func (b *Base) Published() uint64 { return b.published.Load() }

// Dropped returns the number of elements lost to stalled stages.
func (b *Base) Dropped() uint64 { return b.dropped.Load() }

// Publish sends p to every listener. A stage that runs out of free items
// drops the tail of the packet; that is counted, reported to the stall
// observer and otherwise absorbed. Any other error is returned.
func (b *Base) Publish(p *stream.Packet) error {
	if b.guard != nil {
		b.guard.Lock()
		defer b.guard.Unlock()
	}

	b.seq++
	err := b.src.SendEvent(events.Event{Packet: p, Origin: b.name, Sequence: b.seq})
	b.published.Add(1)
	if err == nil {
		b.record("publish", "success")
		return nil
	}
	if errors.IsFatal(err) || !errors.IsBackpressure(err) {
		b.record("publish", "error")
		if b.onError != nil {
			return b.onError(b.name, err)
		}
		return err
	}

	n := droppedElements(err)
	b.dropped.Add(uint64(n))
	b.record("publish", "stalled")
	if b.recorder != nil {
		b.recorder.RecordError("publish", string(errors.CategoryBackpressure))
	}
	if b.onStall != nil {
		b.onStall(b.name, n, err)
	}
	return nil
}

func (b *Base) record(op, status string) {
	if b.recorder != nil {
		b.recorder.RecordOperation(op, status)
	}
}

// droppedElements sums the shortfall reported by every stalled listener.
func droppedElements(err error) int {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		total := 0
		for _, e := range multi.Unwrap() {
			total += droppedElements(e)
		}
		return total
	}
	n, _ := dpu.DroppedElements(err)
	return n
}

// framer cuts a sample stream into fixed size int16 packets.
type framer struct {
	shape stream.Shape
	buf   []int16
	start time.Time
	rate  int
	total int64 // samples emitted so far
}

func newFramer(frameSize, framesPerPacket, sampleRate int, start time.Time) (*framer, error) {
	shape, err := stream.NewShape(frameSize, framesPerPacket)
	if err != nil {
		return nil, err
	}
	return &framer{
		shape: shape,
		buf:   make([]int16, 0, shape.Elements()),
		start: start,
		rate:  sampleRate,
	}, nil
}

// push appends samples and calls emit for every complete packet.
func (f *framer) push(samples []int16, emit func(*stream.Packet) error) error {
	for len(samples) > 0 {
		n := min(len(samples), f.shape.Elements()-len(f.buf))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) < f.shape.Elements() {
			return nil
		}
		if err := emit(f.packet()); err != nil {
			return err
		}
	}
	return nil
}

// flush zero pads and emits a trailing partial packet.
func (f *framer) flush(emit func(*stream.Packet) error) error {
	if len(f.buf) == 0 {
		return nil
	}
	f.buf = append(f.buf, make([]int16, f.shape.Elements()-len(f.buf))...)
	return emit(f.packet())
}

func (f *framer) packet() *stream.Packet {
	p := &stream.Packet{
		Payload:   stream.Int16Buffer(append([]int16(nil), f.buf...)),
		Shape:     f.shape,
		Mode:      stream.ModeFull,
		Timestamp: f.start.Add(time.Duration(f.total) * time.Second / time.Duration(f.rate)),
	}
	f.total += int64(len(f.buf))
	f.buf = f.buf[:0]
	return p
}

// packetDuration is the wall time one packet covers.
func (f *framer) packetDuration() time.Duration {
	return time.Duration(f.shape.Elements()) * time.Second / time.Duration(f.rate)
}
