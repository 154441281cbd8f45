package sinks

import (
	"encoding/json"
	"io"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
)

// Tap serializes records as JSON lines into a fixed size byte ring that a
// reader drains at its own pace. Lines that do not fit are dropped whole.
type Tap struct {
	rb      *ringbuffer.RingBuffer
	dec     Decoder
	dropped atomic.Uint64
}

var _ io.Reader = (*Tap)(nil)

// NewTap returns a tap buffering up to capacity bytes.
func NewTap(dec Decoder, capacity int) *Tap {
	return &Tap{rb: ringbuffer.New(capacity), dec: dec}
}

// OnNewDataReady implements events.Listener.
func (t *Tap) OnNewDataReady(ev events.Event) error {
	rec, err := t.dec.Decode(ev)
	if err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.New(err).Component(ComponentSinks).Category(errors.CategoryProcessing).Build()
	}
	line = append(line, '\n')
	if len(line) > t.rb.Free() {
		t.dropped.Add(1)
		return nil
	}
	if _, err := t.rb.Write(line); err != nil {
		t.dropped.Add(1)
	}
	return nil
}

// Read drains buffered lines. It returns io.EOF when nothing is buffered.
func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.rb.Read(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, io.EOF
	}
	return n, err
}

// Buffered is the number of unread bytes.
func (t *Tap) Buffered() int { return t.rb.Length() }

// Dropped is the number of lines that did not fit.
func (t *Tap) Dropped() uint64 { return t.dropped.Load() }
