package dpu

import (
	"fmt"
	"time"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/ringbuf"
	"github.com/tphakala/sensorflow/internal/stream"
)

// link is one upstream connection of a stage: a sensor registration or the
// upstream stage feed. It owns the ring buffer and the producer's write
// cursor into the partially filled item.
type link struct {
	stage    *Stage
	rb       *ringbuf.RingBuffer
	sensor   Sensor
	upstream *Stage
	name     string

	cur    *ringbuf.Item
	pos    int
	stamps []time.Time // timestamp of the first packet written into each item
}

// OnNewDataReady implements events.Listener.
func (l *link) OnNewDataReady(ev events.Event) error {
	s := l.stage
	if !s.active.Load() {
		s.gated.Add(1)
		return nil
	}
	return s.write(l, ev.Packet)
}

func (l *link) reset() {
	l.rb.Reset()
	l.cur, l.pos = nil, 0
	clear(l.stamps)
}

// write copies p into l's ring buffer item by item. Whenever an item fills
// it is marked Ready, the next free item is claimed and the consumer is
// signalled. When no free item is left the rest of the packet is dropped
// and a backpressure error carrying the shortfall is returned.
func (s *Stage) write(l *link, p *stream.Packet) error {
	if p == nil {
		return errors.Newf("nil packet").
			Component(ComponentDPU).
			Category(errors.CategoryValidation).
			Context("stage", s.cfg.Name).
			Build()
	}
	if err := s.Fault(); err != nil {
		return s.faultedError(err)
	}
	if err := stream.CheckFormat(p.Payload.Type, s.cfg.InputType); err != nil {
		return err
	}
	if err := stream.CheckRank(p.Shape, s.cfg.InputShape); err != nil {
		return err
	}

	transpose := stream.ShouldTranspose(p.Shape, s.cfg.InputShape)
	itemSize := l.rb.ItemSize()
	total := p.Payload.Len()

	for written := 0; written < total; {
		if l.cur == nil {
			it, err := l.rb.AcquireFreeItem()
			if err != nil {
				return s.stall(l, total-written, err)
			}
			l.cur, l.pos = it, 0
		}
		if l.pos == 0 {
			l.stamps[l.cur.Index()] = p.Timestamp
		}

		n := min(total-written, itemSize-l.pos)
		stream.CopyElements(l.cur.Data(), s.cfg.InputShape, l.pos, p.Payload, written, n, transpose)
		written += n
		l.pos += n
		if l.pos < itemSize {
			continue
		}

		full := l.cur
		l.cur, l.pos = nil, 0
		if err := l.rb.MarkReady(full); err != nil {
			return s.latch(err)
		}
		next, acqErr := l.rb.AcquireFreeItem()
		if acqErr == nil {
			l.cur = next
		} else if errors.IsFatal(acqErr) {
			return s.latch(acqErr)
		}

		// The consumer is signalled even when the ring is full, otherwise
		// nothing would ever drain it.
		if err := s.signal(); err != nil {
			return err
		}
		if acqErr != nil && written < total {
			// Inline processing may have released an item.
			if next, acqErr = l.rb.AcquireFreeItem(); acqErr != nil {
				return s.stall(l, total-written, acqErr)
			}
			l.cur = next
		}
	}
	return nil
}

func (s *Stage) stall(l *link, remaining int, cause error) error {
	if errors.IsFatal(cause) {
		return s.latch(cause)
	}
	s.stalls.Add(1)
	s.dropped.Add(uint64(remaining))
	s.recordError("write", string(errors.CategoryBackpressure))
	return errors.New(fmt.Errorf("%s: %w", l.name, cause)).
		Context("stage", s.cfg.Name).
		Context("dropped_elements", remaining).
		Build()
}
