// Package events implements the fan-out primitive that connects sensors,
// processing stages and application code: a Source with a fixed number of
// listener slots, dispatching synchronously in slot order.
//
// A Source is not safe for concurrent use. AddListener and RemoveListener
// must not run concurrently with SendEvent, and a listener that adds or
// removes listeners on the Source dispatching to it changes which of the
// remaining slots receive that dispatch.
package events

import (
	"fmt"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/stream"
)

// ComponentEvents identifies this package in enhanced errors.
const ComponentEvents = "events"

// ErrSourceFull is returned by AddListener when every slot is occupied.
var ErrSourceFull = errors.New(errors.NewStd("event source has no free listener slot")).
	Component(ComponentEvents).
	Category(errors.CategoryLimit).
	Build()

// Event carries a packet from a producer to its listeners. The packet is
// only valid for the duration of the dispatch.
type Event struct {
	Packet   *stream.Packet
	Origin   string
	Sequence uint64
}

// Listener receives events from a Source.
type Listener interface {
	OnNewDataReady(ev Event) error
}

// ListenerFunc adapts a function to Listener. Function values are not
// comparable, so a ListenerFunc cannot be removed; register a pointer type
// when removal is needed.
type ListenerFunc func(ev Event) error

// OnNewDataReady calls f(ev).
func (f ListenerFunc) OnNewDataReady(ev Event) error { return f(ev) }

// Source is a fixed-capacity listener table.
type Source struct {
	slots []Listener
}

// NewSource returns an initialized source with maxListeners slots.
func NewSource(maxListeners int) *Source {
	if maxListeners < 0 {
		maxListeners = 0
	}
	return &Source{slots: make([]Listener, maxListeners)}
}

// Init clears every slot. Calling it again is harmless.
func (s *Source) Init() {
	clear(s.slots)
}

// AddListener stores l in the first free slot. The same listener may be
// registered more than once and then receives each event once per slot.
func (s *Source) AddListener(l Listener) error {
	if l == nil {
		return errors.Newf("nil listener").
			Component(ComponentEvents).
			Category(errors.CategoryValidation).
			Build()
	}
	for i, slot := range s.slots {
		if slot == nil {
			s.slots[i] = l
			return nil
		}
	}
	return fmt.Errorf("%w (capacity %d)", ErrSourceFull, len(s.slots))
}

// RemoveListener clears the first slot holding l. Removing a listener that
// is not registered does nothing. l must be of a comparable type, usually a
// pointer; comparing two values of the same uncomparable type panics.
func (s *Source) RemoveListener(l Listener) {
	for i, slot := range s.slots {
		if slot != nil && slot == l {
			s.slots[i] = nil
			return
		}
	}
}

// SendEvent delivers ev to every occupied slot in ascending order. A failing
// listener does not stop the dispatch; all listener errors are joined.
func (s *Source) SendEvent(ev Event) error {
	var errs []error
	for i := range s.slots {
		l := s.slots[i]
		if l == nil {
			continue
		}
		if err := l.OnNewDataReady(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MaxListenerCount returns the slot capacity.
func (s *Source) MaxListenerCount() int { return len(s.slots) }

// ListenerCount returns the number of occupied slots.
func (s *Source) ListenerCount() int {
	n := 0
	for _, l := range s.slots {
		if l != nil {
			n++
		}
	}
	return n
}
