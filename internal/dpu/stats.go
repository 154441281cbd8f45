package dpu

import (
	"github.com/tphakala/sensorflow/internal/errors"
)

// LinkStats describes one upstream link.
type LinkStats struct {
	Name      string `json:"name"`
	SensorID  int    `json:"sensor_id"`
	Upstream  string `json:"upstream,omitempty"`
	ItemCount int    `json:"item_count"`
	ItemSize  int    `json:"item_size"`
	Ready     int    `json:"ready"`
	Free      int    `json:"free"`
}

// Stats is a point in time snapshot of a stage.
type Stats struct {
	Name            string      `json:"name"`
	Active          bool        `json:"active"`
	Processed       uint64      `json:"processed"`
	Failures        uint64      `json:"failures"`
	Stalls          uint64      `json:"stalls"`
	DroppedElements uint64      `json:"dropped_elements"`
	GatedPackets    uint64      `json:"gated_packets"`
	Listeners       int         `json:"listeners"`
	Downstream      string      `json:"downstream,omitempty"`
	Fault           string      `json:"fault,omitempty"`
	Links           []LinkStats `json:"links"`
}

// Stats returns a snapshot. Counters are read atomically; the link list is
// read without synchronisation and must not race with attach or detach.
func (s *Stage) Stats() Stats {
	st := Stats{
		Name:            s.cfg.Name,
		Active:          s.IsActive(),
		Processed:       s.processed.Load(),
		Failures:        s.failures.Load(),
		Stalls:          s.stalls.Load(),
		DroppedElements: s.dropped.Load(),
		GatedPackets:    s.gated.Load(),
	}
	if s.source != nil {
		st.Listeners = s.source.ListenerCount()
	}
	if s.downstream != nil {
		st.Downstream = s.downstream.Name()
	}
	if err := s.Fault(); err != nil {
		st.Fault = err.Error()
	}
	for id, l := range s.sensors {
		if l != nil {
			st.Links = append(st.Links, l.stats(id))
		}
	}
	if s.input != nil {
		st.Links = append(st.Links, s.input.stats(-1))
	}
	return st
}

func (l *link) stats(id int) LinkStats {
	ls := LinkStats{
		Name:      l.name,
		SensorID:  id,
		ItemCount: l.rb.ItemCount(),
		ItemSize:  l.rb.ItemSize(),
		Ready:     l.rb.ReadyCount(),
		Free:      l.rb.FreeCount(),
	}
	if l.upstream != nil {
		ls.Upstream = l.upstream.Name()
	}
	return ls
}

// DroppedElements extracts how many elements of a packet a stalled write
// could not store.
func DroppedElements(err error) (int, bool) {
	if !errors.Is(err, ErrNoFreeItem) {
		return 0, false
	}
	var ee *errors.EnhancedError
	for e := err; errors.As(e, &ee); e = ee.Err {
		if n, ok := ee.GetContext()["dropped_elements"].(int); ok {
			return n, true
		}
	}
	return 0, false
}
