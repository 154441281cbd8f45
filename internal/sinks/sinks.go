// Package sinks holds the application listeners that consume classifier
// stage output: logging, an in-memory cache, a JSON lines tap, MQTT and a
// SQLite store.
//
// Listeners run on whatever goroutine processes the final stage and see a
// packet whose payload is reused after they return, so every sink decodes
// into its own Record before keeping anything.
package sinks

import (
	"time"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/inference"
	"github.com/tphakala/sensorflow/internal/stream"
)

// ComponentSinks identifies this package in enhanced errors.
const ComponentSinks = "sinks"

// Record is one decoded classification.
type Record struct {
	RunID     string             `json:"run_id,omitempty"`
	Stage     string             `json:"stage"`
	Sequence  uint64             `json:"sequence"`
	Timestamp time.Time          `json:"timestamp"`
	Results   []inference.Result `json:"results"`
}

// Top returns the best result, if any passed the threshold.
func (r Record) Top() (inference.Result, bool) {
	if len(r.Results) == 0 {
		return inference.Result{}, false
	}
	return r.Results[0], true
}

// Decoder turns a classifier packet into a Record.
type Decoder struct {
	RunID     string
	Labels    []string
	TopK      int
	Threshold float32
}

// Decode copies the scores out of ev and ranks them.
func (d Decoder) Decode(ev events.Event) (Record, error) {
	if ev.Packet == nil || ev.Packet.Payload.Type != stream.Float32 {
		return Record{}, errors.Newf("classifier output must be a float32 packet").
			Component(ComponentSinks).
			Category(errors.CategoryValidation).
			Context("origin", ev.Origin).
			Build()
	}
	scores := append([]float32(nil), ev.Packet.Payload.F32...)
	results, err := inference.Decode(d.Labels, scores, d.TopK)
	if err != nil {
		return Record{}, err
	}
	return Record{
		RunID:     d.RunID,
		Stage:     ev.Origin,
		Sequence:  ev.Sequence,
		Timestamp: ev.Packet.Timestamp,
		Results:   inference.AboveThreshold(results, d.Threshold),
	}, nil
}
