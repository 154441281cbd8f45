package sinks

import (
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/logger"
)

// LogSink writes one structured line per classification. Records with no
// result above the threshold are logged at debug level.
type LogSink struct {
	log logger.Logger
	dec Decoder
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log logger.Logger, dec Decoder) *LogSink {
	return &LogSink{log: log, dec: dec}
}

// OnNewDataReady implements events.Listener.
func (s *LogSink) OnNewDataReady(ev events.Event) error {
	rec, err := s.dec.Decode(ev)
	if err != nil {
		return err
	}
	top, ok := rec.Top()
	if !ok {
		s.log.Debug("no classification above threshold",
			logger.String("stage", rec.Stage),
			logger.Uint64("sequence", rec.Sequence))
		return nil
	}
	s.log.Info("classification",
		logger.String("stage", rec.Stage),
		logger.Uint64("sequence", rec.Sequence),
		logger.String("label", top.Label),
		logger.Float32("confidence", top.Confidence),
		logger.Int("candidates", len(rec.Results)),
		logger.Time("timestamp", rec.Timestamp))
	return nil
}
