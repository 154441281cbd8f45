package metrics

import "time"

// Operation names recorded by stages and sensors.
const (
	// OpProcess is one item taken through a stage transform.
	OpProcess = "process"
	// OpWrite is a packet written into a stage's ring buffers.
	OpWrite = "write"
	// OpFault is a fatal error latched on a stage.
	OpFault = "fault"
	// OpPublish is a packet published by a sensor.
	OpPublish = "publish"
	// OpListener is an application listener call.
	OpListener = "listener"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusStalled = "stalled"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second

// processBuckets cover 10µs to ~160ms, the range of a single transform.
var processBuckets = []float64{
	0.00001, 0.00002, 0.00005, 0.0001, 0.0002, 0.0005,
	0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.16,
}
