package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/sensorflow/internal/dpu"
)

// PipelineMetrics contains the Prometheus metrics of stages and sensors.
type PipelineMetrics struct {
	Operations     *prometheus.CounterVec
	Durations      *prometheus.HistogramVec
	Errors         *prometheus.CounterVec
	ReadyItems     *prometheus.GaugeVec
	FreeItems      *prometheus.GaugeVec
	DroppedSamples *prometheus.CounterVec
	Faults         *prometheus.CounterVec
	registry       *prometheus.Registry
}

// NewPipelineMetrics creates the collectors and registers them.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorflow_operations_total",
		Help: "Total operations by component, operation and status",
	}, []string{"component", "operation", "status"})

	m.Durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensorflow_operation_duration_seconds",
		Help:    "Duration of operations in seconds",
		Buckets: processBuckets,
	}, []string{"component", "operation"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorflow_errors_total",
		Help: "Total errors by component, operation and category",
	}, []string{"component", "operation", "error_type"})

	m.ReadyItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensorflow_ring_ready_items",
		Help: "Ready items waiting in a stage link ring buffer",
	}, []string{"stage", "link"})

	m.FreeItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensorflow_ring_free_items",
		Help: "Free items in a stage link ring buffer",
	}, []string{"stage", "link"})

	m.DroppedSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorflow_dropped_samples_total",
		Help: "Samples dropped because a stage had no free item",
	}, []string{"sensor"})

	m.Faults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorflow_stage_faults_total",
		Help: "Fatal errors latched per stage",
	}, []string{"stage"})
}

// ForComponent returns a Recorder that labels everything with component,
// typically a stage or sensor name.
func (m *PipelineMetrics) ForComponent(component string) Recorder {
	return &componentRecorder{m: m, component: component}
}

// AddDroppedSamples counts samples lost by sensor.
func (m *PipelineMetrics) AddDroppedSamples(sensor string, n int) {
	if n > 0 {
		m.DroppedSamples.WithLabelValues(sensor).Add(float64(n))
	}
}

// ObserveStage refreshes the ring buffer gauges from a stage snapshot.
func (m *PipelineMetrics) ObserveStage(st dpu.Stats) {
	for _, l := range st.Links {
		m.ReadyItems.WithLabelValues(st.Name, l.Name).Set(float64(l.Ready))
		m.FreeItems.WithLabelValues(st.Name, l.Name).Set(float64(l.Free))
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.Durations.Collect(ch)
	m.Errors.Collect(ch)
	m.ReadyItems.Collect(ch)
	m.FreeItems.Collect(ch)
	m.DroppedSamples.Collect(ch)
	m.Faults.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.Durations.Describe(ch)
	m.Errors.Describe(ch)
	m.ReadyItems.Describe(ch)
	m.FreeItems.Describe(ch)
	m.DroppedSamples.Describe(ch)
	m.Faults.Describe(ch)
}

type componentRecorder struct {
	m         *PipelineMetrics
	component string
}

var _ dpu.Recorder = (*componentRecorder)(nil)

func (r *componentRecorder) RecordOperation(operation, status string) {
	r.m.Operations.WithLabelValues(r.component, operation, status).Inc()
}

func (r *componentRecorder) RecordDuration(operation string, seconds float64) {
	r.m.Durations.WithLabelValues(r.component, operation).Observe(seconds)
}

func (r *componentRecorder) RecordError(operation, errorType string) {
	r.m.Errors.WithLabelValues(r.component, operation, errorType).Inc()
	if operation == OpFault {
		r.m.Faults.WithLabelValues(r.component).Inc()
	}
}
