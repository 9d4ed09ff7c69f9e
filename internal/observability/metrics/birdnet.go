// Package metrics provides custom Prometheus metrics for the hearbird service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BirdNETMetrics contains the Prometheus metrics for upload analysis
type BirdNETMetrics struct {
	OperationsTotal *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	DetectionsTotal prometheus.Counter

	// Current state gauges
	ActiveAnalyses prometheus.Gauge

	registry *prometheus.Registry
}

// NewBirdNETMetrics creates a new instance of BirdNETMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewBirdNETMetrics(registry *prometheus.Registry) (*BirdNETMetrics, error) {
	m := &BirdNETMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register BirdNET metrics: %w", err)
	}
	return m, nil
}

func (m *BirdNETMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearbird_analysis_operations_total",
			Help: "Total number of analysis pipeline operations partitioned by outcome.",
		},
		[]string{"operation", "status"}, // operation: analyze, analyzer_run; status: success, validation, timeout, ...
	)
	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearbird_analysis_errors_total",
			Help: "Total number of analysis errors partitioned by error category.",
		},
		[]string{"operation", "error_type"},
	)
	m.Duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hearbird_analysis_duration_seconds",
			Help:    "Time taken by analysis pipeline operations.",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount13), // 100ms to ~410s
		},
		[]string{"operation"},
	)
	m.DetectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearbird_detections_total",
			Help: "Total number of detection records returned to clients.",
		},
	)
	m.ActiveAnalyses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearbird_active_analyses",
			Help: "Number of analyzer processes currently running.",
		},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *BirdNETMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationErrors.Describe(ch)
	m.Duration.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	m.ActiveAnalyses.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BirdNETMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationErrors.Collect(ch)
	m.Duration.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	m.ActiveAnalyses.Collect(ch)
}

// RecordOperation implements Recorder
func (m *BirdNETMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *BirdNETMetrics) RecordDuration(operation string, seconds float64) {
	m.Duration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *BirdNETMetrics) RecordError(operation, errorType string) {
	m.OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordDetections adds count returned detection records
func (m *BirdNETMetrics) RecordDetections(count int) {
	if count > 0 {
		m.DetectionsTotal.Add(float64(count))
	}
}

// AnalysisStarted marks an analyzer process as running
func (m *BirdNETMetrics) AnalysisStarted() {
	m.ActiveAnalyses.Inc()
}

// AnalysisFinished marks an analyzer process as finished
func (m *BirdNETMetrics) AnalysisFinished() {
	m.ActiveAnalyses.Dec()
}
