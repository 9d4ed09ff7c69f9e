// Package metrics provides custom Prometheus metrics for the hearbird service.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than concrete collectors so
// tests can substitute an in-memory implementation.
type Recorder interface {
	// RecordOperation records an operation with its outcome.
	// The operation parameter describes what was performed (e.g., "analyze", "analyzer_run").
	// The status parameter indicates the outcome (e.g., "success", "timeout").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	// The errorType parameter is an error category such as "validation" or "command-execution".
	RecordError(operation, errorType string)
}

// AnalysisRecorder extends Recorder with the measurements specific to the
// upload analysis pipeline
type AnalysisRecorder interface {
	Recorder

	// RecordDetections adds the number of detection records returned
	RecordDetections(count int)

	// AnalysisStarted and AnalysisFinished bracket one analyzer process
	AnalysisStarted()
	AnalysisFinished()
}

// NoOpRecorder discards every measurement
type NoOpRecorder struct{}

func (NoOpRecorder) RecordOperation(string, string) {}
func (NoOpRecorder) RecordDuration(string, float64) {}
func (NoOpRecorder) RecordError(string, string) {}
func (NoOpRecorder) RecordDetections(int) {}
func (NoOpRecorder) AnalysisStarted() {}
func (NoOpRecorder) AnalysisFinished() {}

var (
	_ AnalysisRecorder = (*BirdNETMetrics)(nil)
	_ AnalysisRecorder = NoOpRecorder{}
)
