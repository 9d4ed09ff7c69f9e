// Package metrics provides constants used across metric definitions.
package metrics

// Operation label values
const (
	// OpAnalyze is one end-to-end upload analysis request
	OpAnalyze = "analyze"
	// OpAnalyzerRun is one analyzer child process
	OpAnalyzerRun = "analyzer_run"
	// OpNormalize is CSV location and parsing
	OpNormalize = "normalize"
)

// Status label values for OpAnalyze
const (
	StatusSuccess       = "success"
	StatusValidation    = "validation"
	StatusTimeout       = "timeout"
	StatusCanceled      = "canceled"
	StatusToolFailure   = "tool_failure"
	StatusLaunchFailure = "launch_failure"
	StatusNoOutput      = "no_output"
	StatusInternal      = "internal"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms.
	BucketStart100ms = 0.1
	// BucketStart100B is the starting bucket for 100 byte histograms (100B to ~100MB range).
	BucketStart100B = 100.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor10 is the exponential growth factor of 10 for larger ranges.
	BucketFactor10 = 10

	// BucketCount6 defines 6 exponential buckets.
	BucketCount6 = 6
	// BucketCount13 defines 13 exponential buckets.
	BucketCount13 = 13
	// BucketCount19 defines 19 exponential buckets.
	BucketCount19 = 19
)
