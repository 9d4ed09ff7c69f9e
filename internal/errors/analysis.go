package errors

import (
	"context"
	"fmt"
)

// ValidationError reports an upload that failed one of the inbound checks.
// Its message is safe to return to the client.
type ValidationError struct {
	Check   string // which check rejected the input, e.g. "extension"
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrorCategory implements CategorizedError
func (e *ValidationError) ErrorCategory() ErrorCategory {
	return CategoryValidation
}

// NewValidation builds a ValidationError for the named check.
func NewValidation(check, format string, args ...any) *ValidationError {
	return &ValidationError{Check: check, Message: fmt.Sprintf(format, args...)}
}

// AnalysisKind distinguishes the ways an analyzer run can fail.
type AnalysisKind string

const (
	KindLaunchFailure AnalysisKind = "launch_failure"
	KindTimeout       AnalysisKind = "timeout"
	KindToolFailure   AnalysisKind = "tool_failure"
	KindNoOutput      AnalysisKind = "no_output"
)

// AnalysisError is a server-side failure of the external analyzer. Message
// is surfaced to the client; Err carries the underlying cause for logs.
type AnalysisError struct {
	Kind    AnalysisKind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements CategorizedError
func (e *AnalysisError) ErrorCategory() ErrorCategory {
	switch e.Kind {
	case KindTimeout:
		if Is(e.Err, context.Canceled) {
			return CategoryCancellation
		}
		return CategoryTimeout
	case KindLaunchFailure, KindToolFailure:
		return CategoryCommandExecution
	default:
		return CategoryAudioAnalysis
	}
}

// NewAnalysis builds an AnalysisError of the given kind.
func NewAnalysis(kind AnalysisKind, message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: kind, Message: message, Err: cause}
}

// IsAnalysisKind reports whether err carries an AnalysisError of kind.
func IsAnalysisKind(err error, kind AnalysisKind) bool {
	var ae *AnalysisError
	return As(err, &ae) && ae.Kind == kind
}
