// Package pipeline sequences upload validation, scratch handling, analyzer
// invocation and result normalization for one analysis request.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/hearbird/hearbird/internal/analyzer"
	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/observability/metrics"
	"github.com/hearbird/hearbird/internal/results"
	"github.com/hearbird/hearbird/internal/scratch"
	"github.com/hearbird/hearbird/internal/upload"
)

// MsgInternal is returned to clients for failures that are not validation
// or analysis errors
const MsgInternal = "Internal server error"

// Validator checks an inbound upload
type Validator interface {
	Validate(u *upload.Upload) error
}

// ScratchSpace hands out per-request working directories
type ScratchSpace interface {
	Acquire(ctx context.Context) (*scratch.Dir, error)
}

// Analyzer runs the external classifier
type Analyzer interface {
	Run(ctx context.Context, audioPath, outputDir string, loc *analyzer.Location) (*analyzer.Outcome, error)
}

// Deps are the collaborators a Pipeline is built from
type Deps struct {
	Validator Validator
	Scratch   ScratchSpace
	Analyzer  Analyzer
	Recorder  metrics.AnalysisRecorder // optional
	Logger    logger.Logger            // optional
}

// Request is one analysis request
type Request struct {
	Upload   *upload.Upload
	Location *analyzer.Location // nil when the client sent no coordinates
}

// Result is a successful analysis
type Result struct {
	Records          []results.Record
	AnalyzerDuration time.Duration
	Duration         time.Duration
}

// Pipeline runs analysis requests. It keeps no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	validator Validator
	scratch   ScratchSpace
	analyzer  Analyzer
	recorder  metrics.AnalysisRecorder
	log       logger.Logger
}

// New creates a Pipeline. Validator, Scratch and Analyzer are required.
func New(deps Deps) (*Pipeline, error) {
	if deps.Validator == nil || deps.Scratch == nil || deps.Analyzer == nil {
		return nil, errors.Newf("pipeline requires validator, scratch space and analyzer").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoOpRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Global().Module("pipeline")
	}
	return &Pipeline{
		validator: deps.Validator,
		scratch:   deps.Scratch,
		analyzer:  deps.Analyzer,
		recorder:  deps.Recorder,
		log:       deps.Logger,
	}, nil
}

// Analyze validates the upload, stores it in a fresh scratch directory, runs
// the analyzer against it and returns the normalized detection records.
//
// The scratch directory is removed before Analyze returns on every path.
// Canceling ctx kills the analyzer process group; the process is reaped and
// the directory removed before the cancellation error is returned.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := p.log.WithContext(ctx)

	res, err := p.analyze(ctx, log, req)

	elapsed := time.Since(start)
	status := Classify(err)
	p.recorder.RecordOperation(metrics.OpAnalyze, status)
	p.recorder.RecordDuration(metrics.OpAnalyze, elapsed.Seconds())
	if err != nil {
		p.recorder.RecordError(metrics.OpAnalyze, categoryOf(err))
		p.logFailure(log, err, status)
		return nil, err
	}

	res.Duration = elapsed
	p.recorder.RecordDetections(len(res.Records))
	log.Info("Analysis request completed",
		logger.Int("detections", len(res.Records)),
		logger.Duration("analyzer_duration", res.AnalyzerDuration),
		logger.Duration("elapsed", elapsed))
	return res, nil
}

func (p *Pipeline) analyze(ctx context.Context, log logger.Logger, req Request) (*Result, error) {
	if err := p.validator.Validate(req.Upload); err != nil {
		return nil, err
	}

	dir, err := p.scratch.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer dir.Release()

	name := upload.SecureFilename(req.Upload.Filename)
	audioPath, written, err := dir.WriteFile(name, req.Upload.Content)
	if err != nil {
		return nil, err
	}
	log.Debug("Audio file saved",
		logger.String("path", audioPath),
		logger.Int64("bytes", written))

	p.recorder.AnalysisStarted()
	outcome, err := p.analyzer.Run(ctx, audioPath, dir.Path(), req.Location)
	p.recorder.AnalysisFinished()

	var analyzerDuration time.Duration
	if outcome != nil {
		analyzerDuration = outcome.Duration
		p.recorder.RecordDuration(metrics.OpAnalyzerRun, outcome.Duration.Seconds())
	}
	if err != nil {
		p.recorder.RecordOperation(metrics.OpAnalyzerRun, Classify(err))
		return nil, err
	}
	p.recorder.RecordOperation(metrics.OpAnalyzerRun, metrics.StatusSuccess)

	csvPath, err := results.Locate(dir.Path())
	if err != nil {
		return nil, err
	}
	records, err := results.Normalize(csvPath)
	if err != nil {
		return nil, err
	}

	return &Result{Records: records, AnalyzerDuration: analyzerDuration}, nil
}

func (p *Pipeline) logFailure(log logger.Logger, err error, status string) {
	var ve *errors.ValidationError
	var ae *errors.AnalysisError
	switch {
	case errors.As(err, &ve):
		log.Info("Upload rejected",
			logger.String("check", ve.Check),
			logger.String("reason", ve.Message))
	case errors.As(err, &ae):
		log.Warn("Analysis failed",
			logger.String("kind", string(ae.Kind)),
			logger.String("status", status),
			logger.Error(err))
	default:
		log.Error("Unexpected error during analysis",
			logger.String("status", status),
			logger.Error(err))
	}
}

// Status maps an Analyze error to the HTTP status and the message that is
// safe to show the client. Details of unexpected errors are never exposed.
func Status(err error) (int, string) {
	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Message
	}
	var ae *errors.AnalysisError
	if errors.As(err, &ae) {
		return http.StatusInternalServerError, ae.Message
	}
	return http.StatusInternalServerError, MsgInternal
}

// Classify returns the metrics status label for an Analyze error
func Classify(err error) string {
	if err == nil {
		return metrics.StatusSuccess
	}
	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		return metrics.StatusValidation
	}
	var ae *errors.AnalysisError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case errors.KindTimeout:
			if errors.Is(ae, context.Canceled) {
				return metrics.StatusCanceled
			}
			return metrics.StatusTimeout
		case errors.KindToolFailure:
			return metrics.StatusToolFailure
		case errors.KindLaunchFailure:
			return metrics.StatusLaunchFailure
		case errors.KindNoOutput:
			return metrics.StatusNoOutput
		}
	}
	return metrics.StatusInternal
}

func categoryOf(err error) string {
	var cat errors.CategorizedError
	if errors.As(err, &cat) {
		return string(cat.ErrorCategory())
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
