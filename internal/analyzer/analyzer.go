// Package analyzer runs the external BirdNET analyzer as a supervised child
// process.
//
// Each Run starts the analyzer in its own process group so that a timeout or
// cancellation kills the interpreter together with any workers it spawned.
// Output streams are captured into bounded buffers and always logged.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
)

const (
	// DefaultPython is the interpreter used to launch the analyzer module
	DefaultPython = "python"
	// DefaultModule is the BirdNET analyzer entry module
	DefaultModule = "birdnet_analyzer.analyze"
	// DefaultTimeout is the wall-clock limit for a single analysis
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxOutput bounds each captured output stream
	DefaultMaxOutput int64 = 1024 * 1024

	// waitDelay bounds how long output is still drained after the process
	// group was killed, for descendants that left the group
	waitDelay = 5 * time.Second
)

// Messages surfaced to callers through AnalysisError
const (
	msgTimeout       = "BirdNET analysis timed out"
	msgCanceled      = "BirdNET analysis canceled"
	msgLaunchFailure = "Failed to start BirdNET analyzer"
	msgToolFailure   = "BirdNET analysis failed"
)

// Location is an optional recording site. Both coordinates are always
// passed together.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Config describes how the analyzer is launched
type Config struct {
	Python    string
	Module    string
	Timeout   time.Duration
	MaxOutput int64 // per stream, in bytes
}

// Outcome describes a finished analyzer run
type Outcome struct {
	Args            []string
	ExitCode        int
	Stdout          string
	Stderr          string
	OutputTruncated bool
	Duration        time.Duration
}

// Invoker launches analyzer processes. It holds no per-run state and is safe
// for concurrent use.
type Invoker struct {
	cfg Config
	log logger.Logger
}

// New creates an Invoker, filling unset config fields with defaults. A nil
// logger falls back to the global analyzer logger.
func New(cfg Config, log logger.Logger) *Invoker {
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if cfg.Module == "" {
		cfg.Module = DefaultModule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	if log == nil {
		log = GetLogger()
	}
	return &Invoker{cfg: cfg, log: log}
}

// GetLogger returns the analyzer package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("analyzer")
}

// Timeout returns the effective wall-clock limit
func (i *Invoker) Timeout() time.Duration {
	return i.cfg.Timeout
}

// Args builds the interpreter arguments for one run
func (i *Invoker) Args(audioPath, outputDir string, loc *Location) []string {
	args := []string{"-m", i.cfg.Module, audioPath, "-o", outputDir, "--rtype", "csv"}
	if loc != nil {
		args = append(args,
			"--lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			"--lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	}
	return args
}

// Run analyzes audioPath and writes CSV output into outputDir. It blocks the
// calling goroutine until the process exits, the timeout fires or ctx is
// done; in the latter two cases the whole process group is killed and reaped
// before Run returns. Failures are returned as *errors.AnalysisError.
func (i *Invoker) Run(ctx context.Context, audioPath, outputDir string, loc *Location) (*Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	args := i.Args(audioPath, outputDir, loc)
	outcome := &Outcome{Args: args, ExitCode: -1}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: i.cfg.MaxOutput}
	stderr := &limitedWriter{w: &stderrBuf, max: i.cfg.MaxOutput}

	// The child writes to pipes drained here rather than by exec, so Wait
	// returns when the analyzer exits even if a descendant holds them open.
	streams, err := newOutputStreams(stdout, stderr)
	if err != nil {
		return outcome, i.wrap(errors.KindLaunchFailure, msgLaunchFailure, err, outcome)
	}
	defer streams.close()

	cmd := exec.CommandContext(runCtx, i.cfg.Python, args...)
	cmd.Stdout = streams.stdoutW
	cmd.Stderr = streams.stderrW
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	log := i.log.With(logger.String("audio", audioPath))
	if loc != nil {
		log = log.With(
			logger.Float64("lat", loc.Latitude),
			logger.Float64("lon", loc.Longitude))
	}
	log.Debug("Starting BirdNET analyzer",
		logger.String("python", i.cfg.Python),
		logger.String("module", i.cfg.Module),
		logger.Duration("timeout", i.cfg.Timeout))

	start := time.Now()
	err = cmd.Start()
	streams.closeWriters()
	if err != nil {
		outcome.Duration = time.Since(start)
		log.Error("Failed to start BirdNET analyzer",
			logger.String("python", i.cfg.Python),
			logger.Error(err))
		return outcome, i.wrap(errors.KindLaunchFailure, msgLaunchFailure, err, outcome)
	}

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)

	// Nothing the analyzer started may outlive the run
	if err := killProcessGroup(cmd); err != nil {
		log.Debug("Failed to kill analyzer process group", logger.Error(err))
	}
	if !streams.drain(waitDelay) {
		log.Warn("BirdNET analyzer output still open after exit, closed it",
			logger.Duration("wait", waitDelay))
	}

	outcome.Stdout = stdoutBuf.String()
	outcome.Stderr = stderrBuf.String()
	outcome.OutputTruncated = stdout.truncated || stderr.truncated
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	i.logStreams(log, outcome)

	// Context expiry wins over the exit status of the killed process
	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			log.Error("BirdNET analysis timed out",
				logger.Duration("timeout", i.cfg.Timeout),
				logger.Duration("elapsed", outcome.Duration))
			return outcome, i.wrap(errors.KindTimeout, msgTimeout, ctxErr, outcome)
		}
		log.Warn("BirdNET analysis canceled",
			logger.Duration("elapsed", outcome.Duration))
		return outcome, i.wrap(errors.KindTimeout, msgCanceled, ctxErr, outcome)
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) && outcome.ExitCode == 0 {
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			log.Error("BirdNET analyzer wait failed", logger.Error(waitErr))
			return outcome, i.wrap(errors.KindToolFailure, msgToolFailure, waitErr, outcome)
		}

		message := strings.TrimSpace(outcome.Stderr)
		if message == "" {
			message = msgToolFailure
		}
		log.Error("BirdNET analyzer exited with error",
			logger.Int("exit_code", outcome.ExitCode),
			logger.Duration("elapsed", outcome.Duration))
		return outcome, i.wrap(errors.KindToolFailure, message, waitErr, outcome)
	}

	log.Info("BirdNET analysis finished",
		logger.Int("exit_code", outcome.ExitCode),
		logger.Duration("elapsed", outcome.Duration))
	return outcome, nil
}

// logStreams writes captured output at info (stdout) and warn (stderr)
func (i *Invoker) logStreams(log logger.Logger, o *Outcome) {
	if out := strings.TrimSpace(o.Stdout); out != "" {
		log.Info("BirdNET analyzer output",
			logger.String("stdout", logger.RedactSensitiveData(out)))
	}
	if errOut := strings.TrimSpace(o.Stderr); errOut != "" {
		log.Warn("BirdNET analyzer error output",
			logger.String("stderr", logger.RedactSensitiveData(errOut)))
	}
	if o.OutputTruncated {
		log.Warn("BirdNET analyzer output truncated",
			logger.Int64("max_bytes", i.cfg.MaxOutput))
	}
}

// wrap builds the AnalysisError returned to the caller. The cause is kept
// inside an EnhancedError carrying the run context for telemetry.
func (i *Invoker) wrap(kind errors.AnalysisKind, message string, cause error, o *Outcome) *errors.AnalysisError {
	ae := errors.NewAnalysis(kind, message, cause)
	ae.Err = errors.New(fmt.Errorf("analyzer %s: %w", kind, cause)).
		Component("analyzer").
		Category(ae.ErrorCategory()).
		Priority(priorityFor(kind, cause)).
		Context("operation", "run_analyzer").
		Context("exit_code", o.ExitCode).
		Timing("run_analyzer", o.Duration).
		Build()
	return ae
}

// priorityFor ranks run failures for telemetry. A launch failure means the
// deployment is broken and every request fails; a client going away is
// routine.
func priorityFor(kind errors.AnalysisKind, cause error) string {
	switch {
	case kind == errors.KindLaunchFailure:
		return errors.PriorityHigh
	case errors.Is(cause, context.Canceled):
		return errors.PriorityLow
	default:
		return errors.PriorityMedium
	}
}
