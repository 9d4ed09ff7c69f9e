package pipeline

import (
	"github.com/hearbird/hearbird/internal/analyzer"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/observability/metrics"
	"github.com/hearbird/hearbird/internal/scratch"
	"github.com/hearbird/hearbird/internal/upload"
)

// NewFromSettings assembles a Pipeline with the validator, scratch space and
// analyzer described by settings. A nil recorder disables metrics.
func NewFromSettings(settings *conf.Settings, recorder metrics.AnalysisRecorder) (*Pipeline, error) {
	base := logger.Global()

	validator := upload.NewValidator(upload.Config{
		MaxSize:   settings.Upload.MaxSizeBytes,
		StrictWAV: settings.Upload.StrictWAV,
	})
	space := scratch.New(ScratchConfig(settings), base.Module("scratch"))
	invoker := analyzer.New(analyzer.Config{
		Python:    settings.Analyzer.Python,
		Module:    settings.Analyzer.Module,
		Timeout:   settings.Analyzer.Timeout,
		MaxOutput: settings.Analyzer.MaxOutputBytes,
	}, base.Module("analyzer"))

	return New(Deps{
		Validator: validator,
		Scratch:   space,
		Analyzer:  invoker,
		Recorder:  recorder,
		Logger:    base.Module("pipeline"),
	})
}

// ScratchConfig returns the scratch space configuration in settings
func ScratchConfig(settings *conf.Settings) scratch.Config {
	return scratch.Config{
		Root:         settings.Scratch.Root,
		Prefix:       settings.Scratch.Prefix,
		MinFreeBytes: settings.Scratch.MinFreeBytes,
	}
}
