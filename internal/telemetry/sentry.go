// Package telemetry provides privacy-compliant error tracking through Sentry.
//
// Telemetry is opt-in. When enabled, errors built with the internal errors
// package are forwarded to Sentry after user data, host names and local
// paths have been stripped.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/privacy"
)

// Config holds Sentry settings
type Config struct {
	Enabled     bool
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// Option customizes Sentry initialization
type Option func(*sentry.ClientOptions)

// WithTransport replaces the network transport, used by tests
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

var sentryInitialized atomic.Bool

// GetLogger returns the telemetry package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry initializes the Sentry SDK and installs the error reporter.
// It does nothing unless telemetry is explicitly enabled.
func InitSentry(cfg Config, opts ...Option) error {
	log := GetLogger()
	if !cfg.Enabled {
		log.Debug("Sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if cfg.DSN == "" {
		return errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	environment := cfg.Environment
	if environment == "" {
		environment = "production"
	}

	options := sentry.ClientOptions{
		Dsn:        cfg.DSN,
		SampleRate: 1.0,
		Debug:      cfg.Debug,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      environment,
		Release:          cfg.Release,
		ServerName:       "",
		SendDefaultPII:   false,

		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	log.Info("Sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", cfg.Release))
	return nil
}

// IsInitialized reports whether InitSentry enabled reporting
func IsInitialized() bool {
	return sentryInitialized.Load()
}

// Flush waits for buffered events to be delivered and detaches the error
// reporter. It is a no-op when Sentry was never initialized.
func Flush(timeout time.Duration) {
	if !sentryInitialized.CompareAndSwap(true, false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(timeout) {
		GetLogger().Warn("Sentry flush timed out", logger.Duration("timeout", timeout))
	}
}

// applyPrivacyFilters removes data that could identify the host or client
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	event.Modules = nil
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
