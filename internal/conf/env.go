// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Names shared with the previous deployment
		{"security.apikeys", "API_KEYS", nil},
		{"security.allowedorigins", "ALLOWED_ORIGINS", nil},
		{"sentry.dsn", "SENTRY_DSN", nil},
		{"security.apikeysfile", "HEARBIRD_API_KEYS_FILE", nil},
		{"sentry.dsnfile", "HEARBIRD_SENTRY_DSN_FILE", nil},

		{"webserver.host", "HEARBIRD_HOST", nil},
		{"webserver.port", "HEARBIRD_PORT", validateEnvPort},
		{"upload.maxsize", "HEARBIRD_UPLOAD_MAXSIZE", validateEnvSize},
		{"upload.strictwav", "HEARBIRD_UPLOAD_STRICTWAV", validateEnvBool},
		{"analyzer.python", "HEARBIRD_ANALYZER_PYTHON", nil},
		{"analyzer.timeout", "HEARBIRD_ANALYZER_TIMEOUT", validateEnvDuration},
		{"scratch.root", "HEARBIRD_SCRATCH_ROOT", nil},
		{"security.ratelimit.enabled", "HEARBIRD_RATELIMIT_ENABLED", validateEnvBool},
		{"security.ratelimit.requests", "HEARBIRD_RATELIMIT_REQUESTS", validateEnvPositiveInt},
		{"logging.level", "HEARBIRD_LOG_LEVEL", validateEnvLogLevel},
		{"sentry.enabled", "HEARBIRD_SENTRY_ENABLED", validateEnvBool},
		{"metrics.enabled", "HEARBIRD_METRICS_ENABLED", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvSize(value string) error {
	n, err := bytes.Parse(value)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("size must be positive, got %s", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log level must be one of trace, debug, info, warn, error")
	}
}
