// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hearbird/hearbird/internal/logger"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Invalid CORS
// origins are dropped with a warning instead of failing startup.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		validateWebServerSettings,
		validateUploadSettings,
		validateAnalyzerSettings,
		validateScratchSettings,
		validateSecuritySettings,
		validateSentrySettings,
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if s.WebServer.Port < 1 || s.WebServer.Port > 65535 {
		return fmt.Errorf("webserver.port must be between 1 and 65535, got %d", s.WebServer.Port)
	}
	if s.WebServer.ReadTimeout < 0 || s.WebServer.WriteTimeout < 0 {
		return fmt.Errorf("webserver timeouts cannot be negative")
	}
	if _, err := parseSize("webserver.bodylimit", s.WebServer.BodyLimit); err != nil {
		return err
	}
	return nil
}

func validateUploadSettings(s *Settings) error {
	if s.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.maxsize must be positive")
	}
	return nil
}

func validateAnalyzerSettings(s *Settings) error {
	if strings.TrimSpace(s.Analyzer.Python) == "" {
		return fmt.Errorf("analyzer.python must not be empty")
	}
	if strings.TrimSpace(s.Analyzer.Module) == "" {
		return fmt.Errorf("analyzer.module must not be empty")
	}
	if s.Analyzer.Timeout <= 0 {
		return fmt.Errorf("analyzer.timeout must be positive, got %s", s.Analyzer.Timeout)
	}
	if s.Analyzer.MaxOutputBytes <= 0 {
		return fmt.Errorf("analyzer.maxoutput must be positive")
	}
	return nil
}

func validateScratchSettings(s *Settings) error {
	if strings.ContainsAny(s.Scratch.Prefix, `/\`) {
		return fmt.Errorf("scratch.prefix must not contain path separators")
	}
	if s.Scratch.StaleAfter < 0 {
		return fmt.Errorf("scratch.staleafter cannot be negative")
	}
	if s.Scratch.StaleAfter > 0 && s.Scratch.StaleAfter <= s.Analyzer.Timeout {
		return fmt.Errorf("scratch.staleafter (%s) must exceed analyzer.timeout (%s)", s.Scratch.StaleAfter, s.Analyzer.Timeout)
	}
	return nil
}

func validateSecuritySettings(s *Settings) error {
	valid, invalid := ValidateOrigins(s.Security.AllowedOrigins)
	for _, origin := range invalid {
		GetLogger().Warn("Ignoring invalid CORS origin", logger.String("origin", origin))
	}
	s.Security.AllowedOrigins = valid

	if s.Security.RateLimit.Enabled {
		if s.Security.RateLimit.Requests < 1 {
			return fmt.Errorf("security.ratelimit.requests must be at least 1")
		}
		if s.Security.RateLimit.Window <= 0 {
			return fmt.Errorf("security.ratelimit.window must be positive")
		}
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}

// ValidateOrigins splits origins into well-formed http(s) origins and the
// rejected remainder.
func ValidateOrigins(origins []string) (valid, invalid []string) {
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		parsed, err := url.Parse(origin)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			invalid = append(invalid, origin)
			continue
		}
		valid = append(valid, parsed.Scheme+"://"+parsed.Host)
	}
	return valid, invalid
}
