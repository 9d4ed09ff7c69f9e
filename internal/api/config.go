// Package api provides the HTTP server for hearbird: the upload analysis
// endpoint, health check and metrics exposition.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/labstack/gommon/bytes"

	"github.com/hearbird/hearbird/internal/api/middleware"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/upload"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 6 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "60MiB"
	DefaultMetricsPath     = "/metrics"

	// APIVersion is reported by the health endpoint.
	APIVersion = "1.0.0"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Server binding
	Host string // Host to bind to (empty for all interfaces)
	Port string // Port to listen on

	// Security settings
	AllowedOrigins []string // CORS allowed origins
	APIKeys        []string // accepted X-API-Key values, empty for open mode

	// Rate limiting for /analyze
	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig

	// Timeouts
	ReadTimeout     time.Duration // Maximum duration for reading request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum time to wait for next request
	ShutdownTimeout time.Duration // Maximum time to wait for graceful shutdown

	// Limits
	BodyLimit     string // Maximum request body size (e.g., "60MiB")
	MaxUploadSize int64  // upload limit reported when the body limit rejects a request

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:             "",
		Port:             strconv.Itoa(conf.DefaultPort),
		AllowedOrigins:   conf.DefaultAllowedOrigins,
		RateLimitEnabled: true,
		RateLimit: middleware.RateLimitConfig{
			Requests: middleware.DefaultRateLimitRequests,
			Window:   middleware.DefaultRateLimitWindow,
		},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		MaxUploadSize:   upload.DefaultMaxSize,
		MetricsEnabled:  true,
		MetricsPath:     DefaultMetricsPath,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	cfg.Host = settings.WebServer.Host
	cfg.Port = strconv.Itoa(settings.WebServer.Port)
	if settings.WebServer.ReadTimeout > 0 {
		cfg.ReadTimeout = settings.WebServer.ReadTimeout
	}
	if settings.WebServer.WriteTimeout > 0 {
		cfg.WriteTimeout = settings.WebServer.WriteTimeout
	}
	if settings.WebServer.BodyLimit != "" {
		cfg.BodyLimit = settings.WebServer.BodyLimit
	}
	if settings.Upload.MaxSizeBytes > 0 {
		cfg.MaxUploadSize = settings.Upload.MaxSizeBytes
	}

	cfg.AllowedOrigins = settings.Security.AllowedOrigins
	cfg.APIKeys = settings.Security.APIKeys
	cfg.RateLimitEnabled = settings.Security.RateLimit.Enabled
	cfg.RateLimit = middleware.RateLimitConfig{
		Requests: settings.Security.RateLimit.Requests,
		Window:   settings.Security.RateLimit.Window,
	}

	cfg.MetricsEnabled = settings.Metrics.Enabled
	if settings.Metrics.Path != "" {
		cfg.MetricsPath = settings.Metrics.Path
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}

	// Validate timeouts
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if _, err := bytes.Parse(c.BodyLimit); err != nil {
		return fmt.Errorf("invalid body limit %q: %w", c.BodyLimit, err)
	}

	if c.RateLimitEnabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires positive requests and window")
	}

	if c.MetricsEnabled && (c.MetricsPath == "" || c.MetricsPath[0] != '/') {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	auth := "api-key"
	if (middleware.APIKeyConfig{Keys: c.APIKeys}).OpenMode() {
		auth = "open"
	}
	return fmt.Sprintf("Server Config: address=%s, auth=%s, ratelimit=%v, debug=%v",
		c.Address(), auth, c.RateLimitEnabled, c.Debug)
}
