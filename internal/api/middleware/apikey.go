package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hearbird/hearbird/internal/logger"
)

// API key rejection messages returned to clients
const (
	MsgAPIKeyRequired = "API key required. Provide X-API-Key header."
	MsgAPIKeyInvalid  = "Invalid API key"
)

// AuthRecorder receives authentication failures
type AuthRecorder interface {
	RecordAuthError(authType, errorType string)
}

// APIKeyConfig configures NewAPIKeyAuth.
type APIKeyConfig struct {
	// Keys are the accepted X-API-Key values. When empty the header is still
	// required but any value is accepted.
	Keys     []string
	Recorder AuthRecorder
	Logger   logger.Logger
}

// OpenMode reports whether no keys are configured
func (c APIKeyConfig) OpenMode() bool {
	for _, k := range c.Keys {
		if strings.TrimSpace(k) != "" {
			return false
		}
	}
	return true
}

// NewAPIKeyAuth creates a middleware requiring the X-API-Key header. A
// missing header yields 401 and an unknown key 403.
func NewAPIKeyAuth(config APIKeyConfig) echo.MiddlewareFunc {
	keys := make([][]byte, 0, len(config.Keys))
	for _, k := range config.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}

	log := config.Logger
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if len(keys) == 0 {
		log.Warn("No API keys configured - running in open access mode")
	}

	reject := func(errorType string, code int, message string) error {
		if config.Recorder != nil {
			config.Recorder.RecordAuthError("api_key", errorType)
		}
		return echo.NewHTTPError(code, message)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			provided := c.Request().Header.Get(HeaderAPIKey)
			if provided == "" {
				return reject("missing_key", http.StatusUnauthorized, MsgAPIKeyRequired)
			}
			if len(keys) == 0 {
				return next(c)
			}
			if !matchKey(keys, []byte(provided)) {
				log.Debug("Rejected API key",
					logger.String("key", logger.MaskSecret(provided)),
					logger.String("ip", c.RealIP()))
				return reject("invalid_key", http.StatusForbidden, MsgAPIKeyInvalid)
			}
			return next(c)
		}
	}
}

// matchKey compares against every key in constant time
func matchKey(keys [][]byte, provided []byte) bool {
	matched := 0
	for _, k := range keys {
		matched |= subtle.ConstantTimeCompare(k, provided)
	}
	return matched == 1
}
