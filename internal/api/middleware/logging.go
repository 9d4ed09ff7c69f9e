// Package middleware provides HTTP middleware components for the hearbird server.
package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hearbird/hearbird/internal/logger"
)

// HTTPRecorder receives per-request HTTP measurements
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, duration float64)
	RecordHTTPRequestError(method, path, errorType string)
	RecordHTTPResponseSize(method, path string, sizeBytes int64)
}

// NewRequestLogger creates a request logging middleware using Echo 4.14.0+ RequestLoggerWithConfig.
func NewRequestLogger(log logger.Logger, recorder HTTPRecorder) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, recorder, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
// Requests are logged at info, 4xx at warn and 5xx at error.
func NewRequestLoggerWithSkipper(log logger.Logger, recorder HTTPRecorder, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:         skipper,
		LogStatus:       true,
		LogURI:          true,
		LogRoutePath:    true,
		LogMethod:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogResponseSize: true,
		LogError:        true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			path := v.RoutePath
			if path == "" {
				path = "unmatched"
			}

			if recorder != nil {
				recorder.RecordHTTPRequest(v.Method, path, v.Status, v.Latency.Seconds())
				recorder.RecordHTTPResponseSize(v.Method, path, v.ResponseSize)
				if v.Status >= 400 {
					recorder.RecordHTTPRequestError(v.Method, path, errorType(v.Status))
				}
			}

			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency.Round(time.Microsecond)),
				logger.Int64("bytes_out", v.ResponseSize),
			}
			if v.Error != nil {
				fields = append(fields, logger.String("error", logger.RedactSensitiveData(v.Error.Error())))
			}

			l := log.WithContext(c.Request().Context())
			switch {
			case v.Status >= 500:
				l.Error("request", fields...)
			case v.Status >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		},
	})
}

// errorType buckets a failing status code into a low-cardinality label
func errorType(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "validation"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= http.StatusInternalServerError:
		return "server"
	default:
		return "client"
	}
}
