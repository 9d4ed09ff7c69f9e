package api

import (
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/bytes"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/pipeline"
)

// HeaderCorrelationID echoes the error correlation ID to the client
const HeaderCorrelationID = "X-Correlation-ID"

// ErrorResponse represents an API error response. Detail repeats Message
// for clients written against the FastAPI error shape.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
	Detail        string `json:"detail"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(message string, code int) *ErrorResponse {
	return &ErrorResponse{
		Error:         http.StatusText(code),
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
		Detail:        message,
	}
}

// generateCorrelationID creates a unique identifier for error tracking using cryptographic randomness
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}

	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// handleError is the echo HTTPErrorHandler. Every error, including those
// raised by middleware, is rendered as an ErrorResponse. Messages of
// unexpected errors are replaced with a generic one.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, message := pipeline.Status(err)
	cause := err
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = httpErrorMessage(he)
		if he.Internal != nil {
			cause = he.Internal
		}
		if code == http.StatusRequestEntityTooLarge {
			// oversized uploads share the 400 of the upload size check
			code, message = http.StatusBadRequest, s.bodyTooLargeMessage(c.Request().ContentLength)
		}
	}

	resp := NewErrorResponse(message, code)
	c.Response().Header().Set(HeaderCorrelationID, resp.CorrelationID)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.Int("code", code),
		logger.String("message", message),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
		logger.String("ip", c.RealIP()),
	}
	if cause != nil {
		fields = append(fields, logger.Error(cause))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("API Error", fields...)
	} else {
		s.log.Debug("API Error", fields...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.log.Warn("Failed to write error response", logger.Error(err))
	}
}

func (s *Server) bodyTooLargeMessage(contentLength int64) string {
	limit := bytes.Format(s.config.MaxUploadSize)
	if contentLength > 0 {
		return fmt.Sprintf("File too large: %d bytes. Maximum size: %s", contentLength, limit)
	}
	return "File too large. Maximum size: " + limit
}

// httpErrorMessage returns the client-facing text of an HTTPError. Handlers
// and middleware only place safe strings in Message.
func httpErrorMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok && msg != "" {
		return msg
	}
	if he.Code >= http.StatusInternalServerError {
		return pipeline.MsgInternal
	}
	return http.StatusText(he.Code)
}
