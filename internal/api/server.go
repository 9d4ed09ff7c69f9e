package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/hearbird/hearbird/internal/api/middleware"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/observability"
	"github.com/hearbird/hearbird/internal/pipeline"
)

// Analyzer runs one analysis request
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Server is the HTTP server for hearbird.
// It manages the Echo framework instance, middleware, and all HTTP routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	analyzer Analyzer
	log      logger.Logger

	// Optional dependencies
	metrics   *observability.Metrics
	rateStore *mw.RateLimiterStore
	listener  net.Listener

	// requestCtx is the base context of every served request. Canceling it
	// stops in-flight analyses once graceful shutdown has run out of time.
	requestCtx   context.Context
	stopRequests context.CancelFunc

	startTime time.Time
}

// requestReapTimeout bounds the wait for canceled requests to kill their
// analyzers and release their scratch directories
const requestReapTimeout = 15 * time.Second

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics sets the observability metrics for the server. HTTP requests
// are recorded and the registry is exposed on the metrics path.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimiterStore replaces the per-client rate limiter store.
func WithRateLimiterStore(store *mw.RateLimiterStore) ServerOption {
	return func(s *Server) {
		s.rateStore = store
	}
}

// WithListener serves on an existing listener instead of Config.Address.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// New creates a new HTTP server serving analyzer with the given options.
func New(config *Config, analyzer Analyzer, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}

	s := &Server{
		config:    config,
		analyzer:  analyzer,
		startTime: time.Now(),
	}
	s.requestCtx, s.stopRequests = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = GetLogger()
	}
	if s.rateStore == nil && config.RateLimitEnabled {
		s.rateStore = mw.NewRateLimiterStore(config.RateLimit)
	}

	// Initialize Echo
	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.handleError
	if s.listener != nil {
		s.echo.Listener = s.listener
	}

	// Configure Echo server timeouts
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.Server.BaseContext = func(net.Listener) context.Context {
		return s.requestCtx
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("open_access", (mw.APIKeyConfig{Keys: config.APIKeys}).OpenMode()),
		logger.Bool("rate_limit", config.RateLimitEnabled),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisablePrintStack: !s.config.Debug,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.Error("Recovered from panic in handler",
				logger.String("path", c.Path()),
				logger.Error(err))
			return err
		},
	}))

	var recorder mw.HTTPRecorder
	if s.metrics != nil {
		recorder = s.metrics.HTTP
	}
	s.echo.Use(mw.NewRequestLogger(s.log.Module("http"), recorder))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	var authRecorder mw.AuthRecorder
	if s.metrics != nil {
		authRecorder = s.metrics.HTTP
	}
	analyzeMiddleware := []echo.MiddlewareFunc{
		mw.NewAPIKeyAuth(mw.APIKeyConfig{
			Keys:     s.config.APIKeys,
			Recorder: authRecorder,
			Logger:   s.log,
		}),
	}
	if s.config.RateLimitEnabled {
		analyzeMiddleware = append(analyzeMiddleware, mw.NewRateLimiter(s.rateStore))
	}
	s.echo.POST("/analyze", s.analyze, analyzeMiddleware...)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

// Start serves HTTP requests and blocks until the server is shut down.
// It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.log.Info("Starting HTTP server", logger.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the configured shutdown timeout or until ctx is done. Requests still
// running after that are canceled, which kills their analyzer processes,
// and Shutdown waits for them to finish cleaning up.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stopRequests()

	graceCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(graceCtx); err != nil {
		s.log.Warn("Canceling in-flight requests after shutdown timeout",
			logger.Duration("timeout", s.config.ShutdownTimeout),
			logger.Error(err))
		s.stopRequests()

		reapCtx, cancelReap := context.WithTimeout(context.WithoutCancel(ctx), requestReapTimeout)
		defer cancelReap()
		if err := s.echo.Shutdown(reapCtx); err != nil {
			s.log.Error("Error during server shutdown", logger.Error(err))
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	s.log.Info("Server shutdown complete",
		logger.Duration("uptime", time.Since(s.startTime).Round(time.Second)))
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
