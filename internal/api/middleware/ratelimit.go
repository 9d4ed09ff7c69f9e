package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// MsgRateLimited is returned with 429 responses
const MsgRateLimited = "Rate limit exceeded. Try again later."

// Default per-client limit for analysis requests
const (
	DefaultRateLimitRequests = 5
	DefaultRateLimitWindow   = time.Minute
)

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	Requests int           // requests allowed per window, also the burst size
	Window   time.Duration // refill period for Requests tokens
}

// RateLimiterStore is a token bucket per client identifier. Idle buckets are
// evicted once they would have refilled completely.
type RateLimiterStore struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

var _ middleware.RateLimiterStore = (*RateLimiterStore)(nil)

// NewRateLimiterStore creates a store allowing config.Requests per config.Window
func NewRateLimiterStore(config RateLimitConfig) *RateLimiterStore {
	if config.Requests <= 0 {
		config.Requests = DefaultRateLimitRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	return &RateLimiterStore{
		limiters: cache.New(config.Window, 2*config.Window),
		limit:    rate.Limit(float64(config.Requests) / config.Window.Seconds()),
		burst:    config.Requests,
		idle:     config.Window,
	}
}

// Allow consumes one token for identifier
func (s *RateLimiterStore) Allow(identifier string) (bool, error) {
	limiter := s.limiter(identifier)
	allowed := limiter.Allow()
	// keep active clients from being evicted mid-window
	s.limiters.Set(identifier, limiter, s.idle)
	return allowed, nil
}

// Clients returns the number of tracked client buckets
func (s *RateLimiterStore) Clients() int {
	return s.limiters.ItemCount()
}

func (s *RateLimiterStore) limiter(identifier string) *rate.Limiter {
	if v, ok := s.limiters.Get(identifier); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	if err := s.limiters.Add(identifier, limiter, s.idle); err != nil {
		// another request created it first
		if v, ok := s.limiters.Get(identifier); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// NewRateLimiter creates a per client IP rate limiting middleware backed by store.
func NewRateLimiter(store middleware.RateLimiterStore) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "Unable to identify client").SetInternal(err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, MsgRateLimited).SetInternal(err)
		},
	})
}
