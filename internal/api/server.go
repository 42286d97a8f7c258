// Package api exposes a Cache over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agatticelli/cachekit/internal/platform/cache"
	"github.com/agatticelli/cachekit/internal/platform/observability"
	"github.com/agatticelli/cachekit/internal/platform/resilience"
)

// ServerConfig holds Server dependencies
type ServerConfig struct {
	Cache   cache.Cache
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Breaker guards every cache call; nil disables it
	Breaker *resilience.CircuitBreaker
	// Limiter admits /v1 requests; nil disables it
	Limiter *resilience.RateLimiter

	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Server serves the cache contract as JSON over HTTP
type Server struct {
	cache   cache.Cache
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	logger  *observability.Logger
	metrics *observability.Metrics

	echo *echo.Echo
	srv  *http.Server

	shutdownTimeout time.Duration
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		cache:           cfg.Cache,
		breaker:         cfg.Breaker,
		limiter:         cfg.Limiter,
		logger:          cfg.Logger.WithComponent("api"),
		metrics:         cfg.Metrics,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(s.metricsMiddleware)
	if cfg.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxBodyBytes)))
	}

	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))

	v1 := e.Group("/v1", s.rateLimitMiddleware)
	v1.GET("/cache", s.handleKeys)
	v1.DELETE("/cache", s.handleFlush)
	v1.GET("/cache/:key", s.handleGet)
	v1.PUT("/cache/:key", s.handleSet)
	v1.DELETE("/cache/:key", s.handleDelete)
	v1.GET("/cache/:key/exists", s.handleExists)
	v1.GET("/cache/:key/ttl", s.handleTTL)
	v1.POST("/cache/:key/expire", s.handleExpire)
	v1.POST("/cache/:key/incr", s.handleIncr)
	v1.POST("/cache/:key/decr", s.handleDecr)

	s.echo = e
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// call runs fn through the circuit breaker when one is configured
func (s *Server) call(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			status = statusFor(err)
		}

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request().Context(), route, status, time.Since(start))
		return err
	}
}

func (s *Server) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.limiter == nil {
			return next(c)
		}
		return s.limiter.Guard(c.Request().Context(), func(context.Context) error {
			return next(c)
		})
	}
}
