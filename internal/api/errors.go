package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agatticelli/cachekit/internal/platform/cache"
	"github.com/agatticelli/cachekit/internal/platform/resilience"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps cache and guard errors onto HTTP statuses
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrTypeMismatch), errors.Is(err, cache.ErrOverflow):
		return http.StatusConflict
	case errors.Is(err, resilience.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, cache.ErrNotConnected),
		errors.Is(err, cache.ErrConnectionFailure),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, cache.ErrBackendCommand):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}

	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.LogError(ctx, "request failed", err, "path", c.Path(), "status", status)
		s.metrics.RecordError(ctx, http.StatusText(status))
	} else if status != http.StatusNotFound {
		s.logger.LogDebug(ctx, "request rejected", "path", c.Path(), "status", status, "error", msg)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if werr := c.JSON(status, ErrorResponse{Error: msg}); werr != nil {
		s.logger.LogError(ctx, "failed to write error response", werr)
	}
}
