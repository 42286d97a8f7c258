package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agatticelli/cachekit/internal/platform/cache"
)

// SetRequest is the body of PUT /v1/cache/:key.
// TTL is in seconds; omitted means the cache default, 0 means no expiry.
type SetRequest struct {
	Value json.RawMessage `json:"value"`
	TTL   *int64          `json:"ttl,omitempty"`
}

// ExpireRequest is the body of POST /v1/cache/:key/expire
type ExpireRequest struct {
	TTL int64 `json:"ttl"`
}

// CounterRequest is the optional body of incr and decr; Amount defaults to 1
type CounterRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

// ValueResponse carries a single cached value
type ValueResponse struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// HealthStatus is returned by /health and /ready
type HealthStatus struct {
	Status string `json:"status"`
}

var jsonCodec cache.JSONCodec

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "healthy"})
}

func (s *Server) handleReady(c echo.Context) error {
	if !s.cache.IsConnected() {
		return c.JSON(http.StatusServiceUnavailable, HealthStatus{Status: "not ready"})
	}
	return c.JSON(http.StatusOK, HealthStatus{Status: "ready"})
}

func (s *Server) handleGet(c echo.Context) error {
	key := keyParam(c)

	var value interface{}
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		value, err = s.cache.Get(ctx, key)
		return err
	})
	if err != nil {
		return err
	}

	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	return c.JSON(http.StatusOK, ValueResponse{Key: key, Value: value})
}

func (s *Server) handleSet(c echo.Context) error {
	key := keyParam(c)

	var req SetRequest
	if err := decodeBody(c, &req, false); err != nil {
		return err
	}
	if len(req.Value) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}

	value, err := jsonCodec.Unmarshal(req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value is not valid JSON")
	}

	ttl := cache.DefaultExpiration
	if req.TTL != nil {
		if *req.TTL < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "ttl must be >= 0")
		}
		ttl = time.Duration(*req.TTL) * time.Second
	}

	var stored bool
	err = s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		stored, err = s.cache.Set(ctx, key, value, ttl)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"stored": stored})
}

func (s *Server) handleDelete(c echo.Context) error {
	key := keyParam(c)

	var deleted bool
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		deleted, err = s.cache.Delete(ctx, key)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleExists(c echo.Context) error {
	key := keyParam(c)

	var exists bool
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		exists, err = s.cache.Exists(ctx, key)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleTTL(c echo.Context) error {
	key := keyParam(c)

	var ttl int64
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		ttl, err = s.cache.TTL(ctx, key)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"key": key, "ttl": ttl})
}

func (s *Server) handleExpire(c echo.Context) error {
	key := keyParam(c)

	var req ExpireRequest
	if err := decodeBody(c, &req, false); err != nil {
		return err
	}

	var updated bool
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		updated, err = s.cache.Expire(ctx, key, time.Duration(req.TTL)*time.Second)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Server) handleIncr(c echo.Context) error {
	return s.handleCounter(c, s.cache.Incr)
}

func (s *Server) handleDecr(c echo.Context) error {
	return s.handleCounter(c, s.cache.Decr)
}

func (s *Server) handleCounter(c echo.Context, op func(context.Context, string, int64) (int64, error)) error {
	key := keyParam(c)

	var req CounterRequest
	if err := decodeBody(c, &req, true); err != nil {
		return err
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	var n int64
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		n, err = op(ctx, key, amount)
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ValueResponse{Key: key, Value: n})
}

func (s *Server) handleKeys(c echo.Context) error {
	pattern := c.QueryParam("pattern")
	if pattern == "" {
		pattern = "*"
	}

	var keys []string
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		keys, err = s.cache.Keys(ctx, pattern)
		return err
	})
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"pattern": pattern, "keys": keys})
}

func (s *Server) handleFlush(c echo.Context) error {
	var flushed bool
	err := s.call(c.Request().Context(), func(ctx context.Context) error {
		var err error
		flushed, err = s.cache.Flush(ctx)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.LogWarn(c.Request().Context(), "cache flushed", "remote", c.RealIP())
	return c.JSON(http.StatusOK, map[string]bool{"flushed": flushed})
}

// keyParam returns the unescaped :key path parameter
func keyParam(c echo.Context) string {
	raw := c.Param("key")
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

// decodeBody decodes a JSON request body into v. An empty body is accepted when optional.
func decodeBody(c echo.Context, v interface{}, optional bool) error {
	body := c.Request().Body
	if body == nil || body == http.NoBody {
		if optional {
			return nil
		}
		return echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}
