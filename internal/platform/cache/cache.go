// Package cache provides a backend-agnostic cache contract with an in-process
// LRU/TTL engine, a Redis-backed adapter and a layered combination of both.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")

	// ErrNotConnected is returned by every operation outside the connected state
	ErrNotConnected = errors.New("cache: not connected")

	// ErrConnectionFailure is returned when the backend cannot be reached
	ErrConnectionFailure = errors.New("cache: connection failure")

	// ErrTypeMismatch is returned when a counter operation hits a non-integer value
	ErrTypeMismatch = errors.New("cache: value is not an integer")

	// ErrOverflow is returned when a counter operation would overflow int64
	ErrOverflow = errors.New("cache: increment or decrement would overflow")

	// ErrBackendCommand is returned when a remote backend rejects or times out a command
	ErrBackendCommand = errors.New("cache: backend command failed")
)

const (
	// DefaultExpiration selects the configured default TTL. Any negative TTL
	// passed to Set is treated the same way.
	DefaultExpiration time.Duration = -1

	// NoExpiration stores the key without expiry.
	NoExpiration time.Duration = 0
)

// Values returned by TTL when the key has no remaining lifetime to report.
const (
	TTLNoExpiry int64 = -1
	TTLMissing  int64 = -2
)

// ttlSeconds converts a PTTL reply to the TTL form, rounding up so a live key
// never reports zero.
func ttlSeconds(remaining time.Duration, err error) (int64, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return TTLMissing, nil
	case err != nil:
		return 0, err
	case remaining == NoExpiration:
		return TTLNoExpiry, nil
	}
	return int64((remaining + time.Second - 1) / time.Second), nil
}

// Kind identifies a cache backend.
type Kind string

const (
	KindMemory  Kind = "memory"
	KindRedis   Kind = "redis"
	KindLayered Kind = "layered"
)

// Cache defines the operations every backend must honor identically.
//
// A Cache starts disconnected. Connect must be called before any other
// operation and Disconnect releases the backend; both are idempotent.
//
// Values read back from Redis are what its codec produces: integers become
// int64, []byte comes back as a string and whole floats written with the JSON
// codec come back as int64. The in-process backend returns the stored value
// itself. Counters accept integers and whole floats on both.
type Cache interface {
	// Connect acquires backend resources
	Connect(ctx context.Context) error

	// Disconnect releases backend resources
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the cache is usable
	IsConnected() bool

	// Get retrieves a value from cache, ErrNotFound on miss
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in cache with TTL (DefaultExpiration, NoExpiration or positive)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Delete removes a key and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether a live key is present
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets the expiry of an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns remaining seconds, TTLNoExpiry or TTLMissing
	TTL(ctx context.Context, key string) (int64, error)

	// Keys lists live keys matching a glob pattern ("" means "*")
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Flush removes all entries
	Flush(ctx context.Context) (bool, error)

	// Incr adds amount to an integer value, starting from 0 when absent
	Incr(ctx context.Context, key string, amount int64) (int64, error)

	// Decr subtracts amount from an integer value, starting from 0 when absent
	Decr(ctx context.Context, key string, amount int64) (int64, error)
}

// Config holds backend selection and connection settings.
type Config struct {
	Kind Kind

	// Remote backend
	Host           string
	Port           int
	Password       string
	DB             int
	MaxConnections int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Serializer     string

	// In-process backend
	Capacity int

	// Layered backend
	L1Capacity int
	L1MaxTTL   time.Duration

	// DefaultTTL applies when Set is called with DefaultExpiration. Zero means no expiry.
	DefaultTTL time.Duration
}

// IsTransient reports whether err may clear on retry or after reconnecting.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnectionFailure) || errors.Is(err, ErrBackendCommand)
}

// resolveTTL maps a Set TTL argument to the effective duration (0 = no expiry).
func resolveTTL(ttl, defaultTTL time.Duration) time.Duration {
	if ttl < 0 {
		ttl = defaultTTL
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}
