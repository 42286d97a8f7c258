package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisDialTimeout  = 5 * time.Second
	defaultRedisReadTimeout  = 3 * time.Second
	defaultRedisWriteTimeout = 3 * time.Second
	defaultRedisPoolSize     = 50
)

// RedisCache implements a Redis-backed cache.
//
// Capacity and eviction are left to the Redis server. Each operation is a
// single round trip and is never retried here.
type RedisCache struct {
	cfg   Config
	codec Codec

	mu     sync.RWMutex
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis cache. No connection is made until Connect.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	codec, err := NewCodec(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultRedisDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultRedisReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultRedisWriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultRedisPoolSize
	}

	return &RedisCache{
		cfg:   cfg,
		codec: codec,
	}, nil
}

// Addr returns the host:port the cache connects to
func (r *RedisCache) Addr() string {
	return net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
}

// Connect creates the client and checks it with PING.
func (r *RedisCache) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.Addr(),
		Password:     r.cfg.Password,
		DB:           r.cfg.DB,
		DialTimeout:  r.cfg.DialTimeout,
		ReadTimeout:  r.cfg.ReadTimeout,
		WriteTimeout: r.cfg.WriteTimeout,
		PoolSize:     r.cfg.MaxConnections,
		MaxRetries:   -1, // retries are the caller's policy
	})

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: ping %s: %v", ErrConnectionFailure, r.Addr(), err)
	}

	r.client = client
	return nil
}

// Disconnect closes the client. Remote data is left untouched.
func (r *RedisCache) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("redis close error: %w", err)
	}
	return nil
}

// IsConnected reports whether a live client is held
func (r *RedisCache) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil
}

// Get retrieves a value from Redis cache
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.commandError(ctx, client, "get", err)
	}

	return decodeValue(r.codec, raw), nil
}

// Set stores a value in Redis cache with TTL
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	data, err := encodeValue(r.codec, value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}

	// go-redis sends PX for sub-second TTLs and EX otherwise; zero means no expiry
	if err := client.Set(ctx, key, data, resolveTTL(ttl, r.cfg.DefaultTTL)).Err(); err != nil {
		return false, r.commandError(ctx, client, "set", err)
	}

	return true, nil
}

// Delete removes a key from Redis cache
func (r *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	n, err := client.Del(ctx, key).Result()
	if err != nil {
		return false, r.commandError(ctx, client, "delete", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	n, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, r.commandError(ctx, client, "exists", err)
	}
	return n > 0, nil
}

// Expire sets the key's TTL with millisecond precision
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	if ttl <= 0 {
		// Redis deletes keys given a non-positive expiry
		ttl = 0
	}

	ok, err := client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, r.commandError(ctx, client, "expire", err)
	}
	return ok, nil
}

// TTL returns the remaining seconds, TTLNoExpiry or TTLMissing
func (r *RedisCache) TTL(ctx context.Context, key string) (int64, error) {
	return ttlSeconds(r.PTTL(ctx, key))
}

// PTTL returns the remaining lifetime with millisecond precision, NoExpiration
// for a persistent key and ErrNotFound for a missing one.
func (r *RedisCache) PTTL(ctx context.Context, key string) (time.Duration, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}

	d, err := client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, r.commandError(ctx, client, "pttl", err)
	}

	// go-redis reports the -1/-2 replies as raw nanosecond durations
	switch d {
	case -1:
		return NoExpiration, nil
	case -2:
		return 0, ErrNotFound
	}
	if d <= 0 {
		// Expired between the server's check and its reply
		return 0, ErrNotFound
	}
	return d, nil
}

// Keys lists keys matching a glob pattern
func (r *RedisCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	if pattern == "" {
		pattern = "*"
	}

	keys, err := client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, r.commandError(ctx, client, "keys", err)
	}
	return keys, nil
}

// Flush removes every key in the selected database
func (r *RedisCache) Flush(ctx context.Context) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		return false, r.commandError(ctx, client, "flush", err)
	}
	return true, nil
}

// Incr increments the integer at key by amount
func (r *RedisCache) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}

	n, err := client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, r.commandError(ctx, client, "incr", err)
	}
	return n, nil
}

// Decr decrements the integer at key by amount
func (r *RedisCache) Decr(ctx context.Context, key string, amount int64) (int64, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}

	n, err := client.DecrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, r.commandError(ctx, client, "decr", err)
	}
	return n, nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return r.commandError(ctx, client, "ping", err)
	}
	return nil
}

// Client returns the underlying client, or nil when disconnected
func (r *RedisCache) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *RedisCache) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, ErrNotConnected
	}
	return r.client, nil
}

// commandError classifies a failed command. Caller cancellation and server
// replies keep the connection; a lost transport releases the client so later
// calls report ErrNotConnected until Connect is called again.
func (r *RedisCache) commandError(ctx context.Context, client *redis.Client, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: redis %s: %v", ErrBackendCommand, op, err)
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := strings.ToLower(replyErr.Error())
		switch {
		case strings.Contains(msg, "not an integer"):
			return fmt.Errorf("redis %s: %w", op, ErrTypeMismatch)
		case strings.Contains(msg, "overflow"):
			return fmt.Errorf("redis %s: %w", op, ErrOverflow)
		}
		return fmt.Errorf("%w: redis %s: %v", ErrBackendCommand, op, err)
	}

	if isTransportLost(err) {
		r.release(client)
		return fmt.Errorf("%w: redis %s: %v", ErrConnectionFailure, op, err)
	}

	return fmt.Errorf("%w: redis %s: %v", ErrBackendCommand, op, err)
}

// release drops client if it is still the active one
func (r *RedisCache) release(client *redis.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != client {
		return
	}
	_ = client.Close()
	r.client = nil
}

func isTransportLost(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}
