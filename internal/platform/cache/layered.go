package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultL1MaxTTL caps how long a value may live in the in-process layer.
const DefaultL1MaxTTL = 1 * time.Minute

// LayeredCacheConfig configures a LayeredCache
type LayeredCacheConfig struct {
	L1         Cache
	L2         Cache
	L1MaxTTL   time.Duration
	DefaultTTL time.Duration // should match L2's default TTL
	Logger     *slog.Logger
}

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis).
//
// L2 is authoritative: Exists, TTL and Keys are answered by it, and counter
// and expiry updates run there and invalidate L1. Either layer may be nil.
type LayeredCache struct {
	l1         Cache // Fast in-memory cache
	l2         Cache // Slower but shared Redis cache
	l1MaxTTL   time.Duration
	defaultTTL time.Duration
	logger     *slog.Logger
}

var _ Cache = (*LayeredCache)(nil)

// NewLayeredCache creates a new layered cache
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithLogger creates a layered cache that logs L1 degradations
func NewLayeredCacheWithLogger(l1, l2 Cache, logger *slog.Logger) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, Logger: logger})
}

// NewLayeredCacheWithConfig creates a layered cache from config
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LayeredCache{
		l1:         cfg.L1,
		l2:         cfg.L2,
		l1MaxTTL:   cfg.L1MaxTTL,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
	}
}

// Connect connects L2 first, then L1. L2 is disconnected again when L1 fails.
func (lc *LayeredCache) Connect(ctx context.Context) error {
	if lc.l2 != nil {
		if err := lc.l2.Connect(ctx); err != nil {
			return err
		}
	}
	if lc.l1 != nil {
		if err := lc.l1.Connect(ctx); err != nil {
			if lc.l2 != nil {
				return errors.Join(err, lc.l2.Disconnect(ctx))
			}
			return err
		}
	}
	return nil
}

// Disconnect disconnects both layers
func (lc *LayeredCache) Disconnect(ctx context.Context) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Disconnect(ctx)
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Disconnect(ctx)
	}

	return errors.Join(l1Err, l2Err)
}

// IsConnected reports whether the authoritative layer is connected
func (lc *LayeredCache) IsConnected() bool {
	if lc.l2 != nil {
		return lc.l2.IsConnected()
	}
	return lc.l1 != nil && lc.l1.IsConnected()
}

// Get retrieves a value from cache (L1 → L2 → miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if lc.l2 == nil {
			return nil, err
		}
		if !errors.Is(err, ErrNotFound) {
			lc.logger.WarnContext(ctx, "L1 cache get failed, falling back to L2", "key", key, "error", err)
		}
	}

	if lc.l2 == nil {
		return nil, ErrNotConnected
	}

	val, err := lc.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Backfill L1 on L2 hit, bounded by the key's remaining L2 lifetime
	if lc.l1 != nil {
		if ttl, ok := lc.backfillTTL(ctx, key); ok {
			if _, err := lc.l1.Set(ctx, key, val, ttl); err != nil {
				lc.logger.WarnContext(ctx, "L1 cache backfill failed", "key", key, "error", err)
			}
		}
	}

	return val, nil
}

// pttlReader is implemented by backends that report sub-second lifetimes
type pttlReader interface {
	PTTL(ctx context.Context, key string) (time.Duration, error)
}

// backfillTTL returns the L1 lifetime for a value just read from L2. It
// reports false when L2 cannot vouch for the key outliving that lifetime:
// the key is gone, the lookup failed, or a whole-second TTL leaves no
// certain remainder.
func (lc *LayeredCache) backfillTTL(ctx context.Context, key string) (time.Duration, bool) {
	// Decorators such as Instrumented hide the backend's PTTL
	l2 := lc.l2
	for {
		if _, ok := l2.(pttlReader); ok {
			break
		}
		w, ok := l2.(interface{ Unwrap() Cache })
		if !ok {
			break
		}
		l2 = w.Unwrap()
	}

	var remaining time.Duration
	if p, ok := l2.(pttlReader); ok {
		d, err := p.PTTL(ctx, key)
		if err != nil || d < 0 {
			return 0, false
		}
		if d == NoExpiration {
			return lc.l1MaxTTL, true
		}
		remaining = d
	} else {
		secs, err := lc.l2.TTL(ctx, key)
		switch {
		case err != nil:
			return 0, false
		case secs == TTLNoExpiry:
			return lc.l1MaxTTL, true
		case secs <= 1:
			return 0, false
		}
		// TTL rounds up, so only secs-1 whole seconds are certain
		remaining = time.Duration(secs-1) * time.Second
	}

	return min(remaining, lc.l1MaxTTL), true
}

// Set stores a value in both cache layers (write-through)
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if lc.l2 == nil {
		if lc.l1 == nil {
			return false, ErrNotConnected
		}
		return lc.l1.Set(ctx, key, value, ttl)
	}

	ok, err := lc.l2.Set(ctx, key, value, ttl)
	if err != nil {
		// Stale L1 data must not outlive a failed write
		lc.invalidate(ctx, key)
		return false, err
	}

	if lc.l1 != nil {
		if _, err := lc.l1.Set(ctx, key, value, lc.capTTL(ttl)); err != nil {
			lc.logger.WarnContext(ctx, "L1 cache set failed", "key", key, "error", err)
		}
	}

	return ok, nil
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) (bool, error) {
	if lc.l2 == nil {
		if lc.l1 == nil {
			return false, ErrNotConnected
		}
		return lc.l1.Delete(ctx, key)
	}

	lc.invalidate(ctx, key)
	return lc.l2.Delete(ctx, key)
}

// Exists is answered by the authoritative layer
func (lc *LayeredCache) Exists(ctx context.Context, key string) (bool, error) {
	c, err := lc.authoritative()
	if err != nil {
		return false, err
	}
	return c.Exists(ctx, key)
}

// Expire updates the authoritative layer and drops the L1 copy
func (lc *LayeredCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c, err := lc.authoritative()
	if err != nil {
		return false, err
	}
	if c != lc.l1 {
		lc.invalidate(ctx, key)
	}
	return c.Expire(ctx, key, ttl)
}

// TTL is answered by the authoritative layer
func (lc *LayeredCache) TTL(ctx context.Context, key string) (int64, error) {
	c, err := lc.authoritative()
	if err != nil {
		return 0, err
	}
	return c.TTL(ctx, key)
}

// Keys is answered by the authoritative layer
func (lc *LayeredCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	c, err := lc.authoritative()
	if err != nil {
		return nil, err
	}
	return c.Keys(ctx, pattern)
}

// Flush clears both layers
func (lc *LayeredCache) Flush(ctx context.Context) (bool, error) {
	if lc.l1 != nil {
		if _, err := lc.l1.Flush(ctx); err != nil {
			lc.logger.WarnContext(ctx, "L1 cache flush failed", "error", err)
		}
	}
	if lc.l2 == nil {
		return lc.l1 != nil, nil
	}
	return lc.l2.Flush(ctx)
}

// Incr increments on the authoritative layer and drops the L1 copy
func (lc *LayeredCache) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	c, err := lc.authoritative()
	if err != nil {
		return 0, err
	}
	if c != lc.l1 {
		lc.invalidate(ctx, key)
	}
	return c.Incr(ctx, key, amount)
}

// Decr decrements on the authoritative layer and drops the L1 copy
func (lc *LayeredCache) Decr(ctx context.Context, key string, amount int64) (int64, error) {
	c, err := lc.authoritative()
	if err != nil {
		return 0, err
	}
	if c != lc.l1 {
		lc.invalidate(ctx, key)
	}
	return c.Decr(ctx, key, amount)
}

// InvalidateL1 invalidates only L1 cache for a key
// Useful when you want to force a read from L2
func (lc *LayeredCache) InvalidateL1(ctx context.Context, key string) error {
	if lc.l1 != nil {
		_, err := lc.l1.Delete(ctx, key)
		return err
	}
	return nil
}

// L1 returns the in-process layer, or nil
func (lc *LayeredCache) L1() Cache {
	return lc.l1
}

func (lc *LayeredCache) authoritative() (Cache, error) {
	if lc.l2 != nil {
		return lc.l2, nil
	}
	if lc.l1 != nil {
		return lc.l1, nil
	}
	return nil, ErrNotConnected
}

func (lc *LayeredCache) invalidate(ctx context.Context, key string) {
	if err := lc.InvalidateL1(ctx, key); err != nil {
		lc.logger.WarnContext(ctx, "L1 cache invalidate failed", "key", key, "error", err)
	}
}

// capTTL bounds an L1 TTL by l1MaxTTL; values without expiry also get the cap
func (lc *LayeredCache) capTTL(ttl time.Duration) time.Duration {
	ttl = resolveTTL(ttl, lc.defaultTTL)
	if ttl == 0 || ttl > lc.l1MaxTTL {
		return lc.l1MaxTTL
	}
	return ttl
}
