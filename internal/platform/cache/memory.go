package cache

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultCapacity is the default maximum number of entries held in memory.
const DefaultCapacity = 10000

// Stats is a snapshot of in-process cache counters.
type Stats struct {
	Size        int
	Capacity    int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock sets a custom clock. Useful for testing TTL behavior.
func WithClock(clk Clock) MemoryOption {
	return func(c *MemoryCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called with DefaultExpiration.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		c.defaultTTL = ttl
	}
}

// MemoryCache implements an in-memory LRU cache with TTL support.
//
// Every operation runs to completion under a single mutex: reads also mutate
// the store through lazy expiry and recency updates. Expired entries are removed
// when touched and by a full sweep before Get, Set, Exists and Keys, so no
// background goroutine is needed.
type MemoryCache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	clock      Clock
	connected  bool

	items map[string]*list.Element
	lru   *list.List // Front = most recently used, Back = least recently used

	stats Stats
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a new in-memory cache holding at most capacity entries.
func NewMemoryCache(capacity int, opts ...MemoryOption) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &MemoryCache{
		capacity: capacity,
		clock:    realClock{},
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect marks the cache usable. The store starts empty.
func (c *MemoryCache) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	c.resetLocked()
	c.connected = true
	return nil
}

// Disconnect flushes the store and marks the cache unusable.
func (c *MemoryCache) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.connected = false
	return nil
}

// IsConnected reports whether Connect has been called without a later Disconnect.
func (c *MemoryCache) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	now := c.clock.Now()
	c.sweepLocked(now)

	element, ok := c.lookupLocked(key, now)
	if !ok {
		c.stats.Misses++
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(element)
	c.stats.Hits++
	return cloneValue(element.Value.(*entry).value), nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false, ErrNotConnected
	}

	now := c.clock.Now()
	c.sweepLocked(now)

	expiresAt := expiryFrom(now, resolveTTL(ttl, c.defaultTTL))
	value = cloneValue(value)

	// Overwriting an existing key does not grow the store
	if element, ok := c.items[key]; ok {
		item := element.Value.(*entry)
		item.value = value
		item.expiresAt = expiresAt
		c.lru.MoveToFront(element)
		return true, nil
	}

	c.insertLocked(key, value, expiresAt)
	return true, nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false, ErrNotConnected
	}

	if _, ok := c.lookupLocked(key, c.clock.Now()); !ok {
		return false, nil
	}
	c.removeLocked(key)
	return true, nil
}

// Exists reports whether key holds a live entry. It does not update recency.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false, ErrNotConnected
	}

	now := c.clock.Now()
	c.sweepLocked(now)

	_, ok := c.lookupLocked(key, now)
	return ok, nil
}

// Expire overwrites the expiry of an existing key. A non-positive ttl removes
// the key immediately, as Redis does.
func (c *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false, ErrNotConnected
	}

	now := c.clock.Now()
	element, ok := c.lookupLocked(key, now)
	if !ok {
		return false, nil
	}

	if ttl <= 0 {
		c.removeLocked(key)
		return true, nil
	}

	element.Value.(*entry).expiresAt = now.Add(ttl)
	return true, nil
}

// TTL returns the remaining lifetime in whole seconds, rounded up so a live key
// never reports zero. A key due to expire at this instant counts as absent.
func (c *MemoryCache) TTL(ctx context.Context, key string) (int64, error) {
	return ttlSeconds(c.PTTL(ctx, key))
}

// PTTL returns the exact remaining lifetime, NoExpiration for a persistent key
// and ErrNotFound for a missing one.
func (c *MemoryCache) PTTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, ErrNotConnected
	}

	now := c.clock.Now()
	element, ok := c.lookupLocked(key, now)
	if !ok {
		return 0, ErrNotFound
	}

	item := element.Value.(*entry)
	if item.expiresAt.IsZero() {
		return NoExpiration, nil
	}
	return item.expiresAt.Sub(now), nil
}

// Keys returns live keys matching pattern, least recently used first.
func (c *MemoryCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	c.sweepLocked(c.clock.Now())

	if pattern == "" {
		pattern = "*"
	}

	keys := make([]string, 0, c.lru.Len())
	for element := c.lru.Back(); element != nil; element = element.Prev() {
		key := element.Value.(*entry).key
		if pattern == "*" || matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Flush removes all entries
func (c *MemoryCache) Flush(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false, ErrNotConnected
	}

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	return true, nil
}

// Incr adds amount to the integer stored at key.
func (c *MemoryCache) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	return c.addInt(key, amount, false)
}

// Decr subtracts amount from the integer stored at key.
func (c *MemoryCache) Decr(ctx context.Context, key string, amount int64) (int64, error) {
	return c.addInt(key, amount, true)
}

// addInt applies a counter update. Overflow fails with ErrOverflow instead of
// wrapping, and a failed update leaves the stored value untouched.
func (c *MemoryCache) addInt(key string, amount int64, negate bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, ErrNotConnected
	}

	now := c.clock.Now()
	element, ok := c.lookupLocked(key, now)

	var current int64
	if ok {
		n, isInt := counterValue(element.Value.(*entry).value)
		if !isInt {
			return 0, fmt.Errorf("key %q: %w", key, ErrTypeMismatch)
		}
		current = n
	}

	var next int64
	var overflow bool
	if negate {
		next, overflow = subInt64(current, amount)
	} else {
		next, overflow = addInt64(current, amount)
	}
	if overflow {
		return 0, fmt.Errorf("key %q: %w", key, ErrOverflow)
	}

	if ok {
		element.Value.(*entry).value = next
		c.lru.MoveToFront(element)
		return next, nil
	}

	c.sweepLocked(now)
	c.insertLocked(key, next, time.Time{})
	return next, nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.items)
	s.Capacity = c.capacity
	return s
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// lookupLocked returns the live element for key, purging it if expired (caller must hold lock)
func (c *MemoryCache) lookupLocked(key string, now time.Time) (*list.Element, bool) {
	element, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if element.Value.(*entry).isExpired(now) {
		c.removeLocked(key)
		c.stats.Expirations++
		return nil, false
	}
	return element, true
}

// insertLocked adds a new key, evicting the LRU entry when at capacity (caller must hold lock)
func (c *MemoryCache) insertLocked(key string, value interface{}, expiresAt time.Time) {
	if len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}

	element := c.lru.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[key] = element
}

// sweepLocked removes all expired items (caller must hold lock)
func (c *MemoryCache) sweepLocked(now time.Time) {
	for key, element := range c.items {
		if element.Value.(*entry).isExpired(now) {
			c.removeLocked(key)
			c.stats.Expirations++
		}
	}
}

// removeLocked removes an item (caller must hold lock)
func (c *MemoryCache) removeLocked(key string) {
	if element, ok := c.items[key]; ok {
		c.lru.Remove(element)
		delete(c.items, key)
	}
}

// evictOldestLocked removes the least recently used item (caller must hold lock)
func (c *MemoryCache) evictOldestLocked() {
	element := c.lru.Back()
	if element != nil {
		c.removeLocked(element.Value.(*entry).key)
		c.stats.Evictions++
	}
}

func (c *MemoryCache) resetLocked() {
	c.items = make(map[string]*list.Element)
	c.lru.Init()
}

// counterValue is toInt64 extended to whole floats. The JSON codec writes 5.0
// as "5", which Redis INCR accepts, so both backends agree on such counters.
func counterValue(v interface{}) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return toInt64(v)
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// toInt64 converts integer kinds to int64. Unsigned values above MaxInt64 are rejected.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	overflow := (b > 0 && sum < a) || (b < 0 && sum > a)
	return sum, overflow
}

func subInt64(a, b int64) (int64, bool) {
	diff := a - b
	overflow := (b > 0 && diff > a) || (b < 0 && diff < a)
	return diff, overflow
}
