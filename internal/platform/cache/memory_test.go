package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for TTL tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newConnectedMemory(t *testing.T, capacity int, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(capacity, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func TestMemoryOperationsRequireConnection(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Set(ctx, "k", "v", NoExpiration)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Delete(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Expire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Keys(ctx, "*")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Flush(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Incr(ctx, "k", 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Decr(ctx, "k", 1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	// Disconnect without a prior Connect is tolerated
	require.NoError(t, c.Disconnect(ctx))
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Connect(ctx))
	_, err := c.Set(ctx, "k", "v", NoExpiration)
	require.NoError(t, err)

	// Second Connect is a no-op and keeps the data
	require.NoError(t, c.Connect(ctx))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// Disconnect flushes the in-process store
	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	ok, err := c.Set(ctx, "user:1", map[string]interface{}{"name": "ada"}, NoExpiration)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "ada"}, v)

	deleted, err := c.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = c.Get(ctx, "user:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryByteValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	payload := []byte("abc")
	_, err := c.Set(ctx, "b", payload, NoExpiration)
	require.NoError(t, err)
	payload[0] = 'x'

	v, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestMemoryExpiryMonotonicity(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	_, err := c.Set(ctx, "session", "token", 2*time.Second)
	require.NoError(t, err)

	exists, err := c.Exists(ctx, "session")
	require.NoError(t, err)
	assert.True(t, exists)

	clk.Advance(1999 * time.Millisecond)
	exists, err = c.Exists(ctx, "session")
	require.NoError(t, err)
	assert.True(t, exists, "key should still be live just before expiry")

	clk.Advance(time.Millisecond)
	for i := 0; i < 3; i++ {
		exists, err = c.Exists(ctx, "session")
		require.NoError(t, err)
		assert.False(t, exists, "no false positive after expiry")
		clk.Advance(time.Second)
	}

	_, err = c.Get(ctx, "session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk), WithDefaultTTL(10*time.Second))

	_, err := c.Set(ctx, "defaulted", 1, DefaultExpiration)
	require.NoError(t, err)
	_, err = c.Set(ctx, "forever", 1, NoExpiration)
	require.NoError(t, err)

	ttl, err := c.TTL(ctx, "defaulted")
	require.NoError(t, err)
	assert.Equal(t, int64(10), ttl)

	ttl, err = c.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, TTLNoExpiry, ttl)
}

func TestMemoryTTLConvention(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	ttl, err := c.TTL(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, TTLMissing, ttl)

	_, err = c.Set(ctx, "persistent", "v", NoExpiration)
	require.NoError(t, err)
	ttl, err = c.TTL(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, TTLNoExpiry, ttl)

	_, err = c.Set(ctx, "temp", "v", 10*time.Second)
	require.NoError(t, err)

	prev := int64(11)
	for i := 0; i < 10; i++ {
		ttl, err = c.TTL(ctx, "temp")
		require.NoError(t, err)
		assert.Positive(t, ttl)
		assert.Less(t, ttl, prev, "ttl must decrease")
		prev = ttl
		clk.Advance(time.Second)
	}

	// Remaining time reached zero: counts as absent
	ttl, err = c.TTL(ctx, "temp")
	require.NoError(t, err)
	assert.Equal(t, TTLMissing, ttl)
}

func TestMemoryTTLRoundsUp(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	_, err := c.Set(ctx, "k", "v", 1500*time.Millisecond)
	require.NoError(t, err)

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ttl)

	clk.Advance(1400 * time.Millisecond)
	ttl, err = c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ttl, "a live key never reports zero")
}

func TestMemoryExpire(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	ok, err := c.Expire(ctx, "absent", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Set(ctx, "k", "v", NoExpiration)
	require.NoError(t, err)

	ok, err = c.Expire(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), ttl)

	clk.Advance(5 * time.Second)
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	// Non-positive expiry removes the key immediately
	_, err = c.Set(ctx, "gone", "v", NoExpiration)
	require.NoError(t, err)
	ok, err = c.Expire(ctx, "gone", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	exists, err = c.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryLRUEvictsFirstInserted(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 3)

	for i := 1; i <= 4; i++ {
		_, err := c.Set(ctx, fmt.Sprintf("k%d", i), i, NoExpiration)
		require.NoError(t, err)
	}

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists, "first-inserted key should be evicted")

	keys, err := c.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k3", "k4"}, keys)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryLRUReadProtectsKey(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 3)

	for i := 1; i <= 3; i++ {
		_, err := c.Set(ctx, fmt.Sprintf("k%d", i), i, NoExpiration)
		require.NoError(t, err)
	}

	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	_, err = c.Set(ctx, "k4", 4, NoExpiration)
	require.NoError(t, err)

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists, "read key should survive eviction")

	exists, err = c.Exists(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, exists, "least recently used key should be evicted")
}

func TestMemoryOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 2)

	_, err := c.Set(ctx, "a", 1, NoExpiration)
	require.NoError(t, err)
	_, err = c.Set(ctx, "b", 2, NoExpiration)
	require.NoError(t, err)
	_, err = c.Set(ctx, "a", 3, NoExpiration)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)

	// The overwrite refreshed "a", so "b" is now the eviction candidate
	_, err = c.Set(ctx, "c", 4, NoExpiration)
	require.NoError(t, err)
	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, keys)
}

func TestMemoryExpiredPurgedBeforeEviction(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 2, WithClock(clk))

	_, err := c.Set(ctx, "live", 1, NoExpiration)
	require.NoError(t, err)
	_, err = c.Set(ctx, "short", 2, time.Second)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)

	_, err = c.Set(ctx, "new", 3, NoExpiration)
	require.NoError(t, err)

	exists, err := c.Exists(ctx, "live")
	require.NoError(t, err)
	assert.True(t, exists, "expired entry must be purged before an LRU eviction")

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Evictions)
	assert.Equal(t, int64(1), stats.Expirations)
}

func TestMemoryExistsDoesNotTouchRecency(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 2)

	_, err := c.Set(ctx, "a", 1, NoExpiration)
	require.NoError(t, err)
	_, err = c.Set(ctx, "b", 2, NoExpiration)
	require.NoError(t, err)

	exists, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	require.True(t, exists)

	_, err = c.Set(ctx, "c", 3, NoExpiration)
	require.NoError(t, err)

	exists, err = c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCounterSemantics(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	n, err := c.Incr(ctx, "c", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.Decr(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = c.Decr(ctx, "fresh", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), n)

	ttl, err := c.TTL(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, TTLNoExpiry, ttl)
}

func TestMemoryCounterTypeMismatch(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	_, err := c.Set(ctx, "name", "ada", NoExpiration)
	require.NoError(t, err)

	_, err = c.Incr(ctx, "name", 1)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = c.Decr(ctx, "name", 1)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	v, err := c.Get(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "ada", v, "value must be unchanged")
}

func TestMemoryCounterAcceptsWholeFloats(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	_, err := c.Set(ctx, "f", 5.0, NoExpiration)
	require.NoError(t, err)
	n, err := c.Incr(ctx, "f", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	v, err := c.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	for _, bad := range []interface{}{5.5, float32(0.25), math.Inf(1), math.NaN(), 1e19} {
		_, err = c.Set(ctx, "bad", bad, NoExpiration)
		require.NoError(t, err)
		_, err = c.Incr(ctx, "bad", 1)
		assert.ErrorIs(t, err, ErrTypeMismatch, "value %v", bad)
	}
}

func TestMemoryPTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clock))

	_, err := c.PTTL(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Set(ctx, "persistent", "v", NoExpiration)
	require.NoError(t, err)
	d, err := c.PTTL(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, NoExpiration, d)

	_, err = c.Set(ctx, "short", "v", 400*time.Millisecond)
	require.NoError(t, err)
	clock.Advance(150 * time.Millisecond)
	d, err = c.PTTL(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	ttl, err := c.TTL(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ttl)

	clock.Advance(250 * time.Millisecond)
	_, err = c.PTTL(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCounterOverflow(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	_, err := c.Set(ctx, "max", int64(9223372036854775807), NoExpiration)
	require.NoError(t, err)

	_, err = c.Incr(ctx, "max", 1)
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := c.Get(ctx, "max")
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), v)

	_, err = c.Decr(ctx, "min", -9223372036854775808)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMemoryCounterKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	_, err := c.Set(ctx, "hits", 1, 10*time.Second)
	require.NoError(t, err)

	n, err := c.Incr(ctx, "hits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := c.TTL(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(10), ttl)

	// An expired counter restarts from zero
	clk.Advance(10 * time.Second)
	n, err = c.Incr(ctx, "hits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryFlush(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	for i := 0; i < 5; i++ {
		_, err := c.Set(ctx, fmt.Sprintf("k%d", i), i, NoExpiration)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		ok, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		keys, err := c.Keys(ctx, "*")
		require.NoError(t, err)
		assert.Empty(t, keys)
	}
}

func TestMemoryKeysPattern(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newConnectedMemory(t, 10, WithClock(clk))

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_, err := c.Set(ctx, k, k, NoExpiration)
		require.NoError(t, err)
	}
	_, err := c.Set(ctx, "user:3", "short", time.Second)
	require.NoError(t, err)
	clk.Advance(time.Second)

	keys, err := c.Keys(ctx, "user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)

	keys, err = c.Keys(ctx, "*:1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "order:1"}, keys)

	keys, err = c.Keys(ctx, "nothing*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 10)

	const (
		callers = 20
		times   = 250
	)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < times; j++ {
				if _, err := c.Incr(ctx, "c", 1); err != nil {
					t.Errorf("incr failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(callers*times), v)
}

func TestMemoryConcurrentMixedAccess(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", (id+j)%80)
				_, _ = c.Set(ctx, key, j, time.Minute)
				_, _ = c.Get(ctx, key)
				_, _ = c.Exists(ctx, key)
				_, _ = c.Keys(ctx, "key-1*")
				if j%10 == 0 {
					_, _ = c.Delete(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50, "store must never exceed capacity")
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	c := newConnectedMemory(t, 5)

	_, err := c.Set(ctx, "a", 1, NoExpiration)
	require.NoError(t, err)
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 5, stats.Capacity)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
