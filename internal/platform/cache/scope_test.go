package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lifecycleCache records Connect and Disconnect calls around a MemoryCache
type lifecycleCache struct {
	*MemoryCache
	connectErr    error
	disconnectErr error
	disconnects   int
}

func (c *lifecycleCache) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	return c.MemoryCache.Connect(ctx)
}

func (c *lifecycleCache) Disconnect(ctx context.Context) error {
	c.disconnects++
	if err := c.MemoryCache.Disconnect(ctx); err != nil {
		return err
	}
	return c.disconnectErr
}

func TestWithConnectionReleasesOnSuccess(t *testing.T) {
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10)}

	err := WithConnection(context.Background(), c, func(ctx context.Context, c Cache) error {
		_, err := c.Set(ctx, "k", "v", NoExpiration)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.disconnects)
	assert.False(t, c.IsConnected())
}

func TestWithConnectionReleasesOnError(t *testing.T) {
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10)}
	boom := errors.New("boom")

	err := WithConnection(context.Background(), c, func(ctx context.Context, c Cache) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.disconnects)
}

func TestWithConnectionReleasesOnPanic(t *testing.T) {
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10)}

	assert.Panics(t, func() {
		_ = WithConnection(context.Background(), c, func(ctx context.Context, c Cache) error {
			panic("handler exploded")
		})
	})
	assert.Equal(t, 1, c.disconnects)
}

func TestWithConnectionJoinsDisconnectError(t *testing.T) {
	closeErr := errors.New("close failed")
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10), disconnectErr: closeErr}
	boom := errors.New("boom")

	err := WithConnection(context.Background(), c, func(ctx context.Context, c Cache) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, closeErr)
}

func TestWithConnectionConnectFailure(t *testing.T) {
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10), connectErr: ErrConnectionFailure}
	called := false

	err := WithConnection(context.Background(), c, func(ctx context.Context, c Cache) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrConnectionFailure)
	assert.False(t, called)
	assert.Equal(t, 0, c.disconnects)
}

func TestWithConnectionDisconnectsAfterCancel(t *testing.T) {
	c := &lifecycleCache{MemoryCache: NewMemoryCache(10)}
	ctx, cancel := context.WithCancel(context.Background())

	err := WithConnection(ctx, c, func(ctx context.Context, c Cache) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.disconnects)
	assert.False(t, c.IsConnected())
}
