package cache

import (
	"context"
	"errors"
	"fmt"
)

// WithConnection connects c, runs fn and disconnects on every exit path,
// including a panic in fn. Errors from fn and Disconnect are joined.
func WithConnection(ctx context.Context, c Cache, fn func(context.Context, Cache) error) (err error) {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		// Disconnect must run even when the caller's ctx is already cancelled
		derr := c.Disconnect(context.WithoutCancel(ctx))
		if derr != nil {
			derr = fmt.Errorf("disconnect: %w", derr)
		}
		err = errors.Join(err, derr)
	}()

	return fn(ctx, c)
}
