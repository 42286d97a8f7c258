package cache

import (
	"fmt"
	"log/slog"
)

// New builds the backend selected by cfg.Kind. The returned cache is not connected.
func New(cfg Config, logger *slog.Logger) (Cache, error) {
	switch cfg.Kind {
	case KindMemory, "":
		return NewMemoryCache(cfg.Capacity, WithDefaultTTL(cfg.DefaultTTL)), nil

	case KindRedis:
		return NewRedisCache(cfg)

	case KindLayered:
		l2, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		l1Capacity := cfg.L1Capacity
		if l1Capacity <= 0 {
			l1Capacity = cfg.Capacity
		}
		return NewLayeredCacheWithConfig(LayeredCacheConfig{
			L1:         NewMemoryCache(l1Capacity, WithDefaultTTL(cfg.DefaultTTL)),
			L2:         l2,
			L1MaxTTL:   cfg.L1MaxTTL,
			DefaultTTL: cfg.DefaultTTL,
			Logger:     logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown cache kind: %s", cfg.Kind)
	}
}
