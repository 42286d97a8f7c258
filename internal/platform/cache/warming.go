package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agatticelli/cachekit/internal/platform/observability"
)

// WarmupProvider seeds a cache before it starts serving traffic. Warmup
// should be idempotent.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context, c Cache) error
}

// WarmupConfig configures a Warmer
type WarmupConfig struct {
	Timeout         time.Duration // bound on the whole run
	ContinueOnError bool          // sequential runs only; parallel runs always finish
	Parallel        bool
	MaxParallel     int // <= 0 runs every provider at once
}

func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
		MaxParallel:     4,
	}
}

// WarmupResult is the outcome of one provider
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults lists provider outcomes in registration order
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Err joins every provider failure, or returns nil
func (wr *WarmupResults) Err() error {
	var errs []error
	for _, r := range wr.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Provider, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Warmer runs registered providers against a single cache
type Warmer struct {
	cache     Cache
	providers []WarmupProvider
	logger    *observability.Logger
	metrics   *observability.Metrics
	config    WarmupConfig
}

// NewWarmer creates a warmer. logger and metrics may be nil.
func NewWarmer(c Cache, logger *observability.Logger, metrics *observability.Metrics, config WarmupConfig) *Warmer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	return &Warmer{
		cache:   c,
		logger:  logger.WithComponent("cache-warmer"),
		metrics: metrics,
		config:  config,
	}
}

func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every provider within the configured timeout. Provider
// failures are reported in the results, never returned.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	out := &WarmupResults{}
	if len(w.providers) == 0 {
		return out
	}

	runCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		out.Results = w.runParallel(runCtx)
	} else {
		out.Results = w.runSequential(runCtx)
	}
	out.TotalTime = time.Since(start)

	for _, r := range out.Results {
		if r.Err != nil {
			out.Errors++
		}
	}

	log := w.logger.LogInfo
	if out.Errors > 0 {
		log = w.logger.LogWarn
	}
	log(ctx, "cache warmup finished",
		"providers", len(w.providers),
		"ran", len(out.Results),
		"errors", out.Errors,
		"duration", out.TotalTime)

	return out
}

func (w *Warmer) runParallel(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	// Provider errors land in results, so the group itself never fails
	var g errgroup.Group
	if w.config.MaxParallel > 0 {
		g.SetLimit(w.config.MaxParallel)
	}
	for i, p := range w.providers {
		g.Go(func() error {
			results[i] = w.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (w *Warmer) runSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))
	for _, p := range w.providers {
		r := w.run(ctx, p)
		results = append(results, r)
		if r.Err != nil && !w.config.ContinueOnError {
			break
		}
	}
	return results
}

func (w *Warmer) run(ctx context.Context, p WarmupProvider) WarmupResult {
	r := WarmupResult{Provider: p.Name()}

	// A provider queued behind the limit may start after the deadline
	if r.Err = ctx.Err(); r.Err == nil {
		start := time.Now()
		r.Err = p.Warmup(ctx, w.cache)
		r.Duration = time.Since(start)
	}

	if r.Err != nil {
		w.logger.LogError(ctx, "cache warmup provider failed", r.Err, "provider", r.Provider, "duration", r.Duration)
	} else {
		w.logger.LogDebug(ctx, "cache warmup provider done", "provider", r.Provider, "duration", r.Duration)
	}
	w.metrics.RecordWarmup(ctx, r.Provider, r.Err == nil, r.Duration)

	return r
}

// StaticProvider seeds a fixed set of entries with one TTL
type StaticProvider struct {
	ProviderName string
	Entries      map[string]interface{}
	TTL          time.Duration
}

func (p *StaticProvider) Name() string {
	if p.ProviderName == "" {
		return "static"
	}
	return p.ProviderName
}

func (p *StaticProvider) Warmup(ctx context.Context, c Cache) error {
	for key, value := range p.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Set(ctx, key, value, p.TTL); err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
	}
	return nil
}

// ProviderFunc adapts a function to a WarmupProvider
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, c Cache) error
}

func (p ProviderFunc) Name() string                              { return p.ProviderName }
func (p ProviderFunc) Warmup(ctx context.Context, c Cache) error { return p.Fn(ctx, c) }
