package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agatticelli/cachekit/internal/api"
	"github.com/agatticelli/cachekit/internal/platform/cache"
	"github.com/agatticelli/cachekit/internal/platform/config"
	"github.com/agatticelli/cachekit/internal/platform/observability"
	"github.com/agatticelli/cachekit/internal/platform/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	// Root context, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	obs := cfg.Observability
	logger := observability.NewLogger(obs.Logging.Level, obs.Logging.Format)

	metrics, err := observability.NewMetrics(ctx, observability.MetricsConfig{
		ServiceName: obs.ServiceName,
		Enabled:     obs.Metrics.Enabled,
		Exporter:    obs.Metrics.Exporter,
		Endpoint:    obs.Metrics.Endpoint,
		Interval:    obs.Metrics.Interval,
	})
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: obs.ServiceName,
		Environment: obs.Environment,
		Endpoint:    obs.Tracing.Endpoint,
		SampleRatio: obs.Tracing.SampleRatio,
		Enabled:     obs.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}

	logger.Info("observability setup complete")

	if err := run(ctx, cfg, logger, metrics, tracer); err != nil {
		logger.LogError(ctx, "cache server stopped with error", err)
		shutdownObservability(logger, metrics, tracer)
		os.Exit(1)
	}

	shutdownObservability(logger, metrics, tracer)
	logger.Info("cache server stopped")
}

func run(
	ctx context.Context,
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.TracerProvider,
) error {
	backendCfg := cfg.Cache.BackendConfig()

	backend, err := cache.New(backendCfg, logger.WithComponent("cache").Logger)
	if err != nil {
		return err
	}
	if err := observeStats(backend, metrics); err != nil {
		logger.LogWarn(ctx, "cache stats not exported", "error", err)
	}

	c := cache.NewInstrumented(backend, string(backendCfg.Kind), tracer.Tracer(), metrics, logger)

	// The cache never retries on its own; connecting is the caller's policy
	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
		BaseDelay:   cfg.Resilience.Retry.BaseDelay,
		MaxDelay:    cfg.Resilience.Retry.MaxDelay,
		Jitter:      0.1,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.LogWarn(ctx, "cache connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	logger.Info("connecting cache", "kind", backendCfg.Kind, "host", backendCfg.Host, "port", backendCfg.Port)

	return cache.WithConnection(ctx, &retryingConnect{Cache: c, cfg: retryCfg}, func(ctx context.Context, c cache.Cache) error {
		if cfg.Warmup.Enabled {
			warm(ctx, c, cfg.Warmup, logger, metrics)
		}

		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "cache",
			FailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.Resilience.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.Resilience.CircuitBreaker.Timeout,
			MaxTrials:        1,
			IsFailure:        cache.IsTransient,
			OnStateChange: func(from, to resilience.State) {
				logger.LogWarn(ctx, "cache circuit breaker state changed", "from", from.String(), "to", to.String())
				metrics.SetCircuitBreakerState(ctx, "cache", int64(to))
			},
		})

		var limiter *resilience.RateLimiter
		if rps := cfg.Resilience.RateLimit.RequestsPerSecond; rps > 0 {
			limiter = resilience.NewRateLimiter(rps, cfg.Resilience.RateLimit.Burst)
		}

		srv, err := api.NewServer(api.ServerConfig{
			Cache:           c,
			Logger:          logger,
			Metrics:         metrics,
			Breaker:         breaker,
			Limiter:         limiter,
			Port:            cfg.HTTP.Port,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutdown signal received, gracefully stopping...")
			return nil
		})

		return g.Wait()
	})
}

// retryingConnect retries Connect on transient failures
type retryingConnect struct {
	cache.Cache
	cfg resilience.RetryConfig
}

func (r *retryingConnect) Connect(ctx context.Context) error {
	return resilience.RetryIf(ctx, r.cfg, cache.IsTransient, r.Cache.Connect)
}

// observeStats exports entry, eviction and expiration gauges for in-process caches
func observeStats(c cache.Cache, metrics *observability.Metrics) error {
	layer := "l1"
	if lc, ok := c.(*cache.LayeredCache); ok {
		c = lc.L1()
	} else {
		layer = "memory"
	}

	mc, ok := c.(*cache.MemoryCache)
	if !ok {
		return nil
	}

	return metrics.ObserveCacheStats(layer, func() observability.CacheStats {
		s := mc.Stats()
		return observability.CacheStats{
			Entries:     int64(s.Size),
			Evictions:   int64(s.Evictions),
			Expirations: int64(s.Expirations),
		}
	})
}

func warm(ctx context.Context, c cache.Cache, cfg config.WarmupConfig, logger *observability.Logger, metrics *observability.Metrics) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}

	entries := make(map[string]interface{}, len(cfg.Entries))
	for k, v := range cfg.Entries {
		entries[k] = v
	}

	warmCfg := cache.DefaultWarmupConfig()
	if cfg.Timeout > 0 {
		warmCfg.Timeout = cfg.Timeout
	}
	warmCfg.MaxParallel = cfg.MaxParallel

	warmer := cache.NewWarmer(c, logger, metrics, warmCfg)
	warmer.RegisterProvider(&cache.StaticProvider{ProviderName: "config", Entries: entries, TTL: ttl})

	results := warmer.Warmup(ctx)
	if err := results.Err(); err != nil {
		logger.LogWarn(ctx, "cache warmup incomplete", "error", err)
	}
}

func shutdownObservability(logger *observability.Logger, metrics *observability.Metrics, tracer *observability.TracerProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tracer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(ctx, "tracer shutdown failed", err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		logger.LogError(ctx, "metrics shutdown failed", err)
	}
}
