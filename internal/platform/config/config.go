package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agatticelli/cachekit/internal/platform/cache"
)

// EnvPrefix is prepended to every environment override, e.g. CACHEKIT_CACHE_KIND
const EnvPrefix = "CACHEKIT"

// Config holds all configuration for the cache service
type Config struct {
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
}

// CacheConfig selects and configures the cache backend
type CacheConfig struct {
	Kind       string        `mapstructure:"kind"` // memory, redis or layered
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxSize    int           `mapstructure:"max_size"`
	Redis      RedisConfig   `mapstructure:"redis"`
	Layered    LayeredConfig `mapstructure:"layered"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	MaxConnections int           `mapstructure:"max_connections"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	Serializer     string        `mapstructure:"serializer"` // json or msgpack
}

// LayeredConfig holds the in-process tier settings of a layered cache
type LayeredConfig struct {
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L1MaxTTL  time.Duration `mapstructure:"l1_max_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Exporter string        `mapstructure:"exporter"` // prometheus or otlp
	Endpoint string        `mapstructure:"endpoint"`
	Interval time.Duration `mapstructure:"interval"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// ResilienceConfig holds caller-side protection around the cache
type ResilienceConfig struct {
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

// RetryConfig holds connect retry settings
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// WarmupConfig holds startup warmup settings
type WarmupConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxParallel int               `mapstructure:"max_parallel"`
	TTL         time.Duration     `mapstructure:"ttl"`
	Entries     map[string]string `mapstructure:"entries"`
}

// BackendConfig converts the cache section into the backend factory's config
func (c CacheConfig) BackendConfig() cache.Config {
	return cache.Config{
		Kind:           cache.Kind(c.Kind),
		Host:           c.Redis.Host,
		Port:           c.Redis.Port,
		Password:       c.Redis.Password,
		DB:             c.Redis.DB,
		MaxConnections: c.Redis.MaxConnections,
		DialTimeout:    c.Redis.DialTimeout,
		ReadTimeout:    c.Redis.ReadTimeout,
		WriteTimeout:   c.Redis.WriteTimeout,
		Serializer:     c.Redis.Serializer,
		Capacity:       c.MaxSize,
		L1Capacity:     c.Layered.L1MaxSize,
		L1MaxTTL:       c.Layered.L1MaxTTL,
		DefaultTTL:     c.DefaultTTL,
	}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// CACHEKIT_CACHE_REDIS_HOST overrides cache.redis.host
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.kind", string(cache.KindMemory))
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_size", cache.DefaultCapacity)

	// Redis defaults
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.max_connections", 50)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "5s")
	v.SetDefault("cache.redis.write_timeout", "5s")
	v.SetDefault("cache.redis.serializer", cache.SerializerJSON)

	// Layered defaults
	v.SetDefault("cache.layered.l1_max_size", 1000)
	v.SetDefault("cache.layered.l1_max_ttl", cache.DefaultL1MaxTTL.String())

	// Observability defaults
	v.SetDefault("observability.service_name", "cachekit")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.exporter", "prometheus")
	v.SetDefault("observability.metrics.endpoint", "localhost:4317")
	v.SetDefault("observability.metrics.interval", "15s")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.max_body_bytes", 1<<20)

	// Resilience defaults
	v.SetDefault("resilience.retry.max_attempts", 5)
	v.SetDefault("resilience.retry.base_delay", "500ms")
	v.SetDefault("resilience.retry.max_delay", "10s")
	v.SetDefault("resilience.circuit_breaker.failure_threshold", 5)
	v.SetDefault("resilience.circuit_breaker.success_threshold", 2)
	v.SetDefault("resilience.circuit_breaker.timeout", "30s")
	v.SetDefault("resilience.rate_limit.requests_per_second", 1000)
	v.SetDefault("resilience.rate_limit.burst", 200)

	// Warmup defaults
	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.timeout", "30s")
	v.SetDefault("warmup.max_parallel", 4)
	v.SetDefault("warmup.ttl", "0s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch cache.Kind(c.Cache.Kind) {
	case cache.KindMemory, cache.KindRedis, cache.KindLayered:
	default:
		return fmt.Errorf("invalid cache kind: %s", c.Cache.Kind)
	}

	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max size must be > 0")
	}

	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache default ttl must be >= 0")
	}

	if c.Cache.Kind != string(cache.KindMemory) {
		if c.Cache.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Cache.Redis.Port <= 0 || c.Cache.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis port: %d", c.Cache.Redis.Port)
		}
		if _, err := cache.NewCodec(c.Cache.Redis.Serializer); err != nil {
			return err
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	switch c.Observability.Metrics.Exporter {
	case "prometheus", "otlp":
	default:
		return fmt.Errorf("invalid metrics exporter: %s", c.Observability.Metrics.Exporter)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	if c.Resilience.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}

	return nil
}
