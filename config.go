package httpsession

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration decoded from a Go duration string such as
// "500ms" or "5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the file form of a session configuration.
type Config struct {
	Timeout        TimeoutConfig      `toml:"timeout"`
	Headers        map[string]string  `toml:"headers"`
	UserAgent      []string           `toml:"user_agent"`
	Cache          CacheConfig        `toml:"cache"`
	CircuitBreaker BreakerConfig      `toml:"circuit_breaker"`
	Retries        int                `toml:"retries"`
	Retry          RetryBackoffConfig `toml:"retry"`
}

// TimeoutConfig mirrors Timeout.
type TimeoutConfig struct {
	Connect Duration `toml:"connect"`
	Read    Duration `toml:"read"`
}

// CacheConfig selects and configures the cache backend. Backend is one of
// "none", "memory", "file" or "redis".
type CacheConfig struct {
	Backend          string          `toml:"backend"`
	Directory        string          `toml:"directory"`
	Redis            RedisConfigFile `toml:"redis"`
	KeyPrefix        string          `toml:"key_prefix"`
	FallbackDuration Duration        `toml:"fallback_duration"`
	VaryHeaders      []string        `toml:"vary_headers"`
	FailurePolicy    string          `toml:"failure_policy"`
}

// RedisConfigFile is the file form of RedisConfig.
type RedisConfigFile struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// BreakerConfig is the file form of CircuitBreakerConfig.
type BreakerConfig struct {
	Disabled         bool     `toml:"disabled"`
	Name             string   `toml:"name"`
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  Duration `toml:"recovery_timeout"`
	SuccessThreshold int      `toml:"success_threshold"`
}

// RetryBackoffConfig tunes the delay between retries.
type RetryBackoffConfig struct {
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	Multiplier     float64  `toml:"multiplier"`
	Jitter         float64  `toml:"jitter"`
	Decorrelated   bool     `toml:"decorrelated"`
}

// Cache backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Timeout: TimeoutConfig{
			Connect: Duration(DefaultTimeout.Connect),
			Read:    Duration(DefaultTimeout.Read),
		},
		Headers: map[string]string{},
		Cache: CacheConfig{
			Backend:          BackendNone,
			FallbackDuration: Duration(DefaultFallbackCacheDuration),
			FailurePolicy:    "open",
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			RecoveryTimeout:  Duration(DefaultRecoveryTimeout),
			SuccessThreshold: DefaultSuccessThreshold,
		},
		Retry: RetryBackoffConfig{
			InitialBackoff: Duration(DefaultInitialBackoff),
			MaxBackoff:     Duration(DefaultMaxBackoff),
			Multiplier:     2,
			Jitter:         0.1,
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes TOML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed by the TOML types.
func (c Config) Validate() error {
	var errs []string
	if c.Timeout.Connect <= 0 || c.Timeout.Read <= 0 {
		errs = append(errs, "timeout.connect and timeout.read must be positive")
	}
	switch c.Cache.Backend {
	case "", BackendNone, BackendMemory:
	case BackendFile:
		if c.Cache.Directory == "" {
			errs = append(errs, "cache.directory is required for the file backend")
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, "cache.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend))
	}
	if _, err := parseFailurePolicy(c.Cache.FailurePolicy); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Cache.FallbackDuration <= 0 {
		errs = append(errs, "cache.fallback_duration must be positive")
	}
	if c.Retries < 0 {
		errs = append(errs, "retries must be non-negative")
	}

	if len(errs) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "invalid configuration",
			Cause:   fmt.Errorf("%s", strings.Join(errs, "; ")),
		}
	}
	return nil
}

func parseFailurePolicy(s string) (CacheFailurePolicy, error) {
	switch strings.ToLower(s) {
	case "", "open":
		return CacheFailOpen, nil
	case "closed":
		return CacheFailClosed, nil
	}
	return CacheFailOpen, fmt.Errorf("unknown cache.failure_policy %q", s)
}

// Options converts c into session options. Backends that need I/O to set
// up are opened here; the returned session owns them.
func (c Config) Options(ctx context.Context) ([]Option, error) {
	policy, err := parseFailurePolicy(c.Cache.FailurePolicy)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithTimeout(time.Duration(c.Timeout.Connect), time.Duration(c.Timeout.Read)),
		WithHeaders(c.Headers),
		WithFallbackCacheDuration(time.Duration(c.Cache.FallbackDuration)),
		WithCacheFailurePolicy(policy),
		WithRetryConfig(RetryConfig{
			MaxRetries:     c.Retries,
			InitialBackoff: time.Duration(c.Retry.InitialBackoff),
			MaxBackoff:     time.Duration(c.Retry.MaxBackoff),
			Multiplier:     c.Retry.Multiplier,
			Jitter:         c.Retry.Jitter,
			Decorrelated:   c.Retry.Decorrelated,
		}),
	}
	if len(c.UserAgent) > 0 {
		opts = append(opts, WithUserAgent(c.UserAgent...))
	}
	if len(c.Cache.VaryHeaders) > 0 {
		opts = append(opts, WithCacheVaryHeaders(c.Cache.VaryHeaders...))
	}

	if c.CircuitBreaker.Disabled {
		opts = append(opts, WithoutCircuitBreaker())
	} else {
		opts = append(opts, WithCircuitBreaker(CircuitBreakerConfig{
			Name:             c.CircuitBreaker.Name,
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(c.CircuitBreaker.RecoveryTimeout),
			SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		}))
	}

	switch c.Cache.Backend {
	case BackendMemory:
		opts = append(opts, WithMemoryCache(), WithCacheKeyPrefix(c.Cache.KeyPrefix))
	case BackendFile:
		backend, err := NewFileBackend(c.Cache.Directory)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(backend), WithCacheKeyPrefix(c.Cache.KeyPrefix))
	case BackendRedis:
		backend, err := NewRedisBackendFromConfig(ctx, RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		}, c.Cache.KeyPrefix)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(backend))
	}
	return opts, nil
}

// NewFromConfig builds a session from c. extra options are applied after
// those derived from c.
func NewFromConfig(ctx context.Context, c Config, extra ...Option) (*Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts, err := c.Options(ctx)
	if err != nil {
		return nil, err
	}
	s := New(append(opts, extra...)...)
	if !s.IsValid() {
		_ = s.Close()
		return nil, s.ValidationError()
	}
	return s, nil
}
