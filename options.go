package httpsession

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// WithTimeout sets the connect and read timeouts applied to every call.
func WithTimeout(connect, read time.Duration) Option {
	return func(s *Session) {
		s.timeout = Timeout{Connect: connect, Read: read}
	}
}

// WithHeaders adds default headers sent with every call. Headers set on
// an individual request take precedence.
func WithHeaders(headers map[string]string) Option {
	return func(s *Session) {
		for name, value := range headers {
			s.headers.Set(name, value)
		}
	}
}

// WithHeader adds a single default header.
func WithHeader(name, value string) Option {
	return func(s *Session) {
		s.headers.Set(name, value)
	}
}

// WithUserAgent appends components to the User-Agent sent by default.
// Components are joined with a single space.
func WithUserAgent(components ...string) Option {
	return func(s *Session) {
		s.userAgent = append(s.userAgent, components...)
	}
}

// WithCache enables response caching on backend.
func WithCache(backend Backend) Option {
	return func(s *Session) {
		s.cacheBackend = backend
	}
}

// WithMemoryCache enables caching in process memory.
func WithMemoryCache() Option {
	return func(s *Session) {
		s.cacheBackend = NewMemoryBackend()
	}
}

// WithFileCache enables caching in a directory tree rooted at dir.
func WithFileCache(dir string) Option {
	return func(s *Session) {
		backend, err := NewFileBackend(dir)
		if err != nil {
			s.optionErrors = append(s.optionErrors, err.Error())
			return
		}
		s.cacheBackend = backend
	}
}

// WithRedisCache enables caching in redis through client, with keys
// namespaced by prefix.
func WithRedisCache(client redis.UniversalClient, prefix string) Option {
	return func(s *Session) {
		if client == nil {
			s.optionErrors = append(s.optionErrors, "redis client cannot be nil")
			return
		}
		s.cacheBackend = NewRedisBackend(client, prefix)
	}
}

// WithFallbackCacheDuration sets how long responses without a usable
// caching directive are kept.
func WithFallbackCacheDuration(d time.Duration) Option {
	return func(s *Session) {
		s.cacheFallback = d
	}
}

// WithCacheVaryHeaders adds request headers to the default cache key.
func WithCacheVaryHeaders(names ...string) Option {
	return func(s *Session) {
		s.cacheVary = append(s.cacheVary, names...)
	}
}

// WithCacheKeyFunc replaces the default cache key derivation.
func WithCacheKeyFunc(fn CacheKeyFunc) Option {
	return func(s *Session) {
		s.cacheKeyFunc = fn
	}
}

// WithCacheKeyPrefix prefixes every cache key.
func WithCacheKeyPrefix(prefix string) Option {
	return func(s *Session) {
		s.cacheKeyPrefix = prefix
	}
}

// WithCacheFailurePolicy sets how cache backend failures are handled.
func WithCacheFailurePolicy(policy CacheFailurePolicy) Option {
	return func(s *Session) {
		s.cachePolicy = policy
	}
}

// WithCircuitBreaker sets the circuit breaker configuration. Zero fields
// take the defaults.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(s *Session) {
		s.breakerConfig = &config
	}
}

// WithoutCircuitBreaker disables the circuit breaker.
func WithoutCircuitBreaker() Option {
	return func(s *Session) {
		s.breakerConfig = nil
	}
}

// WithRetries retries connection failures of idempotent requests up to n
// times with the default backoff.
func WithRetries(n int) Option {
	return func(s *Session) {
		s.retry.MaxRetries = n
	}
}

// WithRetryConfig sets the full retry configuration.
func WithRetryConfig(config RetryConfig) Option {
	return func(s *Session) {
		s.retry = config
	}
}

// WithMetrics exports Prometheus metrics on registry. A nil registry means
// the default registerer. When the metrics cannot be registered the session
// logs a warning and records nothing.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(s *Session) {
		mc, err := NewMetricsCollector(registry)
		if err != nil {
			s.metrics = NoopRecorder{}
			s.metricsErr = err
			return
		}
		s.metrics = mc
		s.metricsErr = nil
	}
}

// WithMetricsRecorder sets the recorder outcomes are reported to.
func WithMetricsRecorder(recorder Recorder) Option {
	return func(s *Session) {
		s.metrics = recorder
	}
}

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMiddleware appends middleware to the network path.
func WithMiddleware(middleware ...Middleware) Option {
	return func(s *Session) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// WithHTTPClient sets the underlying client. Its transport is used as is
// and the client is not modified. Unless client.Timeout is already shorter,
// each call, body reads included, is bounded by Timeout.Total.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.httpClient = client
	}
}

// WithClock sets the time source used for cache freshness and the expiry
// heuristic.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithRequestIDGenerator sets the function generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(s *Session) {
		s.requestIDGen = gen
	}
}

// ValidateConfiguration checks the session configuration.
func (s *Session) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, s.optionErrors...)
	errs = append(errs, s.validateTimeout()...)
	errs = append(errs, s.validateCache()...)
	errs = append(errs, s.validateCircuitBreaker()...)
	errs = append(errs, s.validateRetry()...)
	errs = append(errs, s.validateCollaborators()...)

	if len(errs) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("%s", strings.Join(errs, "; ")),
		}
	}
	return nil
}

func (s *Session) validateTimeout() []string {
	var errs []string
	if s.timeout.Connect <= 0 {
		errs = append(errs, "connect timeout must be positive")
	}
	if s.timeout.Read <= 0 {
		errs = append(errs, "read timeout must be positive")
	}
	if s.timeout.Total() > 10*time.Minute {
		errs = append(errs, "timeout > 10m may cause requests to hang for too long")
	}
	return errs
}

func (s *Session) validateCache() []string {
	var errs []string
	if s.cacheFallback <= 0 {
		errs = append(errs, "fallback cache duration must be positive")
	}
	if s.cacheFallback > 24*time.Hour {
		errs = append(errs, "fallback cache duration > 24h may cause stale data issues")
	}
	if s.cachePolicy != CacheFailOpen && s.cachePolicy != CacheFailClosed {
		errs = append(errs, fmt.Sprintf("unknown cache failure policy %d", s.cachePolicy))
	}
	return errs
}

func (s *Session) validateCircuitBreaker() []string {
	var errs []string
	if s.breakerConfig == nil {
		return nil
	}
	if s.breakerConfig.FailureThreshold < 0 {
		errs = append(errs, "circuitBreaker FailureThreshold must be positive")
	}
	if s.breakerConfig.RecoveryTimeout < 0 {
		errs = append(errs, "circuitBreaker RecoveryTimeout must be positive")
	}
	if s.breakerConfig.SuccessThreshold < 0 {
		errs = append(errs, "circuitBreaker SuccessThreshold must be positive")
	}
	return errs
}

func (s *Session) validateRetry() []string {
	var errs []string
	if s.retry.MaxRetries < 0 {
		errs = append(errs, "retries must be non-negative")
	}
	if s.retry.MaxRetries > 10 {
		errs = append(errs, "retries > 10 may cause excessive load on failing upstreams")
	}
	if s.retry.Jitter < 0 || s.retry.Jitter > 1 {
		errs = append(errs, "retry jitter must be between 0 and 1")
	}
	if s.retry.MaxBackoff > 0 && s.retry.MaxBackoff < s.retry.InitialBackoff {
		errs = append(errs, "max backoff must be greater than or equal to initial backoff")
	}
	return errs
}

func (s *Session) validateCollaborators() []string {
	var errs []string
	for i, mw := range s.middleware {
		if mw == nil {
			errs = append(errs, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}
	if s.metrics == nil {
		errs = append(errs, "metrics recorder cannot be nil")
	}
	if s.logger == nil {
		errs = append(errs, "logger cannot be nil")
	}
	if s.now == nil {
		errs = append(errs, "clock cannot be nil")
	}
	if s.requestIDGen == nil {
		errs = append(errs, "request ID generator cannot be nil")
	}
	return errs
}
