package httpsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canonical/httpsession/internal/backoff"
)

// Session is an HTTP client with session-wide timeouts, default headers,
// optional response caching, a circuit breaker and per-domain metrics.
// It is safe for concurrent use.
type Session struct {
	httpClient  *http.Client
	ownsClient  bool
	timeout     Timeout
	callTimeout time.Duration
	headers    http.Header
	userAgent  []string
	middleware []Middleware

	cache          *cacheLayer
	cacheBackend   Backend
	cacheFallback  time.Duration
	cacheVary      []string
	cacheKeyFunc   CacheKeyFunc
	cacheKeyPrefix string
	cachePolicy    CacheFailurePolicy

	breakerConfig *CircuitBreakerConfig
	breaker       *circuitBreaker

	retry   RetryConfig
	backoff *backoff.Calculator

	metrics      Recorder
	metricsErr   error
	logger       Logger
	now          func() time.Time
	requestIDGen func() string

	optionErrors    []string
	validationError error
}

// New constructs a Session from options. Invalid configuration does not
// panic: it is reported by IsValid and ValidationError, and every call made
// through the session fails with it.
func New(options ...Option) *Session {
	s := &Session{
		timeout:       DefaultTimeout,
		headers:       make(http.Header),
		cacheFallback: DefaultFallbackCacheDuration,
		cachePolicy:   CacheFailOpen,
		breakerConfig: &CircuitBreakerConfig{},
		metrics:       NoopRecorder{},
		logger:        discardLogger(),
		now:           time.Now,
		requestIDGen:  DefaultRequestIDGenerator,
	}

	for _, option := range options {
		option(s)
	}

	if err := s.ValidateConfiguration(); err != nil {
		s.validationError = err
	}
	s.build()
	return s
}

// build derives the runtime collaborators from the configuration.
func (s *Session) build() {
	if s.metricsErr != nil {
		s.logger.Warn("metrics disabled", "error", s.metricsErr)
	}
	if s.httpClient == nil {
		s.httpClient = newHTTPClient(s.timeout)
		s.ownsClient = true
	} else if total := s.timeout.Total(); s.httpClient.Timeout == 0 || s.httpClient.Timeout > total {
		s.callTimeout = total
	}

	if ua := userAgent(s.userAgent); ua != "" {
		s.headers.Set("User-Agent", ua)
	}

	if s.cacheBackend != nil {
		s.cache = &cacheLayer{
			backend:  s.cacheBackend,
			keyFunc:  s.cacheKeyFunc,
			prefix:   s.cacheKeyPrefix,
			vary:     s.cacheVary,
			fallback: s.cacheFallback,
			policy:   s.cachePolicy,
			maxBody:  maxCacheBodySize,
		}
	}

	if s.breakerConfig != nil {
		s.breaker = newCircuitBreaker(*s.breakerConfig, s.onBreakerStateChange)
		s.recordBreakerState(s.breaker.name, StateClosed)
	}

	s.backoff = s.retry.calculator()
}

// IsValid reports whether configuration validation passed at construction.
func (s *Session) IsValid() bool {
	return s.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (s *Session) ValidationError() error {
	return s.validationError
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	return s.Request(ctx, http.MethodGet, url, nil, nil)
}

// Head issues a HEAD request.
func (s *Session) Head(ctx context.Context, url string) (*http.Response, error) {
	return s.Request(ctx, http.MethodHead, url, nil, nil)
}

// Post issues a POST request with the given content type.
func (s *Session) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return s.Request(ctx, http.MethodPost, url, body, header)
}

// Request issues a request with per-call headers, which take precedence
// over the session defaults.
func (s *Session) Request(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &Error{
			Kind:    KindValidation,
			Message: "invalid request",
			Method:  method,
			URL:     url,
			Cause:   err,
		}
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return s.Do(req)
}

// Do sends req. The caller's request is not modified. A non-nil error is
// always an *Error; 4xx and 5xx responses are returned without error.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s.validationError != nil {
		return nil, s.validationError
	}
	if s.callTimeout == 0 {
		return s.do(req)
	}

	// Caller-supplied clients lack the per-read deadline of the session
	// transport, so the whole call, body included, is bounded instead.
	ctx, cancel := context.WithTimeout(req.Context(), s.callTimeout)
	resp, err := s.do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (s *Session) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	requestID := s.requestIDGen()
	req = s.prepare(req)
	ctx := req.Context()
	outcome := Outcome{Domain: req.URL.Host, Cache: CacheBypass}

	s.logger.Debug("sending request", "request_id", requestID, "method", req.Method, "url", req.URL.String())

	fallback, cacheable := s.cacheEligibility(req)
	var key string
	if cacheable {
		key = s.cache.key(req)
		entry, err := s.cache.lookup(ctx, key, req, s.now())
		switch {
		case err != nil:
			outcome.CacheError = true
			s.logger.Warn("cache lookup failed", "request_id", requestID, "key", key, "policy", s.cache.policy, "error", err)
			if s.cache.policy == CacheFailClosed {
				outcome.Elapsed = time.Since(start)
				s.record(outcome)
				return nil, s.newError(KindCacheBackend, "cache lookup failed", err, req, requestID)
			}
			cacheable = false
		case entry != nil:
			resp := entry.Response
			resp.Header.Set(CacheStatusHeader, string(CacheHit))
			outcome.Cache = CacheHit
			outcome.StatusCode = resp.StatusCode
			outcome.Elapsed = time.Since(start)
			s.logger.Debug("cache hit", "request_id", requestID, "key", key, "expires_at", entry.ExpiresAt)
			s.record(outcome)
			return resp, nil
		default:
			outcome.Cache = CacheMiss
			s.logger.Debug("cache miss", "request_id", requestID, "key", key)
		}
	}

	resp, retries, err := s.roundTrip(req, requestID)
	outcome.Retries = retries
	if err != nil {
		return nil, s.fail(outcome, start, err, req, requestID)
	}
	outcome.StatusCode = resp.StatusCode

	if cacheable {
		resp.Header.Set(CacheStatusHeader, string(CacheMiss))
		if err := s.storeResponse(ctx, key, resp, fallback, requestID); err != nil {
			var readErr *bodyReadError
			if errors.As(err, &readErr) {
				resp.Body.Close()
				outcome.StatusCode = 0
				return nil, s.fail(outcome, start, readErr.err, req, requestID)
			}
			outcome.CacheError = true
			s.logger.Warn("cache store failed", "request_id", requestID, "key", key, "policy", s.cache.policy, "error", err)
			if s.cache.policy == CacheFailClosed {
				drain(resp)
				outcome.Elapsed = time.Since(start)
				s.record(outcome)
				return nil, s.newError(KindCacheBackend, "cache store failed", err, req, requestID)
			}
		}
	}

	outcome.Elapsed = time.Since(start)
	s.record(outcome)
	s.logger.Debug("request complete", "request_id", requestID, "status", resp.StatusCode, "elapsed", outcome.Elapsed)
	return resp, nil
}

// fail records a call that ended without a usable response and builds the
// error returned for it.
func (s *Session) fail(outcome Outcome, start time.Time, cause error, req *http.Request, requestID string) error {
	kind := classifyTransportError(cause)
	outcome.Failure = failureKindOf(kind)
	outcome.Elapsed = time.Since(start)
	s.record(outcome)
	if kind == KindCanceled {
		s.logger.Debug("request canceled", "request_id", requestID, "url", req.URL.String())
	} else {
		s.logger.Warn("request failed", "request_id", requestID, "url", req.URL.String(), "kind", kind, "error", cause)
	}
	return s.newError(kind, failureMessage(kind), cause, req, requestID)
}

// prepare clones req and merges the session's default headers into it.
func (s *Session) prepare(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	mergeHeaders(r.Header, s.headers)
	return r
}

// cacheEligibility reports whether req takes part in caching and with which
// fallback duration.
func (s *Session) cacheEligibility(req *http.Request) (time.Duration, bool) {
	if s.cache == nil || !isCacheableRequest(req) {
		return 0, false
	}
	fallback := s.cache.fallback
	if cc, ok := cacheControlFromContext(req.Context()); ok {
		if !cc.Enabled {
			return 0, false
		}
		if cc.Fallback > 0 {
			fallback = cc.Fallback
		}
	}
	return fallback, true
}

// storeResponse applies the expiry heuristic to resp and stores it when it
// is still fresh. The heuristic's headers stay on the returned response.
func (s *Session) storeResponse(ctx context.Context, key string, resp *http.Response, fallback time.Duration, requestID string) error {
	if !isCacheableResponse(resp) {
		return nil
	}

	now := s.now()
	decision := Decide(NewHeaderSet(resp.Header), fallback, now)
	if decision.Override {
		decision.Apply(resp.Header)
		s.logger.Debug("applied fallback cache policy", "request_id", requestID, "expires", decision.Expires)
	}

	expiresAt, ok := freshUntil(resp.Header, decision, now)
	if !ok || !expiresAt.After(now) {
		return nil
	}

	stored, err := s.cache.store(ctx, key, resp, now, expiresAt)
	if err != nil {
		return err
	}
	if stored {
		s.logger.Debug("response cached", "request_id", requestID, "key", key, "expires_at", expiresAt)
	}
	return nil
}

// ClearCache drops every entry of the session's cache backend.
func (s *Session) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return errCacheDisabled
	}
	clearer, ok := s.cache.backend.(Clearer)
	if !ok {
		return fmt.Errorf("httpsession: cache backend %T cannot be cleared", s.cache.backend)
	}
	return clearer.Clear(ctx)
}

// CircuitState returns the state of the session's circuit breaker. A
// session without a breaker is always closed.
func (s *Session) CircuitState() CircuitState {
	if s.breaker == nil {
		return StateClosed
	}
	return s.breaker.State()
}

// Close releases the cache backend and idle connections.
func (s *Session) Close() error {
	if s.ownsClient {
		s.httpClient.CloseIdleConnections()
	}
	if s.cache != nil {
		return s.cache.backend.Close()
	}
	return nil
}

func (s *Session) onBreakerStateChange(name string, from, to CircuitState) {
	s.logger.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
	s.recordBreakerState(name, to)
}

// record hands o to the recorder. Recorder panics never reach the caller.
func (s *Session) record(o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("metrics recorder panicked", "domain", o.Domain, "panic", r)
		}
	}()
	s.metrics.Record(o)
}

func (s *Session) recordBreakerState(name string, state CircuitState) {
	sr, ok := s.metrics.(BreakerStateRecorder)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("metrics recorder panicked", "breaker", name, "panic", r)
		}
	}()
	sr.RecordCircuitBreakerState(name, state)
}

func failureKindOf(kind Kind) FailureKind {
	switch kind {
	case KindTimeout:
		return FailureTimeout
	case KindCircuitOpen:
		return FailureCircuitOpen
	case KindCanceled:
		return FailureCanceled
	}
	return FailureConnection
}

func failureMessage(kind Kind) string {
	switch kind {
	case KindTimeout:
		return "request timed out"
	case KindCircuitOpen:
		return "circuit breaker is open"
	case KindCanceled:
		return "request canceled"
	}
	return "connection failed"
}
