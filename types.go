package httpsession

import (
	"net/http"
	"time"
)

// Middleware wraps the network round trip of a session. Middleware runs
// outermost first and only on the network path; cache hits skip it.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport interface seen by middleware.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option configures a Session.
type Option func(*Session)

// Timeout holds the session-level connect and read timeouts.
type Timeout struct {
	// Connect bounds dialing and the TLS handshake.
	Connect time.Duration
	// Read bounds the wait for response headers once the request is sent,
	// and each read of the body after that.
	Read time.Duration
}

// Total returns the bound on a whole call made through a client supplied
// with WithHTTPClient.
func (t Timeout) Total() time.Duration {
	return t.Connect + t.Read
}

// DefaultTimeout is applied when no timeout is configured.
var DefaultTimeout = Timeout{Connect: 500 * time.Millisecond, Read: 3 * time.Second}

// DefaultFallbackCacheDuration is the heuristic freshness lifetime given to
// responses without a usable caching directive.
const DefaultFallbackCacheDuration = 5 * time.Second

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// Name labels log lines and the state gauge. Defaults to "default".
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial request.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of trial requests allowed, and needed to
	// close the circuit, while half-open.
	SuccessThreshold int
}

// CacheFailurePolicy controls what a session does when its cache backend fails.
type CacheFailurePolicy int

const (
	// CacheFailOpen logs the failure and serves the request live, uncached.
	CacheFailOpen CacheFailurePolicy = iota
	// CacheFailClosed returns a KindCacheBackend error.
	CacheFailClosed
)

// String implements fmt.Stringer.
func (p CacheFailurePolicy) String() string {
	if p == CacheFailClosed {
		return "closed"
	}
	return "open"
}

// CacheKeyFunc derives a cache key from a request.
type CacheKeyFunc func(*http.Request) string

type contextKey string

const cacheControlKey contextKey = "httpsession_cache_control"

// CacheControl overrides caching for a single request through its context.
type CacheControl struct {
	Enabled bool
	// Fallback replaces the session's fallback cache duration when positive.
	Fallback time.Duration
}
