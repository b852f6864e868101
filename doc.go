// Package httpsession provides an outbound HTTP session with sensible
// defaults for services fetching upstream feeds and APIs:
//
//   - Connect and read timeouts applied to every call (default 0.5s / 3s)
//   - Session-wide default headers and a composed User-Agent
//   - Optional response caching on a pluggable Backend (memory, file, redis)
//   - A fallback expiry for cacheable responses whose origin sent no usable
//     caching directive, marked with a 110 Warning header
//   - A circuit breaker that fails fast after consecutive upstream failures
//   - Prometheus metrics labelled by destination domain and status code
//   - Typed errors: timeout, connection, circuit open, cache backend
//
// Typical usage:
//
//	session := httpsession.New(
//	    httpsession.WithTimeout(500*time.Millisecond, 3*time.Second),
//	    httpsession.WithUserAgent("snapcraft.io", "feeds"),
//	    httpsession.WithFileCache("/var/cache/feeds"),
//	    httpsession.WithFallbackCacheDuration(5*time.Second),
//	    httpsession.WithMetrics(prometheus.DefaultRegisterer),
//	)
//	defer session.Close()
//
//	resp, err := session.Get(ctx, "https://ubuntu.com/blog/feed")
//	switch {
//	case errors.Is(err, httpsession.ErrTimeout):
//	case errors.Is(err, httpsession.ErrCircuitOpen):
//	}
//
// 4xx and 5xx responses are returned as responses; use CheckStatus to turn
// them into errors. Concurrent misses for the same URL are not merged: each
// caller fetches and the last store wins.
package httpsession
