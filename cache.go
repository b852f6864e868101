package httpsession

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"net/http"
	"time"
)

// Backend stores serialized responses. Implementations must be safe for
// concurrent use. A miss is reported as (nil, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Clearer is implemented by backends that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) error
}

// cacheLayer is the optional caching capability of a Session.
type cacheLayer struct {
	backend  Backend
	keyFunc  CacheKeyFunc
	prefix   string
	vary     []string
	fallback time.Duration
	policy   CacheFailurePolicy
	maxBody  int64
}

// key returns the storage key of req.
func (l *cacheLayer) key(req *http.Request) string {
	if l.keyFunc != nil {
		return l.prefix + l.keyFunc(req)
	}
	return l.prefix + fingerprint(req, l.vary)
}

// fingerprint hashes the method, the URL and the given request headers.
func fingerprint(req *http.Request, vary []string) string {
	h := sha256.New()
	io.WriteString(h, req.Method)
	io.WriteString(h, "\n")
	if req.URL != nil {
		io.WriteString(h, req.URL.String())
	}
	for _, name := range vary {
		io.WriteString(h, "\n")
		io.WriteString(h, http.CanonicalHeaderKey(name))
		io.WriteString(h, ":")
		for _, v := range req.Header.Values(name) {
			io.WriteString(h, v)
			io.WriteString(h, ",")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// lookup returns the fresh entry stored under key, or nil. Stale and
// undecodable entries are deleted.
func (l *cacheLayer) lookup(ctx context.Context, key string, req *http.Request, now time.Time) (*cacheEntry, error) {
	data, ok, err := l.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	entry, err := decodeEntry(data, req)
	if err != nil {
		_ = l.backend.Delete(ctx, key)
		return nil, nil
	}
	if !entry.freshAt(now) {
		if err := l.backend.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return entry, nil
}

// store buffers the body of resp and writes it under key until expiresAt.
// resp.Body stays readable whether or not the response was stored.
func (l *cacheLayer) store(ctx context.Context, key string, resp *http.Response, storedAt, expiresAt time.Time) (bool, error) {
	body, complete, err := bufferBody(resp, l.maxBody)
	if err != nil {
		return false, &bodyReadError{err: err}
	}
	if !complete {
		return false, nil
	}

	data, err := encodeEntry(resp, body, storedAt, expiresAt)
	if err != nil {
		return false, err
	}
	if err := l.backend.Set(ctx, key, data, backendTTL(expiresAt.Sub(storedAt))); err != nil {
		return false, err
	}
	return true, nil
}

// bufferBody reads up to limit bytes of resp.Body. When the body fits it
// is replaced by an in-memory reader and complete is true; otherwise the
// consumed prefix is stitched back in front of the unread remainder.
func bufferBody(resp *http.Response, limit int64) (body []byte, complete bool, err error) {
	if resp.Body == nil || resp.Body == http.NoBody {
		resp.Body = http.NoBody
		return nil, true, nil
	}

	original := resp.Body
	body, err = io.ReadAll(io.LimitReader(original, limit+1))
	if err != nil || int64(len(body)) > limit {
		resp.Body = readCloser{
			Reader: io.MultiReader(bytes.NewReader(body), original),
			Closer: original,
		}
		return nil, false, err
	}

	_ = original.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, true, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// bodyReadError reports that the upstream body failed while being
// buffered for the cache. It is a transport failure, not a backend one.
type bodyReadError struct {
	err error
}

func (e *bodyReadError) Error() string { return "reading response body: " + e.err.Error() }

func (e *bodyReadError) Unwrap() error { return e.err }

// backendTTL rounds d up to whole seconds with a floor of one second, the
// granularity remote stores expire keys at.
func backendTTL(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// cacheControlFromContext returns the per-request override, if any.
func cacheControlFromContext(ctx context.Context) (*CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(*CacheControl)
	return cc, ok && cc != nil
}

// WithContextCacheDisabled bypasses the cache for requests made with ctx.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheEnabled undoes WithContextCacheDisabled for a derived
// context. It cannot make an ineligible request cacheable.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheFallback overrides the fallback cache duration for
// requests made with ctx.
func WithContextCacheFallback(ctx context.Context, fallback time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, Fallback: fallback})
}

// errCacheDisabled is reported to callers of Session.ClearCache when the
// session has no cache.
var errCacheDisabled = errors.New("httpsession: cache not enabled")
