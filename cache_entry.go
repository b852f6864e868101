package httpsession

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// CacheStatusHeader is set on every response of a cache-enabled session
	// for an eligible request: "hit" or "miss".
	CacheStatusHeader = "X-Cache-Status"

	headerStoredAt  = "X-Httpsession-Stored-At"
	headerExpiresAt = "X-Httpsession-Expires-At"

	// maxCacheBodySize bounds the body of a response that will be stored.
	maxCacheBodySize = 10 * 1024 * 1024
)

// cacheEntry is a response restored from a backend.
type cacheEntry struct {
	Response  *http.Response
	StoredAt  time.Time
	ExpiresAt time.Time
}

// freshAt reports whether the entry may still be served at now.
func (e *cacheEntry) freshAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// encodeEntry serializes resp with body in HTTP/1.1 wire format, carrying
// the storage metadata as private headers.
func encodeEntry(resp *http.Response, body []byte, storedAt, expiresAt time.Time) ([]byte, error) {
	r := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Del(CacheStatusHeader)
	r.Header.Set(headerStoredAt, storedAt.UTC().Format(time.RFC3339Nano))
	r.Header.Set(headerExpiresAt, expiresAt.UTC().Format(time.RFC3339Nano))

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeEntry restores a response stored by encodeEntry. req becomes the
// response's Request and decides whether a body is read.
func decodeEntry(data []byte, req *http.Request) (*cacheEntry, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("decode cache entry body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	storedAt, err := time.Parse(time.RFC3339Nano, resp.Header.Get(headerStoredAt))
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: stored-at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, resp.Header.Get(headerExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("decode cache entry: expires-at: %w", err)
	}
	resp.Header.Del(headerStoredAt)
	resp.Header.Del(headerExpiresAt)

	return &cacheEntry{Response: resp, StoredAt: storedAt, ExpiresAt: expiresAt}, nil
}
