package httpsession

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheDirectives holds the Cache-Control directives the session acts on.
type cacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
	Public  bool
	Private bool
}

// parseCacheControl parses Cache-Control header values into directives.
// Unknown directives and malformed values are ignored.
func parseCacheControl(values ...string) cacheDirectives {
	var d cacheDirectives
	for _, header := range values {
		for _, part := range strings.Split(header, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}

			key, value, hasValue := strings.Cut(part, "=")
			key = strings.TrimSpace(key)
			if hasValue {
				value = strings.Trim(strings.TrimSpace(value), "\"")
				if key == "max-age" {
					if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
						maxAge := time.Duration(seconds) * time.Second
						d.MaxAge = &maxAge
					}
				}
				continue
			}

			switch key {
			case "no-store":
				d.NoStore = true
			case "no-cache":
				d.NoCache = true
			case "public":
				d.Public = true
			case "private":
				d.Private = true
			}
		}
	}
	return d
}

var cacheableStatus = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusPermanentRedirect:    true,
}

// isCacheableRequest reports whether a request may be answered from or
// stored into the cache.
func isCacheableRequest(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.Header.Get("Range") != "" {
		return false
	}
	d := parseCacheControl(req.Header.Values("Cache-Control")...)
	return !d.NoStore && !d.NoCache
}

// isCacheableResponse checks the origin's headers before any heuristic is
// applied.
func isCacheableResponse(resp *http.Response) bool {
	if !cacheableStatus[resp.StatusCode] {
		return false
	}
	d := parseCacheControl(resp.Header.Values("Cache-Control")...)
	if d.NoStore || d.NoCache {
		return false
	}
	for _, v := range resp.Header.Values("Vary") {
		if strings.TrimSpace(v) == "*" {
			return false
		}
	}
	return true
}

// freshUntil returns the absolute expiry of a response received at
// receivedAt. A synthesized decision wins, then max-age, then Expires.
func freshUntil(h http.Header, decision Decision, receivedAt time.Time) (time.Time, bool) {
	if decision.Override {
		return decision.ExpiresAt, true
	}

	d := parseCacheControl(h.Values("Cache-Control")...)
	if d.MaxAge != nil {
		return receivedAt.Add(*d.MaxAge), true
	}

	if expires := h.Get("Expires"); expires != "" {
		if t, err := ParseHTTPDate(expires); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
