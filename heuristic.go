package httpsession

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WarningTemplate is the Warning header value attached to responses whose
// freshness was synthesized by the heuristic. The duration is rendered with
// time.Duration.String, so five seconds reads "5s".
const WarningTemplate = "110 - Automatically cached for %s. Response might be stale"

// HeaderSet is an immutable, case-insensitive view of response headers.
type HeaderSet struct {
	values map[string][]string
}

// NewHeaderSet copies h into a HeaderSet keyed by lower-cased names.
func NewHeaderSet(h http.Header) HeaderSet {
	values := make(map[string][]string, len(h))
	for name, vs := range h {
		key := strings.ToLower(name)
		values[key] = append(values[key], vs...)
	}
	return HeaderSet{values: values}
}

// HeaderSetFromMap builds a HeaderSet from single-valued headers.
func HeaderSetFromMap(m map[string]string) HeaderSet {
	values := make(map[string][]string, len(m))
	for name, v := range m {
		key := strings.ToLower(name)
		values[key] = append(values[key], v)
	}
	return HeaderSet{values: values}
}

// Has reports whether the header is present.
func (h HeaderSet) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Get returns all values of the header joined with ", ".
func (h HeaderSet) Get(name string) string {
	return strings.Join(h.values[strings.ToLower(name)], ", ")
}

// Values returns a copy of the values of the header.
func (h HeaderSet) Values(name string) []string {
	vs := h.values[strings.ToLower(name)]
	if vs == nil {
		return nil
	}
	return append([]string(nil), vs...)
}

// containsToken reports whether any value of the header contains token,
// compared case-insensitively.
func (h HeaderSet) containsToken(name, token string) bool {
	for _, v := range h.values[strings.ToLower(name)] {
		if strings.Contains(strings.ToLower(v), token) {
			return true
		}
	}
	return false
}

// HasCacheDirective reports whether the origin already expressed a caching
// policy: an Expires header, a Pragma containing no-cache, or any
// Cache-Control header.
func HasCacheDirective(h HeaderSet) bool {
	return h.Has("Expires") ||
		h.containsToken("Pragma", "no-cache") ||
		h.Has("Cache-Control")
}

// Decision is the outcome of the expiry heuristic. The zero value means the
// origin's policy is kept.
type Decision struct {
	Override  bool
	ExpiresAt time.Time
	Expires   string
	Warning   string
}

// NoOverride reports whether the origin's policy is kept.
func (d Decision) NoOverride() bool {
	return !d.Override
}

// Apply writes the synthesized policy into h. It sets Expires and
// Cache-Control and appends the Warning. A NoOverride decision leaves h
// untouched.
func (d Decision) Apply(h http.Header) {
	if !d.Override {
		return
	}
	h.Set("Expires", d.Expires)
	h.Set("Cache-Control", "public")
	h.Add("Warning", d.Warning)
}

// Decide chooses whether to synthesize freshness for a response. The origin
// is authoritative when it sent Pragma: no-cache or a Cache-Control carrying
// max-age; anything else, including a bare Cache-Control: public, is
// cached for fallback from now.
func Decide(h HeaderSet, fallback time.Duration, now time.Time) Decision {
	if h.containsToken("Pragma", "no-cache") || h.containsToken("Cache-Control", "max-age") {
		return Decision{}
	}

	expiresAt := ExpireAfter(fallback, now)
	return Decision{
		Override:  true,
		ExpiresAt: expiresAt,
		Expires:   FormatHTTPDate(expiresAt),
		Warning:   fmt.Sprintf(WarningTemplate, fallback),
	}
}

// ExpireAfter returns date+delta; a zero date means now.
func ExpireAfter(delta time.Duration, date time.Time) time.Time {
	if date.IsZero() {
		date = time.Now()
	}
	return date.Add(delta)
}

// FormatHTTPDate renders t as an IMF-fixdate in GMT, e.g.
// "Thu, 01 Dec 1994 16:00:00 GMT". Sub-second precision is dropped.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseHTTPDate parses any of the three date formats HTTP/1.1 allows.
func ParseHTTPDate(s string) (time.Time, error) {
	return http.ParseTime(strings.TrimSpace(s))
}
