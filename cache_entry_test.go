package httpsession

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestEntryCodec(t *testing.T) {
	stored := time.Date(2024, 1, 15, 10, 0, 0, 123456789, time.UTC)
	expires := stored.Add(5 * time.Second)

	resp := &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/2.0",
		ProtoMajor: 2,
		Header: http.Header{
			"Content-Type":    {"application/json"},
			"Warning":         {"199 - one", "199 - two"},
			CacheStatusHeader: {"miss"},
		},
	}
	body := []byte(`{"entries":[1,2,3]}`)

	data, err := encodeEntry(resp, body, stored, expires)
	if err != nil {
		t.Fatalf("encodeEntry: %v", err)
	}
	if !strings.HasPrefix(string(data), "HTTP/1.1 200 OK\r\n") {
		t.Errorf("entry is not HTTP/1.1 wire format: %q", data[:20])
	}
	if strings.Contains(string(data), CacheStatusHeader) {
		t.Error("cache status header must not be stored")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/feed", nil)
	entry, err := decodeEntry(data, req)
	if err != nil {
		t.Fatalf("decodeEntry: %v", err)
	}
	if !entry.StoredAt.Equal(stored) || !entry.ExpiresAt.Equal(expires) {
		t.Errorf("timestamps = %v / %v", entry.StoredAt, entry.ExpiresAt)
	}
	r := entry.Response
	if r.StatusCode != http.StatusOK || r.Request != req {
		t.Errorf("response = %d, request %p", r.StatusCode, r.Request)
	}
	if got := r.Header.Values("Warning"); len(got) != 2 {
		t.Errorf("Warning = %v", got)
	}
	if r.Header.Get(headerStoredAt) != "" || r.Header.Get(headerExpiresAt) != "" {
		t.Error("private headers leaked into the restored response")
	}
	got, _ := io.ReadAll(r.Body)
	if string(got) != string(body) {
		t.Errorf("body = %q", got)
	}
	if resp.Header.Get(CacheStatusHeader) != "miss" {
		t.Error("encodeEntry modified the live response headers")
	}
}

func TestEntryFreshness(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	e := &cacheEntry{StoredAt: now, ExpiresAt: now.Add(time.Second)}

	if !e.freshAt(now.Add(999 * time.Millisecond)) {
		t.Error("entry should be fresh before its expiry")
	}
	if e.freshAt(now.Add(time.Second)) {
		t.Error("entry should be stale at its expiry")
	}
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	for _, data := range []string{
		"",
		"not an http response",
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 OK\r\nX-Httpsession-Stored-At: yesterday\r\nContent-Length: 0\r\n\r\n",
	} {
		if _, err := decodeEntry([]byte(data), req); err == nil {
			t.Errorf("decodeEntry(%q) succeeded", data)
		}
	}
}
