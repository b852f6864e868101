package httpsession

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, log.InfoLevel)

	logger.Debug("hidden")
	logger.Info("fetched", "domain", "example.com")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	for _, want := range []string{"httpsession", "fetched", "domain=example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q does not contain %q", out, want)
		}
	}
}

func TestDefaultRequestIDGenerator(t *testing.T) {
	a, b := DefaultRequestIDGenerator(), DefaultRequestIDGenerator()
	if a == b {
		t.Errorf("request IDs repeat: %q", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", a, err)
	}
}

func TestSessionLogsRequestID(t *testing.T) {
	server, _ := counterServer(t, nil)
	var buf bytes.Buffer
	s := New(
		WithLogger(NewLogger(&buf, log.DebugLevel)),
		WithRequestIDGenerator(func() string { return "req-42" }),
		WithMemoryCache(),
	)

	resp, err := s.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	for _, want := range []string{"request_id=req-42", "cache miss", "response cached", "request complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output does not contain %q:\n%s", want, out)
		}
	}
}
