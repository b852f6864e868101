package httpsession

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
retries = 2
user_agent = ["feedbot/1.0", "(+https://example.com/bot)"]

[timeout]
connect = "250ms"
read = "2s"

[headers]
Accept = "application/rss+xml"

[cache]
backend = "memory"
key_prefix = "feeds:"
fallback_duration = "30s"
vary_headers = ["Accept-Language"]
failure_policy = "closed"

[circuit_breaker]
name = "feeds"
failure_threshold = 3
recovery_timeout = "10s"

[retry]
initial_backoff = "50ms"
max_backoff = "1s"
multiplier = 1.5
jitter = 0.2
decorrelated = true
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, Duration(250*time.Millisecond), cfg.Timeout.Connect)
	assert.Equal(t, Duration(2*time.Second), cfg.Timeout.Read)
	assert.Equal(t, map[string]string{"Accept": "application/rss+xml"}, cfg.Headers)
	assert.Equal(t, []string{"feedbot/1.0", "(+https://example.com/bot)"}, cfg.UserAgent)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, "feeds:", cfg.Cache.KeyPrefix)
	assert.Equal(t, Duration(30*time.Second), cfg.Cache.FallbackDuration)
	assert.Equal(t, []string{"Accept-Language"}, cfg.Cache.VaryHeaders)
	assert.Equal(t, "closed", cfg.Cache.FailurePolicy)
	assert.Equal(t, "feeds", cfg.CircuitBreaker.Name)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, Duration(10*time.Second), cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, DefaultSuccessThreshold, cfg.CircuitBreaker.SuccessThreshold, "unset keys keep their defaults")
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.True(t, cfg.Retry.Decorrelated)
}

func TestParseEmptyConfigIsDefault(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("[cache]\nbackend = \"memory\"\nttl = \"5s\"\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		message string
	}{
		{"bad duration", "[timeout]\nread = \"soon\"\n", "parse config"},
		{"bad syntax", "[timeout\n", "parse config"},
		{"negative timeout", "[timeout]\nconnect = \"-1s\"\n", "timeout.connect"},
		{"unknown backend", "[cache]\nbackend = \"memcached\"\n", "unknown cache.backend"},
		{"file without directory", "[cache]\nbackend = \"file\"\n", "cache.directory"},
		{"redis without addr", "[cache]\nbackend = \"redis\"\n", "cache.redis.addr"},
		{"bad policy", "[cache]\nfailure_policy = \"sometimes\"\n", "failure_policy"},
		{"zero fallback", "[cache]\nfallback_duration = \"0s\"\n", "fallback_duration"},
		{"negative retries", "retries = -1\n", "retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retries)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("nonsense = 1\n"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, Duration(90*time.Second), d)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}

func TestNewFromConfig(t *testing.T) {
	server, calls := counterServer(t, nil)
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	s, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, Timeout{Connect: 250 * time.Millisecond, Read: 2 * time.Second}, s.timeout)
	assert.Equal(t, "feedbot/1.0 (+https://example.com/bot)", s.headers.Get("User-Agent"))
	assert.Equal(t, CacheFailClosed, s.cachePolicy)
	assert.Equal(t, 2, s.retry.MaxRetries)
	require.NotNil(t, s.breakerConfig)
	assert.Equal(t, 3, s.breakerConfig.FailureThreshold)

	for i := 0; i < 2; i++ {
		resp, err := s.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestNewFromConfigFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendFile
	cfg.Cache.Directory = dir
	cfg.CircuitBreaker.Disabled = true

	s, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	fb, ok := s.cacheBackend.(*FileBackend)
	require.True(t, ok, "backend is %T", s.cacheBackend)
	assert.Equal(t, dir, fb.Dir())
	assert.Nil(t, s.breaker)
	assert.DirExists(t, dir)
}

func TestNewFromConfigRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	server, calls := counterServer(t, nil)

	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendRedis
	cfg.Cache.Redis.Addr = mr.Addr()
	cfg.Cache.KeyPrefix = "feeds:"

	s, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		resp, err := s.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "feeds:")

	require.NoError(t, s.ClearCache(context.Background()))
	assert.Empty(t, mr.Keys())
}

func TestNewFromConfigRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendRedis
	cfg.Cache.Redis.Addr = addr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewFromConfig(ctx, cfg)
	assert.Error(t, err)
}

func TestNewFromConfigInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout.Read = 0
	_, err := NewFromConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	_, err = NewFromConfig(context.Background(), cfg, WithRetries(50))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
