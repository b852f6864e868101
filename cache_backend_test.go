package httpsession

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryBackend()
	m.now = clock.Now

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "a", []byte("one"), time.Second))
	require.NoError(t, m.Set(ctx, "b", []byte("two"), 0))

	data, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", string(data))
	assert.Equal(t, 2, m.Len())

	clock.Advance(time.Second)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok, "entry should expire at its ttl")
	assert.Equal(t, 1, m.Len(), "expired entry should be evicted on read")

	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok, "entry without ttl should persist")

	require.NoError(t, m.Delete(ctx, "b"))
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "c", []byte("three"), time.Minute))
	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Close())
}

func TestMemoryBackendCopiesInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	buf := []byte("original")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	copy(buf, "mutated!")

	data, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "original", string(data))
}

func TestFileBackendStoresResponses(t *testing.T) {
	dir := t.TempDir()
	server, calls := counterServer(t, nil)

	s := New(WithFileCache(dir))
	require.True(t, s.IsValid(), "%v", s.ValidationError())
	defer s.Close()

	var bodies []string
	for i := 0; i < 2; i++ {
		resp, err := s.Get(context.Background(), server.URL)
		require.NoError(t, err)
		bodies = append(bodies, readBody(t, resp))
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	var found bool
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.Contains(string(data), bodies[0]) {
			found = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, found, "cached body not found under %s", dir)

	require.NoError(t, s.ClearCache(context.Background()))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileBackendRequiresDirectory(t *testing.T) {
	_, err := NewFileBackend("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s := New(WithFileCache(""))
	assert.False(t, s.IsValid())
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := NewFileBackend(filepath.Join(t.TempDir(), "nested", "cache"))
	require.NoError(t, err)

	_, ok, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Set(ctx, "k", []byte("payload"), time.Minute))
	data, ok, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, f.Delete(ctx, "k"))
	_, ok, _ = f.Get(ctx, "k")
	assert.False(t, ok)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	r := NewRedisBackend(client, "feeds:")

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "k", []byte("payload"), 5*time.Second))
	stored, err := mr.Get("feeds:k")
	require.NoError(t, err)
	assert.Equal(t, "payload", stored)
	assert.Equal(t, 5*time.Second, mr.TTL("feeds:k"))

	data, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(data))

	mr.FastForward(6 * time.Second)
	_, ok, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(t, r.Delete(ctx, "d"))
	assert.False(t, mr.Exists("feeds:d"))
}

func TestRedisBackendClearIsScoped(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	r := NewRedisBackend(client, "feeds:")

	for i := 0; i < 250; i++ {
		require.NoError(t, r.Set(ctx, strings.Repeat("k", i+1), []byte("x"), time.Minute))
	}
	require.NoError(t, mr.Set("other", "keep"))

	require.NoError(t, r.Clear(ctx))
	assert.Equal(t, []string{"other"}, mr.Keys())

	assert.ErrorIs(t, NewRedisBackend(client, "").Clear(ctx), ErrInvalidConfig)
}

func TestRedisBackendErrors(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	r := NewRedisBackend(client, "")

	mr.SetError("ERR simulated failure")
	_, _, err := r.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, r.Set(ctx, "k", []byte("x"), time.Second))
}

func TestRedisCacheServesStoredEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	server, calls := counterServer(t, nil)

	s := New(
		WithRedisCache(client, "feeds:"),
		WithCacheKeyFunc(func(r *http.Request) string { return "latest" }),
		WithFallbackCacheDuration(time.Minute),
	)
	defer s.Close()

	resp, err := s.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"call":1}`, readBody(t, resp))

	stored, err := mr.Get("feeds:latest")
	require.NoError(t, err)
	assert.Contains(t, stored, `{"call":1}`)
	assert.Equal(t, time.Minute, mr.TTL("feeds:latest"))

	// Same length so the stored Content-Length still matches.
	require.NoError(t, mr.Set("feeds:latest", strings.Replace(stored, `{"call":1}`, `{"call":9}`, 1)))

	resp, err = s.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"call":9}`, readBody(t, resp))
	assert.Equal(t, "hit", resp.Header.Get(CacheStatusHeader))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestNewRedisBackendFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedisBackendFromConfig(context.Background(), RedisConfig{Addr: mr.Addr()}, "p:")
	require.NoError(t, err)
	require.NoError(t, r.Set(context.Background(), "k", []byte("v"), time.Second))
	assert.True(t, mr.Exists("p:k"))
	assert.NoError(t, r.Close())

	_, err = NewRedisBackendFromConfig(context.Background(), RedisConfig{}, "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
