package httpsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries in redis with a native key expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// RedisConfig configures NewRedisBackendFromConfig.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend wraps an existing client. Keys are namespaced by prefix,
// which also scopes Clear. The caller keeps ownership of client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// NewRedisBackendFromConfig dials redis and verifies the connection.
func NewRedisBackendFromConfig(ctx context.Context, cfg RedisConfig, prefix string) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is empty", ErrInvalidConfig)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisBackend{client: client, prefix: prefix, owned: true}, nil
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key under the backend's prefix. Without a prefix it
// would match the whole database, so it refuses.
func (r *RedisBackend) Clear(ctx context.Context) error {
	if r.prefix == "" {
		return fmt.Errorf("%w: refusing to clear redis without a key prefix", ErrInvalidConfig)
	}

	// Deleting while the cursor is live lets the scan skip keys, so the
	// whole keyspace is listed first.
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	for len(keys) > 0 {
		n := min(len(keys), 100)
		if err := r.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

// Close closes the client when the backend dialed it.
func (r *RedisBackend) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
