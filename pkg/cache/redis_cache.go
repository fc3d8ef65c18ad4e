package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores completed answers in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis instance named by url
// (redis://[:password@]host:port/db).
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis_cache: parse url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Get retrieves a cached entry by key.
// Returns the entry and true if found, or zero value and false if not.
func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis_cache: get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, false, fmt.Errorf("redis_cache: unmarshal: %w", err)
	}
	return e, true, nil
}

// Set stores an entry with the configured TTL.
func (r *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis_cache: marshal: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis_cache: set: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
