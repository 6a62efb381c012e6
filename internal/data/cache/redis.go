package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RedisCache stores payloads in Redis under a key prefix
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Name() string { return "redis" }

func (r *RedisCache) key(k string) string { return r.prefix + k }

// Get returns (nil, false, nil) on a miss
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes value with ttl
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// NewAuto returns a Redis cache when addr is set and reachable, otherwise a memory cache
// holding at most maxEntries keys
func NewAuto(ctx context.Context, addr, prefix string, maxEntries int) Cache {
	if addr == "" {
		return NewTTLCache(maxEntries)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, using memory cache")
		_ = client.Close()
		return NewTTLCache(maxEntries)
	}
	log.Info().Str("addr", addr).Msg("ticker cache backed by redis")
	return NewRedisCache(client, prefix)
}
