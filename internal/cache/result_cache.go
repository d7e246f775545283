// Package cache stores finished retrieval results keyed by request
// fingerprint. Two backends exist: an in-process expirable LRU for
// single-replica deployments and Redis for fleets that share a cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"retrieval-orchestrator/internal/domain"
)

const redisKeyPrefix = "retrieval:result:"

// MemoryCache is an in-process LRU with per-entry TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.RetrievalResult]
}

// NewMemoryCache creates a memory cache holding up to size entries for
// at most ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 512
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, *domain.RetrievalResult](size, nil, ttl),
	}
}

// Get returns a copy of the cached result. Callers rewrite top-level
// metadata fields on hits, which must not leak back into the cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.RetrievalResult, bool) {
	res, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	cp := *res
	return &cp, true
}

// Set stores the result under key.
func (c *MemoryCache) Set(_ context.Context, key string, result *domain.RetrievalResult) {
	if result == nil {
		return
	}
	cp := *result
	c.lru.Add(key, &cp)
}

// Close is a no-op for the memory backend.
func (c *MemoryCache) Close() error { return nil }

// RedisCache shares results across replicas. Every failure is treated
// as a miss and logged at warn, keeping the pipeline availability
// independent of Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis at addr.
func NewRedisCache(addr string, db int, ttl time.Duration, logger *slog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Ping checks the Redis connection, used at startup.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.RetrievalResult, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("result_cache_get_failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var result domain.RetrievalResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		c.logger.Warn("result_cache_decode_failed", slog.String("error", err.Error()))
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result *domain.RetrievalResult) {
	if result == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("result_cache_encode_failed", slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("result_cache_set_failed", slog.String("error", err.Error()))
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NopCache never hits. Used when caching is disabled and in tests.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.RetrievalResult, bool) { return nil, false }
func (NopCache) Set(context.Context, string, *domain.RetrievalResult)       {}
func (NopCache) Close() error                                               { return nil }

var (
	_ domain.ResultCache = (*MemoryCache)(nil)
	_ domain.ResultCache = (*RedisCache)(nil)
	_ domain.ResultCache = NopCache{}
)
