package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/argus-soc/argus/internal/models"
)

// Cache stores merged enrichment results keyed by "type:value".
type Cache interface {
	Get(ctx context.Context, key string) (*models.EnrichmentResult, bool, error)
	Set(ctx context.Context, key string, res *models.EnrichmentResult, ttl time.Duration) error
}

// CacheKey builds the canonical cache key for an indicator.
func CacheKey(typ models.IOCType, value string) string {
	return string(typ) + ":" + value
}

// RedisCache backs the enrichment cache with Redis. Results are stored as
// JSON; Redis handles TTL expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects a cache to a Redis instance.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "argus:enrich:"}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.EnrichmentResult, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read enrichment cache: %w", err)
	}
	var res models.EnrichmentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry is treated as a miss and will be overwritten.
		return nil, false, nil
	}
	return &res, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, res *models.EnrichmentResult, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment result: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write enrichment cache: %w", err)
	}
	return nil
}

// MemoryCache is an in-process Cache for tests and cache-less deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	res       *models.EnrichmentResult
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(ctx context.Context, key string) (*models.EnrichmentResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	clone := *e.res
	return &clone, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(ctx context.Context, key string, res *models.EnrichmentResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *res
	c.entries[key] = memoryEntry{res: &clone, expiresAt: time.Now().Add(ttl)}
	return nil
}
