package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// SpecCache stores compiled signal spec documents keyed by a hash of the
// normalized graph and backtest parameters. Compilation is deterministic,
// so a hit can be served without recompiling.
type SpecCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewSpecCache creates a spec cache with the given entry TTL.
func NewSpecCache(redis *RedisClient, ttl time.Duration) *SpecCache {
	return &SpecCache{
		redis: redis,
		ttl:   ttl,
	}
}

// Get retrieves a cached rendered spec document. Returns the document
// and true on a hit, nil and false otherwise.
func (c *SpecCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	var doc string
	if err := c.redis.Get(ctx, "spec:compiled:"+key, &doc); err != nil {
		return nil, false
	}
	return []byte(doc), true
}

// Set caches a rendered spec document under the given key.
func (c *SpecCache) Set(ctx context.Context, key string, doc []byte) error {
	if c == nil || c.redis == nil {
		return fmt.Errorf("redis client not available")
	}
	return c.redis.Set(ctx, "spec:compiled:"+key, string(doc), c.ttl)
}

// SpecKey builds the cache key from the inputs that determine the
// compiled output. Any field change produces a different key.
func SpecKey(normalizedGraph, params interface{}) string {
	payload := struct {
		Graph  interface{} `json:"graph"`
		Params interface{} `json:"params"`
	}{normalizedGraph, params}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:16])
}
