package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SearchCache memoises search results.
type SearchCache interface {
	Get(ctx context.Context, key string) ([]SearchResult, bool)
	Set(ctx context.Context, key string, results []SearchResult)
}

// RedisCache keeps search results in redis for a short TTL. Cache errors
// only cost a database round trip, so they are logged and swallowed.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]SearchResult, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("catalog: cache read failed")
		}
		return nil, false
	}
	var out []SearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, key string, results []SearchResult) {
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("catalog: cache write failed")
	}
}
