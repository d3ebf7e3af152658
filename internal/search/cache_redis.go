package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mediastream/discoveryservice/internal/domain"
	"mediastream/discoveryservice/internal/metrics"
)

const (
	redisCachePrefix = "discovery:cache:"
	redisIndexPrefix = "discovery:cache-src:"
	redisIndexTTL    = 24 * time.Hour
)

// RedisCache stores entries as JSON and keeps one set of cache keys per
// source so Invalidate does not need to scan.
type RedisCache struct {
	client *redis.Client

	hits          atomic.Int64
	misses        atomic.Int64
	puts          atomic.Int64
	invalidations atomic.Int64
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.misses.Add(1)
			metrics.CacheMissesTotal.Inc()
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CacheEntry{}, false, err
	}
	r.hits.Add(1)
	metrics.CacheHitsTotal.Inc()
	return entry, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultInteractiveTTL
	}
	entry.Key = key
	entry.TTL = ttl
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisCachePrefix+key, data, ttl)
		for _, source := range entry.involvedSources() {
			pipe.SAdd(ctx, redisIndexPrefix+source, key)
			pipe.Expire(ctx, redisIndexPrefix+source, max(ttl, redisIndexTTL))
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.puts.Add(1)
	return nil
}

func (r *RedisCache) Invalidate(ctx context.Context, source string) (int, error) {
	source = normalizeName(source)
	indexKey := redisIndexPrefix + source
	keys, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		full = append(full, redisCachePrefix+key)
	}
	removed, err := r.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, indexKey).Err(); err != nil {
		return int(removed), err
	}
	r.invalidations.Add(removed)
	metrics.CacheInvalidationsTotal.WithLabelValues(source).Add(float64(removed))
	return int(removed), nil
}

func (r *RedisCache) Stats(ctx context.Context) domain.CacheStats {
	stats := domain.CacheStats{
		Backend:       "redis",
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Puts:          r.puts.Load(),
		Invalidations: r.invalidations.Load(),
	}
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisCachePrefix+"*", 500).Result()
		if err != nil {
			break
		}
		stats.Entries += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
