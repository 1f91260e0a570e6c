package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/y0ug/contentscan/internal/models"
)

// RedisCache implements Cache on top of Redis. Entry age is bounded with
// native key expiry; Redis has no cheap way to enforce an entry count, so
// MaxEntries is rejected by LoadCacheConfig for this backend.
type RedisCache struct {
	client *redis.Client
	prefix string
	policy EvictionPolicy
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(cfg *CacheConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr, err)
	}

	return newRedisCache(rdb, cfg.RedisKeyPrefix, cfg.Policy), nil
}

func newRedisCache(client *redis.Client, prefix string, policy EvictionPolicy) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		policy: policy,
	}
}

func (r *RedisCache) key(f models.Fingerprint) string {
	return fmt.Sprintf("%sverdict:%s", r.prefix, string(f))
}

// Get retrieves a verdict.
func (r *RedisCache) Get(ctx context.Context, f models.Fingerprint) (models.ScanVerdict, bool, error) {
	var verdict models.ScanVerdict

	val, err := r.client.Get(ctx, r.key(f)).Result()
	if err != nil {
		if err == redis.Nil {
			return verdict, false, nil
		}
		return verdict, false, err
	}

	if err := json.Unmarshal([]byte(val), &verdict); err != nil {
		return verdict, false, fmt.Errorf("failed to unmarshal ScanVerdict: %w", err)
	}
	return verdict, true, nil
}

// Put stores a verdict with SETNX so the first writer wins.
func (r *RedisCache) Put(ctx context.Context, f models.Fingerprint, verdict models.ScanVerdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal ScanVerdict: %w", err)
	}
	// A zero TTL means no expiry.
	return r.client.SetNX(ctx, r.key(f), data, r.policy.TTL).Err()
}

// Clear removes every verdict under the configured prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"verdict:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Len counts verdicts under the configured prefix.
func (r *RedisCache) Len(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"verdict:*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the Redis client connection.
func (r *RedisCache) Close(ctx context.Context) error {
	return r.client.Close()
}
