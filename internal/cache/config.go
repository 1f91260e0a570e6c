package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// CacheConfig holds the result cache configuration.
type CacheConfig struct {
	Type           string
	Policy         EvictionPolicy
	BoltPath       string
	RedisAddr      string
	RedisPass      string
	RedisDB        int
	RedisKeyPrefix string
}

// LoadCacheConfig loads cache configuration from environment variables.
func LoadCacheConfig() (*CacheConfig, error) {
	cacheType := os.Getenv("CACHE_TYPE")
	if cacheType == "" {
		cacheType = "memory"
		logrus.Info("CACHE_TYPE not set. Defaulting to in-memory cache.")
	}

	config := &CacheConfig{
		Type: cacheType,
	}

	maxEntriesStr := os.Getenv("CACHE_MAX_ENTRIES")
	if maxEntriesStr != "" {
		maxEntries, err := strconv.Atoi(maxEntriesStr)
		if err != nil || maxEntries < 0 {
			return nil, fmt.Errorf("invalid CACHE_MAX_ENTRIES value: %s", maxEntriesStr)
		}
		config.Policy.MaxEntries = maxEntries
	}

	ttlStr := os.Getenv("CACHE_TTL")
	if ttlStr != "" {
		ttl, err := time.ParseDuration(ttlStr)
		if err != nil || ttl < 0 {
			return nil, fmt.Errorf("invalid CACHE_TTL value: %s", ttlStr)
		}
		config.Policy.TTL = ttl
	}

	switch cacheType {
	case "memory":
	case "bolt":
		config.BoltPath = os.Getenv("CACHE_BOLT_PATH")
		if config.BoltPath == "" {
			config.BoltPath = filepath.Join(os.TempDir(), fmt.Sprintf("contentscan-%d.db", os.Getpid()))
		}
	case "redis":
		config.RedisAddr = os.Getenv("REDIS_ADDR")
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis cache")
		}
		if config.Policy.MaxEntries > 0 {
			return nil, fmt.Errorf("CACHE_MAX_ENTRIES is not supported by the redis cache; use CACHE_TTL")
		}
		config.RedisPass = os.Getenv("REDIS_PASSWORD")
		dbStr := os.Getenv("REDIS_DB")
		if dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB value: %v", err)
			}
			config.RedisDB = db
		}
		config.RedisKeyPrefix = os.Getenv("REDIS_KEY_PREFIX")
		if config.RedisKeyPrefix == "" {
			config.RedisKeyPrefix = "contentscan:"
		}
	default:
		return nil, fmt.Errorf("unsupported CACHE_TYPE: %s", cacheType)
	}

	return config, nil
}

// New builds the backend selected by cfg.
func New(cfg *CacheConfig, logger *logrus.Logger) (Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(cfg.Policy), nil
	case "bolt":
		c, err := NewBoltCache(cfg.BoltPath, cfg.Policy, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		c, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
