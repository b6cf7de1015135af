package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall-server/internal/metrics"
)

// Cache interface for embedding storage
type Cache interface {
	Get(key string) ([]float32, bool)
	Set(key string, value []float32, ttl time.Duration)
}

type CacheConfig struct {
	Type      string // "redis", "memory", "noop"
	RedisURL  string
	KeyPrefix string
	MaxSize   int
	TTL       time.Duration
}

// RedisCache shares embeddings across instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(redisURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) Get(key string) ([]float32, bool) {
	data, err := c.client.Get(context.Background(), c.prefix+key).Bytes()
	if err != nil {
		metrics.RecordCacheMiss("redis")
		return nil, false
	}

	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		embedding[i] = math.Float32frombits(bits)
	}

	metrics.RecordCacheHit("redis")
	return embedding, true
}

func (c *RedisCache) Set(key string, value []float32, ttl time.Duration) {
	data := make([]byte, len(value)*4)
	for i, f := range value {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(data[i*4:], bits)
	}

	c.client.Set(context.Background(), c.prefix+key, data, ttl)
}

// MemoryCache is a process-local LRU, for deployments without Redis.
type MemoryCache struct {
	cache *lru.Cache
	ttl   time.Duration
	mu    sync.RWMutex
}

type cacheEntry struct {
	value     []float32
	expiresAt time.Time
}

func NewMemoryCache(maxSize int, ttl time.Duration) (*MemoryCache, error) {
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}

	return &MemoryCache{cache: cache, ttl: ttl}, nil
}

func (c *MemoryCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found := c.cache.Get(key)
	if !found {
		metrics.RecordCacheMiss("memory")
		return nil, false
	}

	entry := val.(cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		metrics.RecordCacheMiss("memory")
		return nil, false
	}

	metrics.RecordCacheHit("memory")
	return entry.value, true
}

func (c *MemoryCache) Set(key string, value []float32, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// NoOpsCache disables caching.
type NoOpsCache struct{}

func NewNoOpsCache() *NoOpsCache {
	return &NoOpsCache{}
}

func (c *NoOpsCache) Get(key string) ([]float32, bool) {
	return nil, false
}

func (c *NoOpsCache) Set(key string, value []float32, ttl time.Duration) {
}

// NewCache builds a cache from config.
func NewCache(config CacheConfig) (Cache, error) {
	switch config.Type {
	case "redis":
		return NewRedisCache(config.RedisURL, config.KeyPrefix)
	case "memory":
		return NewMemoryCache(config.MaxSize, config.TTL)
	case "noop":
		return NewNoOpsCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}
