package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache provides distributed render caching via Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisConfig configures the Redis cache
type RedisConfig struct {
	Addr     string        // Redis address (e.g., "localhost:6379")
	Password string        // Redis password (empty for no auth)
	DB       int           // Redis database number
	TTL      time.Duration // Cache TTL (0 = no expiration)
	Prefix   string        // Key prefix (default: "hydra:")
	UseTLS   bool          // Enable TLS connection
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "hydra:"
	}

	return &RedisCache{
		client: client,
		ttl:    config.TTL,
		prefix: prefix,
	}, nil
}

// Get retrieves a cached render from Redis
func (rc *RedisCache) Get(key string) (RenderEntry, bool) {
	ctx := context.Background()
	data, err := rc.client.Get(ctx, rc.prefix+"render:"+key).Bytes()
	if err != nil {
		return RenderEntry{}, false
	}

	var entry RenderEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return RenderEntry{}, false
	}
	return entry, true
}

// Set stores a finished render in Redis
func (rc *RedisCache) Set(key string, entry RenderEntry) {
	ctx := context.Background()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	rc.client.Set(ctx, rc.prefix+"render:"+key, data, rc.ttl)
}

// Clear removes all cached renders under this prefix
func (rc *RedisCache) Clear() {
	ctx := context.Background()
	iter := rc.client.Scan(ctx, 0, rc.prefix+"render:*", 0).Iterator()
	for iter.Next(ctx) {
		rc.client.Del(ctx, iter.Val())
	}
}

// Close releases the Redis connection
func (rc *RedisCache) Close() {
	rc.client.Close()
}
