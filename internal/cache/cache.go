// Package cache provides the optional render-result cache: an in-memory
// store for single instances and a Redis store for fleets behind a shared
// origin.
package cache

import "time"

// RenderEntry is one cached render: the finished HTML plus the envelope
// status and headers it shipped with.
type RenderEntry struct {
	HTML    string            `json:"html"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
}

// Cache stores finished renders keyed by route + negotiated variant.
type Cache interface {
	Get(key string) (RenderEntry, bool)
	Set(key string, entry RenderEntry)
	Clear()
	Close()
}

// CacheType selects the backing store
type CacheType string

const (
	CacheTypeLocal CacheType = "local"
	CacheTypeRedis CacheType = "redis"
)

// Config selects and configures the cache backend.
type Config struct {
	Type          CacheType
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
}

// New creates a cache based on the config
func New(config Config) (Cache, error) {
	switch config.Type {
	case CacheTypeRedis:
		return NewRedisCache(RedisConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			UseTLS:   config.RedisTLS,
			TTL:      config.TTL,
		})
	case CacheTypeLocal, "":
		return NewLocalCache(config.TTL), nil
	default:
		return NewLocalCache(config.TTL), nil
	}
}
