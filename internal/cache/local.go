package cache

import (
	"sync"
	"time"
)

// LocalCache is an in-memory cache implementation
// It implements the Cache interface
type LocalCache struct {
	entries map[string]localEntry
	ttl     time.Duration
	lock    sync.RWMutex
}

type localEntry struct {
	value     RenderEntry
	expiresAt time.Time
}

// NewLocalCache creates a new in-memory cache. ttl of 0 disables
// expiration.
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
		ttl:     ttl,
	}
}

func (lc *LocalCache) Get(key string) (RenderEntry, bool) {
	lc.lock.RLock()
	entry, ok := lc.entries[key]
	lc.lock.RUnlock()
	if !ok {
		return RenderEntry{}, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		lc.lock.Lock()
		delete(lc.entries, key)
		lc.lock.Unlock()
		return RenderEntry{}, false
	}
	return entry.value, true
}

func (lc *LocalCache) Set(key string, value RenderEntry) {
	entry := localEntry{value: value}
	if lc.ttl > 0 {
		entry.expiresAt = time.Now().Add(lc.ttl)
	}
	lc.lock.Lock()
	lc.entries[key] = entry
	lc.lock.Unlock()
}

// Clear removes all cached data
func (lc *LocalCache) Clear() {
	lc.lock.Lock()
	lc.entries = make(map[string]localEntry)
	lc.lock.Unlock()
}

func (lc *LocalCache) Close() {}
