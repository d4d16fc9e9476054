package cache

import (
	"sync"
	"time"
)

// MemoryCache is an in-memory cache with per-entry TTL. Expired entries are
// dropped lazily on read and whenever an insert finds the cache full.
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewMemoryCache creates a cache with the given default TTL and size cap.
func NewMemoryCache(defaultTTL time.Duration, maxSize int) *MemoryCache {
	return &MemoryCache{
		data:    make(map[string]*cacheEntry),
		ttl:     defaultTTL,
		maxSize: maxSize,
	}
}

// Set stores a value. A zero ttl uses the cache default.
func (mc *MemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = mc.ttl
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.data) >= mc.maxSize {
		mc.evictExpiredLocked()
		if len(mc.data) >= mc.maxSize {
			// Still full of live entries; drop the new value rather than
			// evicting something that has not expired.
			return
		}
	}

	mc.data[key] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (mc *MemoryCache) Get(key string) (any, bool) {
	mc.mu.RLock()
	entry, ok := mc.data[key]
	mc.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		mc.Delete(key)
		return nil, false
	}
	return entry.value, true
}

// Delete removes a key.
func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Len reports the number of entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

func (mc *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
		}
	}
}
