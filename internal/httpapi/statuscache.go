package httpapi

import (
	"sync"
	"time"
)

// statusCache is the 2-second in-memory cache of status responses keyed
// by task_id (spec.md §4.7). Invalidation is TTL-only: a write to the
// task store does not evict the cached entry, it just expires on its own
// within the window, which the spec calls out as an acceptable
// simplification.
type statusCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   statusResponse
	expires time.Time
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *statusCache) Get(taskID string) (statusResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[taskID]
	if !ok || time.Now().After(entry.expires) {
		return statusResponse{}, false
	}
	return entry.value, true
}

func (c *statusCache) Put(taskID string, value statusResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[taskID] = cacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}
