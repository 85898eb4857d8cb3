// Package pipeline coordinates frame rendering: it pulls captures from the
// camera registry, runs the requested analysis stage, caches the encoded
// result per camera and stage, and publishes alerts on the event bus.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/stage"
)

// DefaultCacheTTL is how long a rendered frame stays fresh. Within the TTL
// every viewer of the same camera and stage is served the same bytes.
const DefaultCacheTTL = 200 * time.Millisecond

type cacheKey struct {
	cameraID int
	stage    string
}

type cacheEntry struct {
	data      []byte
	summary   stage.Summary
	timestamp time.Time
}

// FrameCache holds the latest rendered frame per camera and stage. Entries
// are immutable once stored; the per-key locks serialize recomputation so
// concurrent viewers cost one stage run per TTL window.
type FrameCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
	locks   map[cacheKey]*sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFrameCache creates a cache with the given freshness window.
// Non-positive TTLs fall back to DefaultCacheTTL.
func NewFrameCache(ttl time.Duration) *FrameCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &FrameCache{
		ttl:     ttl,
		entries: make(map[cacheKey]*cacheEntry),
		locks:   make(map[cacheKey]*sync.Mutex),
	}
}

// Get returns the cached frame and summary when the entry is still fresh.
func (c *FrameCache) Get(cameraID int, stageName string) ([]byte, stage.Summary, bool) {
	entry, ok := c.peek(cameraID, stageName)
	if !ok {
		c.misses.Add(1)
		return nil, stage.Summary{}, false
	}
	c.hits.Add(1)
	return entry.data, entry.summary, true
}

// peek is Get without touching the hit/miss counters.
func (c *FrameCache) peek(cameraID int, stageName string) (*cacheEntry, bool) {
	key := cacheKey{cameraID: cameraID, stage: stageName}
	c.mu.RLock()
	entry := c.entries[key]
	c.mu.RUnlock()

	if entry == nil || time.Since(entry.timestamp) > c.ttl {
		return nil, false
	}
	return entry, true
}

// Put stores a rendered frame for a camera and stage.
func (c *FrameCache) Put(cameraID int, stageName string, data []byte, sum stage.Summary) {
	key := cacheKey{cameraID: cameraID, stage: stageName}
	entry := &cacheEntry{data: data, summary: sum, timestamp: time.Now()}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// lockFor returns the computation lock for a camera and stage, creating it
// on first use.
func (c *FrameCache) lockFor(cameraID int, stageName string) *sync.Mutex {
	key := cacheKey{cameraID: cameraID, stage: stageName}

	c.mu.RLock()
	lock := c.locks[key]
	c.mu.RUnlock()
	if lock != nil {
		return lock
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lock = c.locks[key]; lock == nil {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// Len returns the number of cached entries, fresh or stale.
func (c *FrameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns how many Gets were served from cache.
func (c *FrameCache) Hits() int64 { return c.hits.Load() }

// Misses returns how many Gets fell through to computation.
func (c *FrameCache) Misses() int64 { return c.misses.Load() }
