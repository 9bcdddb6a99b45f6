package contextstore

import (
	"sync"
	"time"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// cacheEntry wraps a resident ContextEntry; eviction scoring reads the
// entry's own AccessCount/LastAccessed fields through this pointer.
type cacheEntry struct {
	entry *domain.ContextEntry
}

// lfuCache is the Context Store's bounded in-process cache (C2a).
// Eviction is recency-weighted LFU: score = access_count /
// (seconds_since_last_access + 1), lowest evicted first (§4.4).
type lfuCache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*cacheEntry
}

func newLFUCache(maxSize int) *lfuCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &lfuCache{maxSize: maxSize, entries: make(map[string]*cacheEntry)}
}

func score(e *domain.ContextEntry, now time.Time) float64 {
	seconds := now.Sub(e.LastAccessed).Seconds()
	if seconds < 0 {
		seconds = 0
	}
	return float64(e.AccessCount) / (seconds + 1)
}

// Get returns a cached entry, or (nil, false) on a miss. It does not
// change the entry's access bookkeeping; Store.Get does that after the
// access check.
func (c *lfuCache) Get(entryID string) (*domain.ContextEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.entries[entryID]
	if !ok {
		return nil, false
	}
	return ce.entry, true
}

// Put inserts or replaces an entry, evicting the lowest-scoring resident
// if the cache is at capacity.
func (c *lfuCache) Put(e *domain.ContextEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[e.EntryID]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[e.EntryID] = &cacheEntry{entry: e}
}

func (c *lfuCache) evictLocked() {
	now := time.Now()
	var victim string
	lowest := 0.0
	first := true
	for id, ce := range c.entries {
		s := score(ce.entry, now)
		if first || s < lowest {
			lowest = s
			victim = id
			first = false
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// Remove drops an entry from the cache (used by cleanup_expired and
// explicit invalidation).
func (c *lfuCache) Remove(entryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entryID)
}

// Len reports the current resident count, mostly useful to tests.
func (c *lfuCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
