package contextstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

func entryWithAccess(id string, count int64, lastAccessed time.Time) *domain.ContextEntry {
	return &domain.ContextEntry{EntryID: id, AccessCount: count, LastAccessed: lastAccessed}
}

// TestCacheEvictionUnderPressure mirrors scenario S6: cache max=3; insert
// e1,e2,e3; access pattern gives e1 the highest score, e3 the lowest;
// inserting e4 must evict e3.
func TestCacheEvictionUnderPressure(t *testing.T) {
	c := newLFUCache(3)
	now := time.Now()

	e1 := entryWithAccess("e1", 5, now)
	e2 := entryWithAccess("e2", 2, now)
	e3 := entryWithAccess("e3", 1, now)
	c.Put(e1)
	c.Put(e2)
	c.Put(e3)

	e4 := entryWithAccess("e4", 1, now)
	c.Put(e4)

	_, e1ok := c.Get("e1")
	_, e2ok := c.Get("e2")
	_, e3ok := c.Get("e3")
	_, e4ok := c.Get("e4")

	assert.True(t, e1ok)
	assert.True(t, e2ok)
	assert.False(t, e3ok, "lowest recency-weighted score should be evicted")
	assert.True(t, e4ok)
}

func TestCacheScoreFavorsRecentAccess(t *testing.T) {
	now := time.Now()
	stale := entryWithAccess("stale", 10, now.Add(-time.Hour))
	fresh := entryWithAccess("fresh", 1, now)

	assert.Greater(t, score(fresh, now), score(stale, now))
}

func TestCacheRemove(t *testing.T) {
	c := newLFUCache(10)
	c.Put(entryWithAccess("e1", 1, time.Now()))
	assert.Equal(t, 1, c.Len())
	c.Remove("e1")
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("e1")
	assert.False(t, ok)
}
