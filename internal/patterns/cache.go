package patterns

import (
	"log"
	"sync"
	"time"

	"github.com/alerthub/alerthub/internal/database"
)

// UnknownPatternPriority is returned for names the cache has never seen.
// It sorts after every real priority.
const UnknownPatternPriority = 99999

// DefaultCacheTTL is how long a snapshot stays fresh without a reload.
const DefaultCacheTTL = 5 * time.Minute

// Cache keeps an in-memory snapshot of the stored patterns. It reloads
// when the snapshot is older than the TTL or after Invalidate, and keeps
// serving the last good snapshot when the store fails.
type Cache struct {
	store *database.PatternStore
	ttl   time.Duration

	// now is replaceable in tests.
	now func() time.Time

	mu       sync.RWMutex
	patterns []database.Pattern
	loadedAt time.Time
	loaded   bool
}

// NewCache creates a pattern cache. A non-positive ttl falls back to the
// default.
func NewCache(store *database.PatternStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// Patterns returns the current snapshot, priority-sorted, reloading it
// first when stale.
func (c *Cache) Patterns() []database.Pattern {
	c.mu.RLock()
	fresh := c.loaded && c.now().Sub(c.loadedAt) < c.ttl
	patterns := c.patterns
	c.mu.RUnlock()
	if fresh {
		return patterns
	}
	return c.reload()
}

// ActivePatterns returns only the patterns eligible for matching.
func (c *Cache) ActivePatterns() []database.Pattern {
	all := c.Patterns()
	active := make([]database.Pattern, 0, len(all))
	for _, p := range all {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}

// PriorityByName resolves a pattern name to its priority, or
// UnknownPatternPriority when the name is not in the snapshot.
func (c *Cache) PriorityByName(name string) int {
	for _, p := range c.Patterns() {
		if p.Name == name {
			return p.Priority
		}
	}
	return UnknownPatternPriority
}

// Invalidate forces the next read to reload from the store. Call after
// any pattern mutation.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// reload fetches a fresh snapshot. On store failure the previous snapshot
// keeps being served so ingestion never stalls on the pattern table.
func (c *Cache) reload() []database.Pattern {
	patterns, err := c.store.List()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("Pattern cache reload failed, serving previous snapshot of %d patterns: %v", len(c.patterns), err)
		// Mark as loaded so a flapping store is not hammered on every read.
		c.loadedAt = c.now()
		c.loaded = true
		return c.patterns
	}
	c.patterns = patterns
	c.loadedAt = c.now()
	c.loaded = true
	return c.patterns
}
