package graphsim

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry memoizes one resolved (or negatively-resolved) fetch for a
// single (resourceType, resourceID) pair within one traversal.
//
// BundleEntry is nil for a negative entry (not-found, or denied by
// scope): a sibling traversal path consulting the same key sees the
// miss recorded and does not re-fetch.
type CacheEntry struct {
	ResourceType string
	ResourceID   string
	Status       int
	BundleEntry  *BundleEntry
	LastModified *time.Time
	ETag         string
}

// RequestCache is the per-traversal memo of resolved (type,id) lookups.
// Implementations must be safe for concurrent use: the Graph Walker may
// run many fetches in flight at once, all consulting and populating the
// same cache.
type RequestCache interface {
	// Get returns the cached entry for (resourceType, resourceID), or
	// (nil, false) on a miss. Every call increments the cache's hit or
	// miss counter.
	Get(resourceType, resourceID string) (*CacheEntry, bool)

	// Add records entry under its own (ResourceType, ResourceID) key.
	// Writes are idempotent: if the key is already present, Add is a
	// no-op and returns false; the first write wins.
	Add(entry CacheEntry) bool

	// Clear empties the cache and resets hit/miss counters.
	Clear()

	// Stats returns the current hit/miss counts.
	Stats() (hits, misses int)
}

// memCache is the default in-process RequestCache, modeled on the
// teacher's InMemoryWebhookStore: a mutex-guarded map plus an insertion
// order list for deterministic, bounded eviction.
//
// A reference implementation in another ecosystem backs its request
// cache with a weak-reference map so entries can be collected under
// memory pressure; Go has no equivalent in this dependency set, so
// memCache instead supports an explicit MaxEntries bound with
// oldest-first eviction.
type memCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // most-recently-added at the back
	maxEntries int
	hits       int
	misses     int
}

type cacheNode struct {
	key   string
	entry CacheEntry
}

// NewMemoryCache creates an empty in-process RequestCache. maxEntries <= 0
// means unbounded.
func NewMemoryCache(maxEntries int) RequestCache {
	return &memCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func cacheKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (c *memCache) Get(resourceType, resourceID string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(resourceType, resourceID)]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	entry := el.Value.(*cacheNode).entry
	return &entry, true
}

func (c *memCache) Add(entry CacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(entry.ResourceType, entry.ResourceID)
	if _, exists := c.entries[key]; exists {
		return false
	}

	el := c.order.PushBack(&cacheNode{key: key, entry: entry})
	c.entries[key] = el

	if c.maxEntries > 0 {
		for c.order.Len() > c.maxEntries {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheNode).key)
		}
	}

	return true
}

func (c *memCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.hits = 0
	c.misses = 0
}

func (c *memCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
