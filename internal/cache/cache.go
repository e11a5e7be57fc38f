// Package cache provides the in-memory entity cache shared by every view:
// last-known entity values keyed by (entityType, id), used to deduplicate
// lookups and avoid redundant network fetches.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies a cached entity.
type Key struct {
	Type string
	ID   string
}

type entry struct {
	key      Key
	value    any
	cachedAt time.Time
}

// Cache is a bounded last-write-wins entity cache. Entries are evicted by
// LRU order once maxEntries is exceeded and lazily by TTL on read. All
// methods are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List // front = most recently used
	entries    map[Key]*list.Element

	hits   int64
	misses int64
}

// New creates a cache holding at most maxEntries values, each valid for ttl.
// maxEntries <= 0 means unbounded; ttl <= 0 means entries never expire.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		entries:    make(map[Key]*list.Element),
	}
}

// Get returns the cached value for (entityType, id), or ok=false if absent
// or expired.
func (c *Cache) Get(entityType, id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[Key{Type: entityType, ID: id}]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.ttl > 0 && time.Since(ent.cachedAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Put stores value under (entityType, id), unconditionally overwriting any
// previous value regardless of recency (last write wins).
func (c *Cache) Put(entityType, id string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Key{Type: entityType, ID: id}
	if el, ok := c.entries[k]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.cachedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: k, value: value, cachedAt: time.Now()})
	c.entries[k] = el

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

// Invalidate drops the entry for (entityType, id) if present.
func (c *Cache) Invalidate(entityType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[Key{Type: entityType, ID: id}]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, ent.key)
}
