package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Fetcher resolves a cache miss for one entity.
type Fetcher func(ctx context.Context) (any, error)

// Loader couples a Cache with miss resolution. Concurrent misses for the
// same key share a single in-flight fetch.
type Loader struct {
	cache *Cache
	group singleflight.Group
}

// NewLoader wraps c.
func NewLoader(c *Cache) *Loader {
	return &Loader{cache: c}
}

// Cache exposes the underlying cache for direct get/put.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Get returns the cached value for (entityType, id), fetching and caching
// it on a miss. A fetch error is returned without poisoning the cache.
func (l *Loader) Get(ctx context.Context, entityType, id string, fetch Fetcher) (any, error) {
	if v, ok := l.cache.Get(entityType, id); ok {
		return v, nil
	}
	v, err, _ := l.group.Do(entityType+"\x00"+id, func() (any, error) {
		if v, ok := l.cache.Get(entityType, id); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		l.cache.Put(entityType, id, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
