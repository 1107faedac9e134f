package cache

import (
	"sync"
)

// RowCache caches densified matrix rows by row index.
type RowCache interface {
	// Get retrieves a row from the cache.
	Get(row int) ([]float64, bool)
	// Put stores a row in the cache.
	Put(row int, vec []float64)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of RowCache. When
// maxEntries is positive, inserting into a full cache evicts an arbitrary
// entry.
type MapCache struct {
	data       map[int][]float64
	maxEntries int
	mu         sync.RWMutex
}

func NewMapCache(maxEntries int) *MapCache {
	return &MapCache{
		data:       make(map[int][]float64),
		maxEntries: maxEntries,
	}
}

func (c *MapCache) Get(row int) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[row]; ok {
		cacheHits.Inc()
		dst := make([]float64, len(v))
		copy(dst, v)
		return dst, true
	}
	cacheMisses.Inc()
	return nil, false
}

func (c *MapCache) Put(row int, vec []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[row]; !ok && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		for k := range c.data {
			delete(c.data, k)
			cacheEvictions.Inc()
			break
		}
	}

	// Store copy
	dst := make([]float64, len(vec))
	copy(dst, vec)
	c.data[row] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
