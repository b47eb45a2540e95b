package mapcanvas

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// TileCache is a small concurrent-safe LRU for proxied raster tiles with
// TTL expiry. It only avoids refetching tiles a session just panned over.
type TileCache struct {
	mu         sync.Mutex
	entries    map[tileKey]*list.Element
	lru        *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	now        func() time.Time
}

type tileKey struct {
	layer   BaseLayer
	z, x, y int
}

type tileEntry struct {
	key       tileKey
	data      []byte
	createdAt time.Time
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewTileCache creates a cache holding up to maxEntries tiles for ttl.
func NewTileCache(maxEntries int, ttl time.Duration) *TileCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &TileCache{
		entries:    make(map[tileKey]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns a cached tile or nil on miss or expiry.
func (c *TileCache) Get(layer BaseLayer, z, x, y int) []byte {
	key := tileKey{layer, z, x, y}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	e := el.Value.(*tileEntry)
	if c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, key)
		c.misses.Add(1)
		return nil
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return e.data
}

// Put stores a tile, evicting the least recently used one at capacity.
func (c *TileCache) Put(layer BaseLayer, z, x, y int, data []byte) {
	key := tileKey{layer, z, x, y}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value = &tileEntry{key: key, data: data, createdAt: c.now()}
		c.lru.MoveToFront(el)
		return
	}
	for c.lru.Len() >= c.maxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*tileEntry).key)
	}
	c.entries[key] = c.lru.PushFront(&tileEntry{key: key, data: data, createdAt: c.now()})
}

// Stats returns cache statistics.
func (c *TileCache) Stats() CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}
