// Package cache provides an in-memory result cache for retrieval backends.
// Repeated queries with the same embedding skip the index scan (or the remote
// round trip) entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"poisearch/internal/port"
)

// QueryCache is an LRU cache of search results keyed by the query embedding
// and result count. Entries expire after a TTL, and Invalidate drops the
// whole cache when the underlying index is republished.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gen     uint64
}

type cacheEntry struct {
	matches   []port.Match
	timestamp time.Time
	gen       uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(vector []float32, k int) string {
	data := make([]byte, 0, len(vector)*4+2)
	for _, v := range vector {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	data = append(data, byte(k>>8), byte(k))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(vector []float32, k int) ([]port.Match, bool) {
	c.mu.RLock()
	key := cacheKey(vector, k)
	entry, exists := c.entries[key]
	currentGen := c.gen
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Since(entry.timestamp) > c.ttl || entry.gen != currentGen {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	return entry.matches, true
}

func (c *QueryCache) Put(vector []float32, k int, matches []port.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(vector, k)

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &cacheEntry{matches: matches, timestamp: time.Now(), gen: c.gen}
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &cacheEntry{matches: matches, timestamp: time.Now(), gen: c.gen}
	c.order = append(c.order, key)
}

// Invalidate drops every entry. Call after republishing the index the cache
// fronts.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.gen++
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// CachedIndex fronts a retrieval backend with a QueryCache. Errors are never
// cached.
type CachedIndex struct {
	index port.VectorIndex
	cache *QueryCache
}

func NewCachedIndex(index port.VectorIndex, cache *QueryCache) *CachedIndex {
	return &CachedIndex{index: index, cache: cache}
}

func (ci *CachedIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if matches, hit := ci.cache.Get(vector, k); hit {
		return matches, nil
	}

	matches, err := ci.index.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	ci.cache.Put(vector, k, matches)
	return matches, nil
}
