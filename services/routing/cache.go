package routing

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/upb/market-routes/models"
)

const DefaultGeohashPrecision = 8

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        string
	result     models.RouteResult
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// CachedResolver is an in-memory LRU cache with TTL in front of a RouteResolver.
// Queries are keyed by the geohash cells of both endpoints, so points closer
// than the cell size share an entry. Computed fallback results are never stored.
type CachedResolver struct {
	next      RouteResolver
	clock     Clock
	precision uint

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCachedResolver wraps next with a cache of at most maxSize entries
func NewCachedResolver(next RouteResolver, maxSize int, ttl time.Duration, precision uint, clock Clock) *CachedResolver {
	if clock == nil {
		clock = SystemClock{}
	}
	if precision == 0 || precision > 12 {
		precision = DefaultGeohashPrecision
	}
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachedResolver{
		next:      next,
		clock:     clock,
		precision: precision,
		entries:   make(map[string]*cacheEntry),
		lruList:   list.New(),
		maxSize:   maxSize,
		ttl:       ttl,
	}
}

// Key returns the cache key for a query
func (c *CachedResolver) Key(query models.RouteQuery) string {
	return geohash.EncodeWithPrecision(query.Origin.Lat, query.Origin.Lng, c.precision) +
		"|" + geohash.EncodeWithPrecision(query.Destination.Lat, query.Destination.Lng, c.precision)
}

// Resolve serves the query from cache or delegates to the wrapped resolver
func (c *CachedResolver) Resolve(ctx context.Context, query models.RouteQuery) (*models.RouteResult, error) {
	// invalid coordinates would still geohash, so they bypass the cache
	if err := query.Validate(); err != nil {
		return c.next.Resolve(ctx, query)
	}

	key := c.Key(query)
	if cached, ok := c.get(key); ok {
		return cached, nil
	}

	result, err := c.next.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if !result.IsFallback() {
		c.set(key, result)
	}
	return result, nil
}

func (c *CachedResolver) get(key string) (*models.RouteResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]

	// Check if entry exists and is not expired
	if !exists || c.isExpired(entry) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	result := entry.result
	return &result, true
}

func (c *CachedResolver) set(key string, result *models.RouteResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.result = *result
		entry.insertedAt = c.clock.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		result:     *result,
		insertedAt: c.clock.Now(),
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Clear removes all entries from the cache
func (c *CachedResolver) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *CachedResolver) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func (c *CachedResolver) isExpired(entry *cacheEntry) bool {
	return c.ttl > 0 && c.clock.Now().Sub(entry.insertedAt) > c.ttl
}

// evictLRU removes the least recently used entry (must hold lock)
func (c *CachedResolver) evictLRU() {
	oldest := c.lruList.Back()
	if oldest != nil {
		c.removeEntry(oldest.Value.(string))
	}
}

// removeEntry removes an entry from cache (must hold lock)
func (c *CachedResolver) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}
