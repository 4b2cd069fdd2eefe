// Package cache implements the bounded, TTL-aware response cache (spec.md
// §4.4): a map from request fingerprint to a cached response body, evicted
// by recency once capacity is exceeded and by age once the TTL elapses.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is an immutable (after insertion, bar LastAccess) cached response.
type Entry struct {
	ResponseBytes []byte
	ContentType   string
	CreatedAt     time.Time
	LastAccessAt  time.Time
}

// Stats mirrors the object returned by GET /cache/stats (spec.md §4.4/§6).
type Stats struct {
	Size    int
	Hits    int64
	Misses  int64
	HitRate float64
	TTL     time.Duration
	MaxSize int
}

// Cache is a bounded LRU keyed by request fingerprint, with a uniform TTL
// applied on top of hashicorp/golang-lru's recency-based eviction. Capacity
// (LRU ordering, eviction on overflow) is delegated to the underlying LRU;
// TTL expiry is layered in Get, which purges and counts an expired hit as a
// miss.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, Entry]
	ttl     time.Duration
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a Cache holding at most maxEntries fingerprints, each valid
// for ttl from insertion. maxEntries <= 0 defaults to 1000.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	underlying, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size, which we've just
		// guarded against.
		panic("cache: " + err.Error())
	}
	return &Cache{lru: underlying, ttl: ttl, maxSize: maxEntries}
}

// Get returns the cached entry for fingerprint if present and not expired.
// An expired entry is evicted as a side effect and reported as a miss,
// satisfying spec.md §3/§8: "the cache never returns an entry older than
// TTL."
func (c *Cache) Get(fingerprint string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(fingerprint)
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}

	if c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl {
		c.mu.Lock()
		c.lru.Remove(fingerprint)
		c.mu.Unlock()
		c.misses.Add(1)
		return Entry{}, false
	}

	e.LastAccessAt = now
	c.mu.Lock()
	c.lru.Add(fingerprint, e)
	c.mu.Unlock()

	c.hits.Add(1)
	return e, true
}

// Put inserts or overwrites the entry for fingerprint. If the cache is at
// capacity, the least-recently-used entry is evicted (delegated to the
// underlying LRU).
func (c *Cache) Put(fingerprint string, data []byte, contentType string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fingerprint, Entry{
		ResponseBytes: data,
		ContentType:   contentType,
		CreatedAt:     now,
		LastAccessAt:  now,
	})
}

// Clear empties the cache and returns the number of entries removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	c.lru.Purge()
	return n
}

// Stats returns a point-in-time snapshot of cache occupancy and hit rate.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		TTL:     c.ttl,
		MaxSize: c.maxSize,
	}
}
