package common

import (
	"bytes"
	"container/list"
	"net/url"
	"sync"
	"time"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 100
)

// CacheRepository defines a minimal interface for a key/value cache.
// The values are stored as raw []byte, which callers marshal/unmarshal
// from JSON as needed.
type CacheRepository interface {
	Get(key string) (value []byte, found bool)
	Set(key string, value []byte, expiration time.Duration)
	Delete(key string)
	Clear()
}

var _ CacheRepository = (*MemoryCache)(nil)

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache with per-entry expiry.
// Expired entries are dropped lazily on read. When the cache is full,
// inserting a new key evicts the oldest inserted entry first.
type MemoryCache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	order      *list.List
	items      map[string]*list.Element
	now        func() time.Time
	metrics    *Metrics
}

// CacheOption configures a MemoryCache.
type CacheOption func(*MemoryCache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithCacheMetrics records hits, misses and evictions.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *MemoryCache) { c.metrics = m }
}

// NewMemoryCache builds a cache holding at most capacity entries.
// Non-positive arguments fall back to the package defaults.
func NewMemoryCache(capacity int, defaultTTL time.Duration, opts ...CacheOption) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	c := &MemoryCache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element, capacity),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the value for key while it has not expired.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.metrics.cacheMiss()
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(el)
		c.metrics.cacheMiss()
		return nil, false
	}
	c.metrics.cacheHit()
	return bytes.Clone(entry.value), true
}

// Set stores a copy of value under key for the given expiration. A zero or
// negative expiration makes the entry expire immediately.
func (c *MemoryCache) Set(key string, value []byte, expiration time.Duration) {
	value = bytes.Clone(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(expiration)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
			c.metrics.cacheEviction()
		}
	}
	c.items[key] = c.order.PushBack(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
}

// SetDefault stores value using the cache's default TTL.
func (c *MemoryCache) SetDefault(key string, value []byte) {
	c.Set(key, value, c.defaultTTL)
}

// DefaultTTL reports the TTL used by SetDefault.
func (c *MemoryCache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

// Len counts physically present entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*cacheEntry)
	delete(c.items, entry.key)
}

// GenerateCacheKey derives the cache key for a request. Parameters are
// encoded with sorted keys, so maps with the same content always produce
// the same key.
func GenerateCacheKey(baseURL, endpoint string, params map[string]string) string {
	key := baseURL + endpoint
	if len(params) == 0 {
		return key
	}
	q := make(url.Values, len(params))
	for k, v := range params {
		q.Set(k, v)
	}
	return key + "?" + q.Encode()
}
