// cache.go: TTL plus capacity-bounded LRU cache shared by resolver and reload manager
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Maximum number of entries; inserts past it evict the least recently used
	MaxEntries int `json:"max_entries" yaml:"max_entries" toml:"max_entries"`

	// Default time-to-live applied by Set
	TTL time.Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
}

// DefaultCacheOptions returns 512 entries with a five minute TTL.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxEntries: 512,
		TTL:        5 * time.Minute,
	}
}

// CacheStats is a read-only view of cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Size      int   `json:"size"`
}

// HitRatio returns hits / (hits + misses), 0 without requests.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// Cache is a concurrency-safe key/value store with per-entry TTL and a global
// entry ceiling.
//
// Reads check expiry before reporting a hit. Set always inserts a fresh entry
// rather than mutating the stored one, so a reader holding a value from a
// previous Get never observes a partially updated entry.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	options CacheOptions
	items   map[K]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// NewCache creates a cache. A non-positive MaxEntries means unbounded, a
// non-positive TTL means entries never expire.
func NewCache[K comparable, V any](options CacheOptions) *Cache[K, V] {
	return &Cache[K, V]{
		options: options,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		now:     timecache.CachedTime,
	}
}

// Get returns a live entry and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, _, ok := c.GetWithTime(key)
	return value, ok
}

// GetWithTime returns a live entry together with the time it was stored.
func (c *Cache[K, V]) GetWithTime(key K) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	element, exists := c.items[key]
	if !exists {
		c.misses.Add(1)
		return zero, time.Time{}, false
	}

	entry := element.Value.(*cacheEntry[K, V])
	if c.isExpired(entry) {
		c.removeElement(element)
		c.expired.Add(1)
		c.misses.Add(1)
		return zero, time.Time{}, false
	}

	c.order.MoveToFront(element)
	c.hits.Add(1)
	return entry.value, entry.storedAt, true
}

// Set inserts value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.options.TTL)
}

// SetWithTTL inserts value with an explicit TTL. An existing entry for key is
// dropped and replaced by a new one.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		c.removeElement(element)
	}

	now := c.now()
	entry := &cacheEntry[K, V]{key: key, value: value, storedAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.items[key] = c.order.PushFront(entry)
	c.sets.Add(1)

	for c.options.MaxEntries > 0 && len(c.items) > c.options.MaxEntries {
		c.evictLRU()
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeElement(element)
	return true
}

// Len returns the number of stored entries, expired ones included until touched.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry[K, V]).key)
	}
	return keys
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (c *Cache[K, V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		if c.isExpired(e.Value.(*cacheEntry[K, V])) {
			c.removeElement(e)
			removed++
		}
		e = prev
	}
	c.expired.Add(int64(removed))
	return removed
}

// Clear removes every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Size:      c.Len(),
	}
}

func (c *Cache[K, V]) isExpired(entry *cacheEntry[K, V]) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (c *Cache[K, V]) evictLRU() {
	if back := c.order.Back(); back != nil {
		c.removeElement(back)
		c.evictions.Add(1)
	}
}

// removeElement drops element from both indexes. Caller holds the lock.
func (c *Cache[K, V]) removeElement(element *list.Element) {
	c.order.Remove(element)
	delete(c.items, element.Value.(*cacheEntry[K, V]).key)
}
