// Package cache provides a sharded LRU cache keyed by hashable values.
//
// It backs the per-device program cache: entries are expensive to build
// (kernel compilation), reads vastly outnumber writes, and eviction has
// to release device resources, so the cache takes an eviction hook and
// a fallible create function.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// shardCount must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16
	shardMask  = shardCount - 1

	// DefaultCapacity is the per-shard entry limit when none is given.
	DefaultCapacity = 64
)

// Hasher computes the shard-selection hash for a key.
type Hasher[K any] func(K) uint64

// StringHasher is an FNV-1a hasher for string keys.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// EvictFunc is called for every entry leaving the cache, whether by
// LRU pressure, Delete, or Clear. It runs with the shard lock held, so
// it must not touch the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe sharded LRU cache. Each shard carries its own
// lock so concurrent requests for different devices rarely contend.
type Cache[K comparable, V any] struct {
	shards   [shardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int
	onEvict  EvictFunc[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

// New creates a cache with the given per-shard capacity. onEvict may
// be nil. If capacity <= 0, DefaultCapacity is used.
func New[K comparable, V any](capacity int, hasher Hasher[K], onEvict EvictFunc[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{
		hasher:   hasher,
		capacity: capacity,
		onEvict:  onEvict,
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

func (c *Cache[K, V]) getShard(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get retrieves a cached value and refreshes its recency.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.getShard(key)

	// Fast path: read lock to check existence.
	s.mu.RLock()
	_, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	s.mu.Lock()
	// Re-check, the entry may have been evicted in between.
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(e.node)
	v := e.value
	s.mu.Unlock()

	c.hits.Add(1)
	return v, true
}

// GetOrCreate returns the cached value or builds it with create. The
// create function runs with the shard lock held so concurrent callers
// for the same key compile exactly once; its error is returned without
// caching anything, so a failed build is retried on the next call.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	s := c.getShard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.MoveToFront(e.node)
		c.hits.Add(1)
		return e.value, nil
	}
	c.misses.Add(1)

	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}

	for s.lru.Len() >= c.capacity {
		oldest, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		c.evict(s, oldest)
	}

	s.entries[key] = &entry[K, V]{value: v, node: s.lru.PushFront(key)}
	return v, nil
}

// Delete removes an entry, running the eviction hook. Returns whether
// the entry existed.
func (c *Cache[K, V]) Delete(key K) bool {
	s := c.getShard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.lru.Remove(e.node)
	c.evict(s, key)
	return true
}

// Clear removes every entry, running the eviction hook for each.
func (c *Cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			c.evict(s, key)
		}
		s.lru.Clear()
		s.mu.Unlock()
	}
}

// evict drops key from the shard map and fires the hook.
// Caller holds the shard lock and has already unlinked the LRU node.
func (c *Cache[K, V]) evict(s *shard[K, V], key K) {
	e := s.entries[key]
	delete(s.entries, key)
	c.evictions.Add(1)
	if c.onEvict != nil && e != nil {
		c.onEvict(key, e.value)
	}
}

// Len returns the total entry count across all shards.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Stats returns a snapshot of the atomic counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
