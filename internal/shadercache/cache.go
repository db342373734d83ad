// Package shadercache memoizes WGSL to SPIR-V compilation.
//
// Entries are keyed by the SHA-256 digest of the source and evicted in
// least recently used order. Failed compilations are not cached.
package shadercache

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of modules kept when New is given a
// non-positive capacity.
const DefaultCapacity = 64

// Key identifies a WGSL source.
type Key [sha256.Size]byte

// KeyOf returns the key of src.
func KeyOf(src string) Key { return sha256.Sum256([]byte(src)) }

// CompileFunc turns WGSL source into SPIR-V words.
type CompileFunc func(src string) ([]uint32, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe LRU of compiled shader code. Returned slices are
// shared between callers and must not be modified.
type Cache struct {
	capacity int

	mu      sync.Mutex
	entries map[Key]*node
	order   recency

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New returns a cache holding up to capacity modules.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[Key]*node, capacity),
	}
}

// Get returns the cached code for src.
func (c *Cache) Get(src string) ([]uint32, bool) {
	key := KeyOf(src)
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.moveToFront(n)
	c.hits.Add(1)
	return n.words, true
}

// GetOrCompile returns the cached code for src, compiling and storing it
// on a miss. compile runs under the cache lock so a source is compiled at
// most once at a time.
func (c *Cache) GetOrCompile(src string, compile CompileFunc) ([]uint32, error) {
	key := KeyOf(src)
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		c.order.moveToFront(n)
		c.hits.Add(1)
		return n.words, nil
	}
	c.misses.Add(1)

	words, err := compile(src)
	if err != nil {
		return nil, err
	}
	for c.order.len >= c.capacity {
		old := c.order.popBack()
		delete(c.entries, old.key)
		c.evictions.Add(1)
	}
	n := &node{key: key, words: words}
	c.order.pushFront(n)
	c.entries[key] = n
	return words, nil
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order = recency{}
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
