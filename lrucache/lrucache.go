// Package lrucache implements a size-budgeted least-recently-used cache.
//
// Every entry carries a caller-supplied size. When an insertion would exceed
// the cache's capacity, the least recently used entries are evicted until the
// used capacity falls to the low water mark and the new entry fits.
//
// A Cache is not safe for concurrent use. It is intended to be owned by a
// single goroutine, such as a retrieve.Loop.
package lrucache

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrEntryTooLarge   = errors.New("entry larger than cache capacity")
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidSize     = errors.New("invalid size")
)

// An EvictionReason describes why an entry left the cache.
type EvictionReason int

const (
	ReasonEvicted  EvictionReason = iota // Evicted to make room for a new entry.
	ReasonReplaced                       // Replaced by a new value for the same key.
	ReasonRemoved                        // Removed with Remove or Clear.
)

func (r EvictionReason) String() string {
	switch r {
	case ReasonEvicted:
		return "evicted"
	case ReasonReplaced:
		return "replaced"
	case ReasonRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// An EvictionListener is called when an entry leaves the cache, for example to
// release resources held by value.
type EvictionListener[K comparable, V any] func(key K, value V, reason EvictionReason)

// Stats are cache statistics.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	size     int64
	lastUsed uint64
}

// A Cache is a size-budgeted LRU cache.
type Cache[K comparable, V any] struct {
	entries          map[K]*entry[K, V]
	capacity         int64
	lowWater         int64
	usedCapacity     int64
	clock            uint64
	evictionListener EvictionListener[K, V]
	stats            Stats
}

// An Option sets an option on a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithLowWater sets the used capacity that eviction reduces the cache to. The
// default is 75% of the capacity.
func WithLowWater[K comparable, V any](lowWater int64) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.lowWater = lowWater
	}
}

// WithEvictionListener sets a function that is called whenever an entry leaves
// the cache.
func WithEvictionListener[K comparable, V any](evictionListener EvictionListener[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.evictionListener = evictionListener
	}
}

// New returns a new Cache with the given capacity.
func New[K comparable, V any](capacity int64, options ...Option[K, V]) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	c := &Cache[K, V]{
		entries:  make(map[K]*entry[K, V]),
		capacity: capacity,
		lowWater: capacity / 4 * 3,
	}
	for _, option := range options {
		option(c)
	}
	if c.lowWater < 0 || c.lowWater > c.capacity {
		return nil, fmt.Errorf("%w: low water %d outside [0, %d]", ErrInvalidCapacity, c.lowWater, c.capacity)
	}
	return c, nil
}

// Get returns the value for key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.clock++
	e.lastUsed = c.clock
	return e.value, true
}

// Contains returns whether key is in c without marking it as recently used.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.entries[key]
	return ok
}

// Put adds value with the given size to c, replacing any existing value for
// key and evicting least recently used entries if needed.
func (c *Cache[K, V]) Put(key K, value V, size int64) error {
	switch {
	case size < 0:
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	case size > c.capacity:
		return fmt.Errorf("%w: %d > %d", ErrEntryTooLarge, size, c.capacity)
	}

	if old, ok := c.entries[key]; ok {
		c.removeEntry(old, ReasonReplaced)
	}

	if c.usedCapacity+size > c.capacity {
		c.evict(size)
	}

	c.clock++
	c.entries[key] = &entry[K, V]{
		key:      key,
		value:    value,
		size:     size,
		lastUsed: c.clock,
	}
	c.usedCapacity += size
	return nil
}

// Remove removes key from c. It returns whether key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeEntry(e, ReasonRemoved)
	return true
}

// Clear removes all entries from c.
func (c *Cache[K, V]) Clear() {
	for _, e := range c.entries {
		c.removeEntry(e, ReasonRemoved)
	}
}

// Len returns the number of entries in c.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

func (c *Cache[K, V]) Capacity() int64     { return c.capacity }
func (c *Cache[K, V]) LowWater() int64     { return c.lowWater }
func (c *Cache[K, V]) UsedCapacity() int64 { return c.usedCapacity }
func (c *Cache[K, V]) FreeCapacity() int64 { return c.capacity - c.usedCapacity }

// Stats returns c's statistics.
func (c *Cache[K, V]) Stats() Stats {
	return c.stats
}

// evict removes the least recently used entries until the used capacity is at
// most the low water mark and there is room for an entry of size.
func (c *Cache[K, V]) evict(size int64) {
	entries := make([]*entry[K, V], 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry[K, V]) int {
		return cmp.Compare(a.lastUsed, b.lastUsed)
	})

	for _, e := range entries {
		if c.usedCapacity <= c.lowWater && c.capacity-c.usedCapacity >= size {
			break
		}
		c.removeEntry(e, ReasonEvicted)
		c.stats.Evictions++
	}
}

func (c *Cache[K, V]) removeEntry(e *entry[K, V], reason EvictionReason) {
	delete(c.entries, e.key)
	c.usedCapacity -= e.size
	if c.evictionListener != nil {
		c.evictionListener(e.key, e.value, reason)
	}
}
