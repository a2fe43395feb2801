// Package lru implements the pin-aware LRU shared by every cache in the
// system (content frames, segment data, fnode, CoW wrappers) and the
// overflow-checked reference count used by chunks and segments
// (spec.md §4.12).
package lru

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"

	sealedfs "github.com/kenneth/sealedfs"
)

// Meter measures the "weight" of a cached value — byte size for a frame
// cache, 1 for a count-based cache.
type Meter[V any] func(V) int64

// PinChecker reports whether a key is currently pinned and must not be
// evicted (e.g. a CoW entity inside a live transaction, or segment data
// with an open writer).
type PinChecker[K comparable] func(K) bool

// Cache is a pin-aware LRU. It wraps hashicorp/golang-lru/v2's ordered
// simplelru.LRU as an effectively unbounded backing store (so Add never
// auto-evicts) and performs its own capacity enforcement in maybeEvict,
// walking oldest-to-newest and skipping any key the PinChecker reports
// pinned — something the stock eviction callback can't express.
type Cache[K comparable, V any] struct {
	backing   *simplelru.LRU[K, V]
	meter     Meter[V]
	pinned    PinChecker[K]
	budget    int64
	used      int64
}

// New creates a cache with a byte/count budget and a pin checker. meter
// may be nil, in which case every entry counts as weight 1 (a pure
// count-limited cache).
func New[K comparable, V any](budget int64, meter Meter[V], pinned PinChecker[K]) *Cache[K, V] {
	if meter == nil {
		meter = func(V) int64 { return 1 }
	}
	if pinned == nil {
		pinned = func(K) bool { return false }
	}
	// simplelru requires a positive capacity even though we never let it
	// auto-evict; onEvicted keeps `used` in sync however entries leave.
	c := &Cache[K, V]{meter: meter, pinned: pinned, budget: budget}
	backing, err := simplelru.NewLRU[K, V](1<<31-1, func(key K, value V) {
		c.used -= c.meter(value)
	})
	if err != nil {
		panic(err) // capacity is a positive compile-time constant
	}
	c.backing = backing
	return c
}

// Get returns the value for key, refreshing its recency, or ok=false.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.backing.Get(key)
}

// Peek is like Get but does not refresh recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.backing.Peek(key)
}

// Insert adds or replaces a value, then evicts unpinned oldest entries
// until the cache is back within budget.
func (c *Cache[K, V]) Insert(key K, value V) {
	if old, ok := c.backing.Peek(key); ok {
		c.used -= c.meter(old)
	}
	c.backing.Add(key, value)
	c.used += c.meter(value)
	c.maybeEvict()
}

// Remove deletes key unconditionally, even if pinned — used when an
// entity is deleted outright (e.g. orphan segment removal).
func (c *Cache[K, V]) Remove(key K) {
	c.backing.Remove(key)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int { return c.backing.Len() }

// Used returns the current total weight of cached entries.
func (c *Cache[K, V]) Used() int64 { return c.used }

// maybeEvict walks keys oldest-first (simplelru.Keys is ordered that way)
// and removes unpinned entries until used <= budget, or until every
// remaining entry is pinned (in which case the cache may temporarily
// exceed budget — correctness over a hard memory ceiling).
func (c *Cache[K, V]) maybeEvict() {
	if c.budget <= 0 {
		return
	}
	for c.used > c.budget {
		keys := c.backing.Keys()
		evictedAny := false
		for _, k := range keys {
			if c.pinned(k) {
				continue
			}
			c.backing.Remove(k)
			evictedAny = true
			break
		}
		if !evictedAny {
			break
		}
	}
}

// RefCount is a saturation-checked 32-bit reference counter
// (spec.md §4.12): Inc/Dec fail rather than wrap on overflow/underflow.
type RefCount uint32

// Inc increments the count, failing with KindRefOverflow at the uint32 max.
func (r *RefCount) Inc() error {
	if *r == ^RefCount(0) {
		return sealedfs.New(sealedfs.KindRefOverflow, "lru.RefCount.Inc")
	}
	*r++
	return nil
}

// Dec decrements the count, failing with KindRefUnderflow at zero.
func (r *RefCount) Dec() error {
	if *r == 0 {
		return sealedfs.New(sealedfs.KindRefUnderflow, "lru.RefCount.Dec")
	}
	*r--
	return nil
}

// Value returns the current count.
func (r RefCount) Value() uint32 { return uint32(r) }

// IsZero reports whether the count is zero (i.e. the referenced item is
// an orphan).
func (r RefCount) IsZero() bool { return r == 0 }
