// Package cache implements the content-addressed tables that back every GPU-visible resource
// table of the scene: materials, samplers, textures and geometry buffers.
//
// Entries are keyed by a content hash with an equality tie-break, so two payloads that collide on
// hash are never merged. Indices are stable for the lifetime of an entry: garbage collection
// leaves tombstones rather than renumbering, and tombstoned slots are reused only after Rebuild.
//
// A Cache is single-writer. The render thread owns all mutation.
package cache

import (
	"sort"
)

type Options struct {
	// Capacity bounds the number of live entries. Zero means unbounded.
	Capacity int
	Policy   Policy
	// Seed drives the random policy; zero picks a fixed default.
	Seed uint64
}

type entry[T any] struct {
	item T
	hash uint64
	refs uint32
	live bool
}

type Cache[T any] struct {
	name  string
	hash  func(T) uint64
	equal func(a, b T) bool
	opts  Options

	entries    []entry[T]
	buckets    map[uint64][]uint32
	tombstones []uint32
	free       []uint32 // reusable slots, only filled by Rebuild
	live       int

	evict     evictor
	onRelease func(idx uint32, item T)
	m         metrics
}

func New[T any](name string, hash func(T) uint64, equal func(a, b T) bool, opts Options) *Cache[T] {
	c := &Cache[T]{
		name:    name,
		hash:    hash,
		equal:   equal,
		opts:    opts,
		buckets: make(map[uint64][]uint32),
		m:       newMetrics(name),
	}
	if opts.Capacity > 0 {
		switch opts.Policy {
		case EvictRandom:
			seed := opts.Seed
			if seed == 0 {
				seed = 0x5eed
			}
			c.evict = newRandomEvictor(seed)
		default:
			c.evict = newLRUEvictor(opts.Capacity)
		}
	}
	return c
}

func (c *Cache[T]) Name() string { return c.name }

// SetReleaseFunc registers the callback invoked when an entry leaves the table, by garbage
// collection or eviction. It is where GPU resources are freed.
func (c *Cache[T]) SetReleaseFunc(fn func(idx uint32, item T)) {
	c.onRelease = fn
}

// InsertOrFind returns the index of a content-equal entry, taking a reference on it, or inserts
// the item with a single reference. isNew reports whether the caller must upload the payload.
func (c *Cache[T]) InsertOrFind(item T) (idx uint32, isNew bool) {
	h := c.hash(item)
	if idx, ok := c.lookup(h, item); ok {
		c.entries[idx].refs++
		c.touch(idx)
		c.m.hits.Inc()
		return idx, false
	}
	c.m.misses.Inc()

	if c.opts.Capacity > 0 && c.live >= c.opts.Capacity {
		if victim, ok := c.evict.victim(c.refsAt, len(c.entries)); ok {
			c.remove(victim)
			c.m.evictions.Inc()
			c.place(victim, h, item)
			return victim, true
		}
		// Every entry is held. Grow past capacity until collection frees slots.
		c.evict.reserve(c.live + 1)
		c.m.overflows.Inc()
	}

	idx = c.alloc()
	c.place(idx, h, item)
	return idx, true
}

// Find is a read-only lookup: it neither takes a reference nor updates recency.
func (c *Cache[T]) Find(item T) (uint32, bool) {
	return c.lookup(c.hash(item), item)
}

// Release drops one reference. Entries reaching zero are removed by the next GarbageCollect.
func (c *Cache[T]) Release(idx uint32) {
	if int(idx) >= len(c.entries) {
		return
	}
	e := &c.entries[idx]
	if e.live && e.refs > 0 {
		e.refs--
	}
}

// GarbageCollect tombstones every live entry with no references that is not in active.
// Surviving indices are untouched. Returns the number of removed entries.
func (c *Cache[T]) GarbageCollect(active map[uint32]struct{}) int {
	removed := 0
	for i := range c.entries {
		e := &c.entries[i]
		if !e.live || e.refs > 0 {
			continue
		}
		if _, keep := active[uint32(i)]; keep {
			continue
		}
		c.remove(uint32(i))
		c.tombstones = append(c.tombstones, uint32(i))
		removed++
	}
	if removed > 0 {
		c.m.collected.Add(float64(removed))
	}
	return removed
}

// Rebuild makes tombstoned slots reusable. Callers must drop any raw indices they still hold
// for removed entries before calling it.
func (c *Cache[T]) Rebuild() {
	c.free = append(c.free, c.tombstones...)
	c.tombstones = c.tombstones[:0]
	// pop from the tail hands out the lowest index first
	sort.Slice(c.free, func(i, j int) bool { return c.free[i] > c.free[j] })
}

// At returns the payload stored at idx.
func (c *Cache[T]) At(idx uint32) (T, bool) {
	if int(idx) >= len(c.entries) || !c.entries[idx].live {
		var zero T
		return zero, false
	}
	return c.entries[idx].item, true
}

func (c *Cache[T]) RefCount(idx uint32) uint32 {
	n, _ := c.refsAt(idx)
	return n
}

// Len is the table length including tombstones.
func (c *Cache[T]) Len() int { return len(c.entries) }

// Live is the number of entries currently holding a payload.
func (c *Cache[T]) Live() int { return c.live }

// Tombstones is the number of removed slots awaiting Rebuild.
func (c *Cache[T]) Tombstones() int { return len(c.tombstones) }

// Table returns the payloads indexed by slot; tombstones hold the zero value.
func (c *Cache[T]) Table() []T {
	out := make([]T, len(c.entries))
	for i, e := range c.entries {
		if e.live {
			out[i] = e.item
		}
	}
	return out
}

// Each visits live entries in index order. Returning false stops the walk.
func (c *Cache[T]) Each(fn func(idx uint32, item T) bool) {
	for i, e := range c.entries {
		if !e.live {
			continue
		}
		if !fn(uint32(i), e.item) {
			return
		}
	}
}

func (c *Cache[T]) lookup(h uint64, item T) (uint32, bool) {
	for _, idx := range c.buckets[h] {
		if c.equal(c.entries[idx].item, item) {
			return idx, true
		}
	}
	return 0, false
}

func (c *Cache[T]) refsAt(idx uint32) (uint32, bool) {
	if int(idx) >= len(c.entries) || !c.entries[idx].live {
		return 0, false
	}
	return c.entries[idx].refs, true
}

func (c *Cache[T]) alloc() uint32 {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx
	}
	c.entries = append(c.entries, entry[T]{})
	return uint32(len(c.entries) - 1)
}

func (c *Cache[T]) place(idx uint32, h uint64, item T) {
	c.entries[idx] = entry[T]{item: item, hash: h, refs: 1, live: true}
	c.buckets[h] = append(c.buckets[h], idx)
	c.live++
	c.m.live.Set(float64(c.live))
	c.touch(idx)
}

func (c *Cache[T]) remove(idx uint32) {
	e := c.entries[idx]
	bucket := c.buckets[e.hash]
	for i, b := range bucket {
		if b == idx {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, e.hash)
	} else {
		c.buckets[e.hash] = bucket
	}

	if c.onRelease != nil {
		c.onRelease(idx, e.item)
	}
	if c.evict != nil {
		c.evict.forget(idx)
	}
	c.entries[idx] = entry[T]{}
	c.live--
	c.m.live.Set(float64(c.live))
}

func (c *Cache[T]) touch(idx uint32) {
	if c.evict != nil {
		c.evict.touch(idx)
	}
}
