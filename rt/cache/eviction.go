package cache

import (
	"fmt"
	"math/rand/v2"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Policy selects the victim when a bounded cache is full.
type Policy uint8

const (
	EvictOldestUnused Policy = iota
	EvictRandom
)

func (p Policy) String() string {
	switch p {
	case EvictOldestUnused:
		return "oldest-unused"
	case EvictRandom:
		return "random"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "oldest-unused", "lru":
		return EvictOldestUnused, nil
	case "random":
		return EvictRandom, nil
	}
	return 0, fmt.Errorf("cache: unknown eviction policy %q", s)
}

// randomSamples bounds how many live slots the random policy inspects.
const randomSamples = 8

type evictor interface {
	touch(idx uint32)
	forget(idx uint32)
	// victim picks a live slot without holders. Held entries are never victims: their holders
	// keep the raw index.
	victim(refs func(idx uint32) (uint32, bool), slots int) (uint32, bool)
	// reserve makes room to track n live entries once the cache runs over capacity.
	reserve(n int)
}

type lruEvictor struct {
	recency *lru.Cache[uint32, struct{}]
	size    int
}

func newLRUEvictor(capacity int) *lruEvictor {
	recency, err := lru.New[uint32, struct{}](capacity)
	if err != nil {
		panic(err)
	}
	return &lruEvictor{recency: recency, size: capacity}
}

func (e *lruEvictor) touch(idx uint32)  { e.recency.Add(idx, struct{}{}) }
func (e *lruEvictor) forget(idx uint32) { e.recency.Remove(idx) }

func (e *lruEvictor) reserve(n int) {
	if n > e.size {
		e.size = max(n, 2*e.size)
		e.recency.Resize(e.size)
	}
}

func (e *lruEvictor) victim(refs func(idx uint32) (uint32, bool), _ int) (uint32, bool) {
	for _, k := range e.recency.Keys() { // oldest first
		if n, live := refs(k); live && n == 0 {
			return k, true
		}
	}
	return 0, false
}

type randomEvictor struct {
	rng     *rand.Rand
	touched map[uint32]uint64
	tick    uint64
}

func newRandomEvictor(seed uint64) *randomEvictor {
	return &randomEvictor{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		touched: make(map[uint32]uint64),
	}
}

func (e *randomEvictor) touch(idx uint32) {
	e.tick++
	e.touched[idx] = e.tick
}

func (e *randomEvictor) forget(idx uint32) { delete(e.touched, idx) }

func (e *randomEvictor) reserve(int) {}

func (e *randomEvictor) victim(refs func(idx uint32) (uint32, bool), slots int) (uint32, bool) {
	if slots == 0 {
		return 0, false
	}
	var (
		best     uint32
		bestTick uint64
		found    bool
	)
	for attempt, sampled := 0, 0; attempt < randomSamples*4 && sampled < randomSamples; attempt++ {
		idx := uint32(e.rng.IntN(slots))
		if n, live := refs(idx); !live || n > 0 {
			continue
		}
		sampled++
		if tick := e.touched[idx]; !found || tick < bestTick {
			best, bestTick, found = idx, tick, true
		}
	}
	if found {
		return best, true
	}
	// mostly held or sparse table: fall back to a linear scan
	for i := 0; i < slots; i++ {
		if n, live := refs(uint32(i)); live && n == 0 {
			return uint32(i), true
		}
	}
	return 0, false
}
