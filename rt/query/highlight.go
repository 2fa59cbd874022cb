package query

import (
	"fmt"
	"sync"

	"github.com/gekko3d/remix/rt/core"

	"github.com/google/uuid"
)

type HighlightKind uint8

const (
	HighlightByMaterial HighlightKind = iota
	// HighlightByLegacyHash is resolved during accumulation by matching submitted texture hashes.
	HighlightByLegacyHash
)

type HighlightKey struct {
	Kind          HighlightKind
	MaterialIndex uint32
	LegacyHash    uint64
}

func ByMaterial(index uint32) HighlightKey {
	return HighlightKey{Kind: HighlightByMaterial, MaterialIndex: index}
}

func ByLegacyHash(hash uint64) HighlightKey {
	return HighlightKey{Kind: HighlightByLegacyHash, LegacyHash: hash}
}

func (k HighlightKey) String() string {
	if k.Kind == HighlightByLegacyHash {
		return fmt.Sprintf("legacy:%#016x", k.LegacyHash)
	}
	return fmt.Sprintf("material:%d", k.MaterialIndex)
}

type HighlightRequest struct {
	ID    uuid.UUID
	Key   HighlightKey
	Color core.HighlightColor
	Frame uint32
}

// Highlight is the published answer: the material index to outline and how.
type Highlight struct {
	RequestID     uuid.UUID
	MaterialIndex uint32
	Color         core.HighlightColor
	Frame         uint32
}

// HighlightBroker holds at most one outstanding highlight request. A new request overwrites the
// old one.
type HighlightBroker struct {
	mu     sync.Mutex
	window Window
	req    HighlightRequest
	has    bool
	result Slot[Highlight]
}

func NewHighlightBroker(w Window) *HighlightBroker {
	return &HighlightBroker{window: w, req: HighlightRequest{Frame: core.InvalidFrame}}
}

func (b *HighlightBroker) SetWindow(w Window) {
	b.mu.Lock()
	b.window = w
	b.mu.Unlock()
}

// Request is safe from any goroutine.
func (b *HighlightBroker) Request(key HighlightKey, color core.HighlightColor, frame uint32) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.req = HighlightRequest{ID: id, Key: key, Color: color, Frame: frame}
	b.has = true
	b.mu.Unlock()
	return id
}

// Pending returns the live request for frame cur. An expired request is dropped here together
// with any answer still published for it.
func (b *HighlightBroker) Pending(cur uint32) (HighlightRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.has {
		return HighlightRequest{}, false
	}
	if !b.window.Keep(b.req.Frame, cur) {
		b.has = false
		b.req = HighlightRequest{Frame: core.InvalidFrame}
		// the answer expires with its request
		b.result.Reset()
		return HighlightRequest{}, false
	}
	return b.req, true
}

func (b *HighlightBroker) Stage(h Highlight) { b.result.Stage(h) }

func (b *HighlightBroker) Publish() { b.result.Swap() }

func (b *HighlightBroker) Consume() (Highlight, bool) { return b.result.Consume() }

func (b *HighlightBroker) State() SlotState { return b.result.State() }

func (b *HighlightBroker) Reset() {
	b.mu.Lock()
	b.has = false
	b.req = HighlightRequest{Frame: core.InvalidFrame}
	b.mu.Unlock()
	b.result.Reset()
}
