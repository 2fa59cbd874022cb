package query

import (
	"image"
	"sync"

	"github.com/gekko3d/remix/rt/core"

	"github.com/google/uuid"
)

type TexturePickRequest struct {
	ID    uuid.UUID
	Pixel image.Point
	Frame uint32
}

// FindSurfaceResult is the answer to a texture pick. The material index is resolved on the
// render thread; the legacy texture hash may need a background search and arrives through the
// future.
type FindSurfaceResult struct {
	RequestID         uuid.UUID
	Frame             uint32
	MaterialIndex     uint32
	LegacyTextureHash *Future[uint64]
}

type TexturePickBroker struct {
	mu     sync.Mutex
	window Window
	req    TexturePickRequest
	has    bool
	result Slot[FindSurfaceResult]
}

func NewTexturePickBroker(w Window) *TexturePickBroker {
	return &TexturePickBroker{window: w, req: TexturePickRequest{Frame: core.InvalidFrame}}
}

func (b *TexturePickBroker) SetWindow(w Window) {
	b.mu.Lock()
	b.window = w
	b.mu.Unlock()
}

func (b *TexturePickBroker) Request(pixel image.Point, frame uint32) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.req = TexturePickRequest{ID: id, Pixel: pixel, Frame: frame}
	b.has = true
	b.mu.Unlock()
	return id
}

// Active returns the live pick request for frame cur. Once expired, the request and its
// published answer are dropped.
func (b *TexturePickBroker) Active(cur uint32) (TexturePickRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.has {
		return TexturePickRequest{}, false
	}
	if !b.window.Keep(b.req.Frame, cur) {
		b.has = false
		b.req = TexturePickRequest{Frame: core.InvalidFrame}
		// the answer expires with its request
		b.result.Reset()
		return TexturePickRequest{}, false
	}
	return b.req, true
}

func (b *TexturePickBroker) Place(r FindSurfaceResult) { b.result.Stage(r) }

func (b *TexturePickBroker) Publish() { b.result.Swap() }

func (b *TexturePickBroker) Consume() (FindSurfaceResult, bool) { return b.result.Consume() }

func (b *TexturePickBroker) State() SlotState { return b.result.State() }

func (b *TexturePickBroker) Reset() {
	b.mu.Lock()
	b.has = false
	b.req = TexturePickRequest{Frame: core.InvalidFrame}
	b.mu.Unlock()
	b.result.Reset()
}
