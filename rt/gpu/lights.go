package gpu

import (
	"github.com/gekko3d/remix/rt/core"
)

// LightBuffer collects the frame's lights and uploads them once per frame.
type LightBuffer struct {
	uploader Uploader
	lights   []core.Light
	table    TablePair
	err      error
}

func NewLightBuffer(u Uploader) *LightBuffer {
	return &LightBuffer{uploader: u, table: TablePair{Label: "LightsBuf"}}
}

func (b *LightBuffer) AddLight(l core.Light) {
	b.lights = append(b.lights, l)
}

func (b *LightBuffer) OnFrameBegin(frame uint32) {
	b.lights = b.lights[:0]
}

func (b *LightBuffer) OnFrameEnd(frame uint32) {
	retired, err := b.table.Flip(b.uploader, LightTableBytes(b.lights))
	b.err = err
	if err == nil && retired != InvalidHandle {
		b.uploader.Release(retired)
	}
}

func (b *LightBuffer) Lights() []core.Light { return b.lights }

func (b *LightBuffer) Table() TablePair { return b.table }

// Err is the last upload failure, nil once an upload succeeds.
func (b *LightBuffer) Err() error { return b.err }

// Reset releases both light tables after device loss.
func (b *LightBuffer) Reset() {
	for _, h := range b.table.Drop() {
		b.uploader.Release(h)
	}
}
