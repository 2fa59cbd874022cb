package query

import (
	"github.com/gekko3d/remix/rt/core"
)

// Window is the frame-distance validity window shared by every query kind.
type Window struct {
	MaxFramesInFlight uint32
	Scale             uint32
}

func DefaultWindow() Window {
	return Window{MaxFramesInFlight: 3, Scale: 2}
}

// Frames is the window length.
func (w Window) Frames() uint32 {
	return w.Scale * w.MaxFramesInFlight
}

// Keep reports whether a request issued at requestFrame is still answerable at cur.
func (w Window) Keep(requestFrame, cur uint32) bool {
	if requestFrame == core.InvalidFrame {
		return false
	}
	var d uint32
	if cur >= requestFrame {
		d = cur - requestFrame
	} else {
		d = requestFrame - cur
	}
	return d < w.Frames()
}
