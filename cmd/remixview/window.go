package main

import (
	"fmt"
	"image"

	"github.com/gekko3d/remix"
	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/query"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/glfw/v3.3/glfw"
)

const (
	windowWidth  = 1280
	windowHeight = 720
	// window pixels per surface grid cell
	gridDownscale = 4
)

// device is a headless wgpu device; the view never presents, it only owns buffers.
type device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
}

func openDevice() (*device, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	return &device{instance: instance, adapter: adapter, device: dev}, nil
}

func (d *device) Release() {
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}

// viewer turns window input into scene queries. Hovering picks the surface under the cursor,
// clicking highlights the last picked material, R simulates device loss.
type viewer struct {
	window *glfw.Window
	host   *remix.Host
	log    remix.Logger

	lastPick     query.FindSurfaceResult
	hasPick      bool
	reportedHash bool
	deviceLost   bool
}

func openViewer(host *remix.Host) (*viewer, error) {
	if err := glfw.Init(); err != nil {
		return nil, err
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(windowWidth, windowHeight, "remixview", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, err
	}

	v := &viewer{window: window, host: host, log: host.Logger()}
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		s := v.host.Scene()
		s.RequestTexturePick(cursorToGrid(xpos, ypos), s.CurrentFrame())
	})
	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft || action != glfw.Press || !v.hasPick {
			return
		}
		s := v.host.Scene()
		s.RequestHighlight(query.ByMaterial(v.lastPick.MaterialIndex), core.HighlightUI, s.CurrentFrame())
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyR:
			v.deviceLost = true
		}
	})
	return v, nil
}

// cursorToGrid maps window coordinates to the surface grid, whose Y axis points up.
func cursorToGrid(x, y float64) image.Point {
	return image.Pt(int(x)/gridDownscale, (windowHeight-1-int(y))/gridDownscale)
}

func (v *viewer) ShouldClose() bool { return v.window.ShouldClose() }

// Poll handles window events and drains query results. Called between frames.
func (v *viewer) Poll() error {
	glfw.PollEvents()
	if v.deviceLost {
		v.deviceLost = false
		if err := v.host.DeviceLost(); err != nil {
			return err
		}
	}

	s := v.host.Scene()
	if res, ok := s.ConsumeTexturePickResult(); ok {
		if !v.hasPick || res.RequestID != v.lastPick.RequestID || res.MaterialIndex != v.lastPick.MaterialIndex {
			v.reportedHash = false
		}
		v.lastPick, v.hasPick = res, true
	}
	if v.hasPick && !v.reportedHash {
		select {
		case <-v.lastPick.LegacyTextureHash.Done():
			hash, state := v.lastPick.LegacyTextureHash.TryGet()
			v.log.Infof("pick: material %d legacy texture %#x (%s)", v.lastPick.MaterialIndex, hash, state)
			v.reportedHash = true
		default:
		}
	}
	if h, ok := s.ConsumeHighlightResult(); ok {
		v.log.Debugf("highlight: material %d at frame %d", h.MaterialIndex, h.Frame)
	}
	return nil
}

func (v *viewer) Close() {
	v.window.Destroy()
	glfw.Terminate()
}
