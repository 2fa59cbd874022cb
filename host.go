// Package remix drives the scene manager from a stream of captured legacy frames. A Host owns
// the scene, its acceleration and light peers, the GPU uploader and a profiler, and runs the
// clear, submit, commit and collect steps of every frame in order.
package remix

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gekko3d/remix/rt/app"
	"github.com/gekko3d/remix/rt/bvh"
	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/gpu"
	"github.com/gekko3d/remix/rt/query"
	"github.com/gekko3d/remix/rt/scene"
)

// Frame is everything the game submitted between two presents.
type Frame struct {
	DrawCalls []*core.DrawCall
	Lights    []core.Light
	Volumes   []core.VolumeMaterial
	Fog       *core.FogState
}

// Source produces captured frames. ok is false once the capture is exhausted.
type Source interface {
	NextFrame(ctx context.Context) (f Frame, ok bool, err error)
}

// Report summarizes one frame.
type Report struct {
	Frame    uint32
	States   map[core.ObjectState]int
	Rejected int
	Stats    scene.Stats
}

type Host struct {
	cfg      config.Config
	log      Logger
	scene    *scene.Manager
	accel    *bvh.AccelManager
	lights   *gpu.LightBuffer
	uploader gpu.Uploader
	profiler *app.Profiler

	// surfaces is the pick target, repainted from instance bounds after each commit
	surfaces      *query.GridSurfaceMap
	pixelsPerUnit float32

	onFrame []func(Report)
}

func (h *Host) Scene() *scene.Manager { return h.scene }

func (h *Host) Accel() *bvh.AccelManager { return h.accel }

func (h *Host) Lights() *gpu.LightBuffer { return h.lights }

func (h *Host) Profiler() *app.Profiler { return h.profiler }

func (h *Host) Surfaces() *query.GridSurfaceMap { return h.surfaces }

func (h *Host) Logger() Logger { return h.log }

func (h *Host) Config() config.Config { return h.cfg }

// RunFrame pushes one frame through the scene lifecycle. Malformed draw calls are counted and
// skipped; any other error aborts the frame.
func (h *Host) RunFrame(f Frame) (Report, error) {
	report := Report{States: make(map[core.ObjectState]int)}
	p := h.profiler

	if err := p.Scope("clear", h.scene.Clear); err != nil {
		return report, err
	}
	report.Frame = h.scene.CurrentFrame()

	err := p.Scope("submit", func() error {
		if f.Fog != nil {
			h.scene.SetFogState(*f.Fog)
		}
		for _, l := range f.Lights {
			if err := h.scene.AddLight(l); err != nil {
				return err
			}
		}
		for _, v := range f.Volumes {
			if _, err := h.scene.TrackVolumeMaterial(v); err != nil {
				return err
			}
		}
		for i, dc := range f.DrawCalls {
			r, err := h.scene.SubmitDrawState(dc)
			if errors.Is(err, core.ErrMalformedGeometry) {
				report.Rejected++
				h.log.Warnf("frame %d: draw call %d rejected: %v", report.Frame, i, err)
				continue
			}
			if err != nil {
				return err
			}
			report.States[r.State]++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("remix: frame %d submit: %w", report.Frame, err)
	}

	// upload failures are retried next frame, the frame still completes
	if err := p.Scope("commit", h.scene.PrepareSceneData); err != nil {
		if errors.Is(err, scene.ErrInvalidState) {
			return report, err
		}
		h.log.Errorf("frame %d commit: %v", report.Frame, err)
	}
	if h.surfaces != nil {
		p.BeginScope("surfaces")
		h.paintSurfaces()
		p.EndScope("surfaces")
	}
	if err := p.Scope("gc", h.scene.OnFrameEnd); err != nil {
		return report, err
	}
	if err := h.lights.Err(); err != nil {
		h.log.Errorf("frame %d lights: %v", report.Frame, err)
	}

	report.Stats = h.scene.Stats()
	p.SetCount("objects", report.Stats.Objects)
	p.SetCount("instances", report.Stats.Instances)
	p.SetCount("materials", report.Stats.Materials)
	p.SetCount("buffers", report.Stats.Buffers)
	p.SetCount("blas", h.accel.BlasCount())
	p.EndFrame()

	for _, fn := range h.onFrame {
		fn(report)
	}
	return report, nil
}

// Run pulls frames from src until it is exhausted, ctx is done or maxFrames frames ran.
// maxFrames <= 0 means no limit.
func (h *Host) Run(ctx context.Context, src Source, maxFrames int) error {
	for n := 0; maxFrames <= 0 || n < maxFrames; n++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		f, ok, err := src.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("remix: read frame: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err := h.RunFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// paintSurfaces writes each live instance's material over its world XY footprint. Later
// instances overdraw earlier ones.
func (h *Host) paintSurfaces() {
	h.surfaces.Clear()
	for _, inst := range h.scene.InstanceTable() {
		if inst.Stale {
			continue
		}
		b := inst.WorldBounds
		r := image.Rect(
			int(math.Floor(float64(b[0].X()*h.pixelsPerUnit))),
			int(math.Floor(float64(b[0].Y()*h.pixelsPerUnit))),
			int(math.Ceil(float64(b[1].X()*h.pixelsPerUnit))),
			int(math.Ceil(float64(b[1].Y()*h.pixelsPerUnit))),
		)
		h.surfaces.Fill(r, inst.Binding.MaterialIndex)
	}
}

// Reconfigure applies cfg between frames and updates the logger's debug switch.
func (h *Host) Reconfigure(cfg config.Config) error {
	if err := h.scene.Reconfigure(cfg); err != nil {
		return err
	}
	h.cfg = cfg
	h.log.SetDebug(cfg.Debug)
	return nil
}

// DeviceLost drops every GPU resource and re-queues uploads for the next frame.
func (h *Host) DeviceLost() error {
	h.log.Warnf("device lost at frame %d, rebuilding", h.scene.CurrentFrame())
	return h.scene.Rebuild()
}
