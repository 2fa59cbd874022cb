package remix

import (
	"fmt"
	"time"

	"github.com/gekko3d/remix/rt/app"
	"github.com/gekko3d/remix/rt/bvh"
	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/gpu"
	"github.com/gekko3d/remix/rt/query"
	"github.com/gekko3d/remix/rt/scene"
)

// Module contributes to a host at build time.
type Module interface {
	Install(b *HostBuilder)
}

type HostBuilder struct {
	cfg          config.Config
	log          Logger
	uploader     gpu.Uploader
	peers        []scene.Peer
	replacements scene.ReplacementResolver
	clock        func() time.Time
	modules      []Module
	onFrame      []func(Report)

	surfaceW, surfaceH int
	pixelsPerUnit      float32
	surfaceMap         query.SurfaceMap
}

func NewHostBuilder() *HostBuilder {
	return &HostBuilder{cfg: config.Default()}
}

func (b *HostBuilder) UseConfig(cfg config.Config) *HostBuilder {
	b.cfg = cfg
	return b
}

func (b *HostBuilder) UseLogger(l Logger) *HostBuilder {
	b.log = l
	return b
}

// UseUploader sets the GPU upload service. Without one the host keeps buffers in memory.
func (b *HostBuilder) UseUploader(u gpu.Uploader) *HostBuilder {
	b.uploader = u
	return b
}

func (b *HostBuilder) UsePeer(peers ...scene.Peer) *HostBuilder {
	b.peers = append(b.peers, peers...)
	return b
}

func (b *HostBuilder) UseReplacements(r scene.ReplacementResolver) *HostBuilder {
	b.replacements = r
	return b
}

func (b *HostBuilder) UseClock(now func() time.Time) *HostBuilder {
	b.clock = now
	return b
}

// UseSurfaceGrid enables texture picking against a w by h grid covering world XY at
// pixelsPerUnit.
func (b *HostBuilder) UseSurfaceGrid(w, h int, pixelsPerUnit float32) *HostBuilder {
	b.surfaceW, b.surfaceH, b.pixelsPerUnit = w, h, pixelsPerUnit
	return b
}

// UseSurfaceMap resolves picks against a fixed map, such as an ID dump loaded from disk. It
// takes precedence over UseSurfaceGrid.
func (b *HostBuilder) UseSurfaceMap(s query.SurfaceMap) *HostBuilder {
	b.surfaceMap = s
	return b
}

// OnFrame registers a callback run after every completed frame.
func (b *HostBuilder) OnFrame(fn func(Report)) *HostBuilder {
	b.onFrame = append(b.onFrame, fn)
	return b
}

func (b *HostBuilder) UseModule(modules ...Module) *HostBuilder {
	b.modules = append(b.modules, modules...)
	return b
}

func (b *HostBuilder) Build() (*Host, error) {
	for _, module := range b.modules {
		module.Install(b)
	}

	if b.log == nil {
		b.log = NewDefaultLogger("remix", b.cfg.Debug)
	}
	if b.uploader == nil {
		b.uploader = gpu.NewMemoryUploader()
	}

	h := &Host{
		cfg:      b.cfg,
		log:      b.log,
		accel:    bvh.NewAccelManager(),
		lights:   gpu.NewLightBuffer(b.uploader),
		uploader: b.uploader,
		profiler: app.NewProfiler(),
		onFrame:  b.onFrame,
	}

	opts := []scene.Option{
		scene.WithLogger(b.log),
		scene.WithAccel(h.accel),
		scene.WithPeer(h.lights),
	}
	for _, p := range b.peers {
		opts = append(opts, scene.WithPeer(p))
	}
	if b.replacements != nil {
		opts = append(opts, scene.WithReplacements(b.replacements))
	}
	if b.clock != nil {
		opts = append(opts, scene.WithClock(b.clock))
	}
	switch {
	case b.surfaceMap != nil:
		opts = append(opts, scene.WithSurfaceMap(b.surfaceMap))
	case b.surfaceW > 0 && b.surfaceH > 0:
		if b.pixelsPerUnit <= 0 {
			return nil, fmt.Errorf("remix: surface grid needs a positive scale, got %v", b.pixelsPerUnit)
		}
		h.surfaces = query.NewGridSurfaceMap(b.surfaceW, b.surfaceH)
		h.pixelsPerUnit = b.pixelsPerUnit
		opts = append(opts, scene.WithSurfaceMap(h.surfaces))
	}

	m, err := scene.New(b.cfg, b.uploader, opts...)
	if err != nil {
		return nil, fmt.Errorf("remix: build scene: %w", err)
	}
	h.scene = m
	if dl, ok := b.log.(*DefaultLogger); ok {
		dl.StampFrames(m.CurrentFrame)
	}
	h.log.Infof("host ready: %d frames in flight, search workers=%d", b.cfg.MaxFramesInFlight, b.cfg.SearchWorkers)
	return h, nil
}
