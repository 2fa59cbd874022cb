package main

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gekko3d/remix"
	"github.com/gekko3d/remix/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

type synthConfig struct {
	Objects int
	Seed    uint64
	// MalformedEvery injects a broken draw call every n frames. Zero disables it.
	MalformedEvery int
	// Extent is the world XY square the objects move in.
	Extent float32
}

// synthStream fakes a game capture: orbiting props, a few deforming meshes, props that blink
// out long enough to be collected, and shared textures.
type synthStream struct {
	cfg    synthConfig
	rng    *rand.Rand
	frame  int
	props  []prop
	shapes []core.Geometry
}

type prop struct {
	hash    uint64
	shape   int
	center  mgl32.Vec2
	radius  float32
	speed   float32
	phase   float32
	texture uint64
	deforms bool
	blinks  bool
}

func newSynthStream(cfg synthConfig) *synthStream {
	if cfg.Extent <= 0 {
		cfg.Extent = 40
	}
	s := &synthStream{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		shapes: []core.Geometry{quadGeometry(), cubeGeometry()},
	}
	for i := 0; i < cfg.Objects; i++ {
		p := prop{
			hash:    0x1000 + uint64(i),
			shape:   i % len(s.shapes),
			center:  mgl32.Vec2{s.rng.Float32() * cfg.Extent, s.rng.Float32() * cfg.Extent},
			radius:  1 + s.rng.Float32()*3,
			speed:   0.01 + s.rng.Float32()*0.05,
			phase:   s.rng.Float32() * 2 * math.Pi,
			deforms: i%7 == 6,
			blinks:  i%5 == 4,
		}
		// a handful of textures shared across props
		if i%3 != 0 {
			p.texture = 0xa000 + uint64(i%4)
		}
		s.props = append(s.props, p)
	}
	return s
}

func (s *synthStream) Next() remix.Frame {
	s.frame++
	f := remix.Frame{
		Lights: []core.Light{{
			Type:     core.LightPoint,
			Position: mgl32.Vec3{s.cfg.Extent / 2, s.cfg.Extent / 2, 10},
			Color:    mgl32.Vec3{1, 0.9, 0.8},
			Range:    s.cfg.Extent,
		}},
		Volumes: []core.VolumeMaterial{{Albedo: mgl32.Vec3{0.8, 0.8, 0.9}, Density: 0.02}},
		Fog:     &core.FogState{Mode: 1, Color: mgl32.Vec3{0.6, 0.6, 0.7}, End: s.cfg.Extent * 2},
	}

	t := float32(s.frame)
	for _, p := range s.props {
		// blinking props vanish for 20 frames out of every 60
		if p.blinks && s.frame%60 >= 40 {
			continue
		}
		angle := p.phase + t*p.speed
		pos := mgl32.Vec3{
			p.center.X() + p.radius*float32(math.Cos(float64(angle))),
			p.center.Y() + p.radius*float32(math.Sin(float64(angle))),
			0,
		}

		g := s.shapes[p.shape]
		if p.deforms {
			g = ripple(g, t)
		}
		f.DrawCalls = append(f.DrawCalls, &core.DrawCall{
			GeometryHash: p.hash,
			Geometry:     g,
			Material: core.LegacyMaterial{
				Diffuse: mgl32.Vec4{1, 1, 1, 1},
				Texture: core.TextureRef{Hash: p.texture, Width: 256, Height: 256},
				Sampler: core.DefaultSamplerDesc(),
			},
			Transform: core.TransformFromTRS(pos, mgl32.QuatRotate(angle, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{1, 1, 1}),
		})
	}

	if s.cfg.MalformedEvery > 0 && s.frame%s.cfg.MalformedEvery == 0 {
		bad := quadGeometry()
		bad.Indices = append(bad.Indices, 0, 1, 99)
		f.DrawCalls = append(f.DrawCalls, &core.DrawCall{GeometryHash: 0xbad, Geometry: bad, Transform: core.NewTransform()})
	}
	return f
}

// ripple displaces z by less than the default vertex delta threshold per frame.
func ripple(g core.Geometry, t float32) core.Geometry {
	out := g.Clone()
	for i, p := range out.Positions {
		out.Positions[i][2] = p.Z() + 0.004*float32(math.Sin(float64(t*0.1)+float64(i)))
	}
	return out
}

// produce feeds frames to out at fps until ctx ends. fps <= 0 produces as fast as the host
// consumes.
func produce(ctx context.Context, s *synthStream, out chan<- remix.Frame, fps int) {
	defer close(out)
	var tick <-chan time.Time
	if fps > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}
		select {
		case <-ctx.Done():
			return
		case out <- s.Next():
		}
	}
}

// chanSource adapts a producer channel to remix.Source.
type chanSource struct {
	frames <-chan remix.Frame
}

func (s chanSource) NextFrame(ctx context.Context) (remix.Frame, bool, error) {
	select {
	case <-ctx.Done():
		return remix.Frame{}, false, ctx.Err()
	case f, ok := <-s.frames:
		return f, ok, nil
	}
}

// tryNextFrame is the non-blocking variant used by the window loop.
func (s chanSource) tryNextFrame() (remix.Frame, bool) {
	select {
	case f, ok := <-s.frames:
		return f, ok
	default:
		return remix.Frame{}, false
	}
}

func quadGeometry() core.Geometry {
	return core.Geometry{
		Positions: []mgl32.Vec3{{-0.5, -0.5, 0}, {0.5, -0.5, 0}, {0.5, 0.5, 0}, {-0.5, 0.5, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Texcoords: []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func cubeGeometry() core.Geometry {
	g := core.Geometry{}
	faces := []struct {
		n    mgl32.Vec3
		u, v mgl32.Vec3
	}{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}},
	}
	for _, f := range faces {
		base := uint32(len(g.Positions))
		c := f.n.Mul(0.5)
		for _, uv := range [4]mgl32.Vec2{{-0.5, -0.5}, {0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5}} {
			g.Positions = append(g.Positions, c.Add(f.u.Mul(uv.X())).Add(f.v.Mul(uv.Y())))
			g.Normals = append(g.Normals, f.n)
			g.Texcoords = append(g.Texcoords, uv.Add(mgl32.Vec2{0.5, 0.5}))
		}
		g.Indices = append(g.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return g
}
