package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrMalformedGeometry = errors.New("core: malformed geometry")

type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
)

// Geometry is the vertex/index payload of a single draw call.
// Normals and Texcoords are optional but, when present, must match len(Positions).
type Geometry struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Texcoords []mgl32.Vec2
	Indices   []uint32
	Topology  Topology
}

// GeometryHashes are the per-attribute content hashes used to decide how an object changed.
type GeometryHashes struct {
	Positions uint64
	Normals   uint64
	Texcoords uint64
	Indices   uint64
	// Layout folds topology and counts; a mismatch is a structural change.
	Layout uint64
}

// Content is the whole-geometry hash used as the object key when the caller supplies none.
func (h GeometryHashes) Content() uint64 {
	return NewHasher().U64(h.Positions).U64(h.Normals).U64(h.Texcoords).U64(h.Indices).U64(h.Layout).Sum()
}

func (g *Geometry) VertexCount() int {
	return len(g.Positions)
}

func (g *Geometry) HasTexcoords() bool {
	return len(g.Texcoords) > 0
}

// Validate rejects geometry with inconsistent attribute counts or out-of-range indices.
func (g *Geometry) Validate() error {
	n := len(g.Positions)
	if n == 0 {
		return fmt.Errorf("%w: no positions", ErrMalformedGeometry)
	}
	if len(g.Normals) != 0 && len(g.Normals) != n {
		return fmt.Errorf("%w: %d normals for %d positions", ErrMalformedGeometry, len(g.Normals), n)
	}
	if len(g.Texcoords) != 0 && len(g.Texcoords) != n {
		return fmt.Errorf("%w: %d texcoords for %d positions", ErrMalformedGeometry, len(g.Texcoords), n)
	}

	primitives := len(g.Indices)
	if primitives == 0 {
		primitives = n
	}
	switch g.Topology {
	case TopologyTriangleList:
		if primitives%3 != 0 {
			return fmt.Errorf("%w: %d vertices is not a triangle list", ErrMalformedGeometry, primitives)
		}
	case TopologyTriangleStrip:
		if primitives < 3 {
			return fmt.Errorf("%w: strip with %d vertices", ErrMalformedGeometry, primitives)
		}
	default:
		return fmt.Errorf("%w: unknown topology %d", ErrMalformedGeometry, g.Topology)
	}

	for i, idx := range g.Indices {
		if int(idx) >= n {
			return fmt.Errorf("%w: index %d at %d out of range (%d vertices)", ErrMalformedGeometry, idx, i, n)
		}
	}
	for i, p := range g.Positions {
		if !finite(p[0]) || !finite(p[1]) || !finite(p[2]) {
			return fmt.Errorf("%w: non-finite position at %d", ErrMalformedGeometry, i)
		}
	}
	return nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func (g *Geometry) Hashes() GeometryHashes {
	var h GeometryHashes
	h.Positions = hashVec3s(g.Positions)
	if len(g.Normals) > 0 {
		h.Normals = hashVec3s(g.Normals)
	}
	if len(g.Texcoords) > 0 {
		th := NewHasher()
		for _, t := range g.Texcoords {
			th.F32(t[0]).F32(t[1])
		}
		h.Texcoords = th.Sum()
	}
	if len(g.Indices) > 0 {
		ih := NewHasher()
		for _, i := range g.Indices {
			ih.U32(i)
		}
		h.Indices = ih.Sum()
	}
	h.Layout = NewHasher().
		U32(uint32(g.Topology)).
		U32(uint32(len(g.Positions))).
		U32(uint32(len(g.Indices))).
		Bool(len(g.Normals) > 0).
		Bool(len(g.Texcoords) > 0).
		Sum()
	return h
}

func hashVec3s(vs []mgl32.Vec3) uint64 {
	h := NewHasher()
	for _, v := range vs {
		h.Vec3(v)
	}
	return h.Sum()
}

// Bounds is the local-space AABB of the positions. Returns an inverted box when empty.
func (g *Geometry) Bounds() [2]mgl32.Vec3 {
	inf := float32(math.Inf(1))
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, p := range g.Positions {
		minB = mgl32.Vec3{min(minB.X(), p.X()), min(minB.Y(), p.Y()), min(minB.Z(), p.Z())}
		maxB = mgl32.Vec3{max(maxB.X(), p.X()), max(maxB.Y(), p.Y()), max(maxB.Z(), p.Z())}
	}
	return [2]mgl32.Vec3{minB, maxB}
}

// MaxPositionDelta returns the largest per-vertex displacement between two geometries of equal
// vertex count. Mismatched counts return +Inf.
func MaxPositionDelta(a, b []mgl32.Vec3) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}
	var d float32
	for i := range a {
		if l := a[i].Sub(b[i]).Len(); l > d {
			d = l
		}
	}
	return d
}

// Clone deep-copies the attribute slices so callers can reuse their buffers.
func (g *Geometry) Clone() Geometry {
	return Geometry{
		Positions: append([]mgl32.Vec3(nil), g.Positions...),
		Normals:   append([]mgl32.Vec3(nil), g.Normals...),
		Texcoords: append([]mgl32.Vec2(nil), g.Texcoords...),
		Indices:   append([]uint32(nil), g.Indices...),
		Topology:  g.Topology,
	}
}
