package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type ObjectID uint64
type InstanceID uint64

// InvalidIndex marks an unbound cache slot (no texture, no sampler, no buffer).
const InvalidIndex = ^uint32(0)

// InvalidFrame is the frame id of a request that was never issued.
const InvalidFrame = ^uint32(0)

// ObjectState is the per-submission decision for a scene object.
type ObjectState int8

const (
	StateInvalid        ObjectState = -1
	StateUpdateInstance ObjectState = 0
	StateUpdateBVH      ObjectState = 1
	StateBuildBVH       ObjectState = 2
)

func (s ObjectState) String() string {
	switch s {
	case StateUpdateInstance:
		return "UpdateInstance"
	case StateUpdateBVH:
		return "UpdateBVH"
	case StateBuildBVH:
		return "BuildBVH"
	default:
		return "Invalid"
	}
}

// DirtyMask flags which parts of an instance changed this frame.
type DirtyMask uint8

const (
	DirtyPositions DirtyMask = 1 << iota
	DirtyNormals
	DirtyIndices
	DirtyTransform
	DirtyTexcoords
)

func (m DirtyMask) Has(f DirtyMask) bool { return m&f != 0 }

func (m DirtyMask) VerticesChanged() bool {
	return m.Has(DirtyPositions | DirtyNormals | DirtyIndices | DirtyTexcoords)
}

// Attribute names a geometry stream stored in the shared buffer cache.
type Attribute uint8

const (
	AttributePositions Attribute = iota
	AttributeNormals
	AttributeTexcoords
	AttributeIndices
	AttributeCount
)

func (a Attribute) String() string {
	switch a {
	case AttributePositions:
		return "positions"
	case AttributeNormals:
		return "normals"
	case AttributeTexcoords:
		return "texcoords"
	case AttributeIndices:
		return "indices"
	}
	return "unknown"
}

// AttributeData packs an attribute stream little-endian, the layout the GPU tables expect.
// Absent optional streams return nil.
func (g *Geometry) AttributeData(a Attribute) []byte {
	switch a {
	case AttributePositions:
		return vec3Bytes(g.Positions)
	case AttributeNormals:
		return vec3Bytes(g.Normals)
	case AttributeTexcoords:
		if len(g.Texcoords) == 0 {
			return nil
		}
		buf := make([]byte, 8*len(g.Texcoords))
		for i, t := range g.Texcoords {
			binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(t[0]))
			binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(t[1]))
		}
		return buf
	case AttributeIndices:
		if len(g.Indices) == 0 {
			return nil
		}
		buf := make([]byte, 4*len(g.Indices))
		for i, idx := range g.Indices {
			binary.LittleEndian.PutUint32(buf[i*4:], idx)
		}
		return buf
	}
	return nil
}

func vec3Bytes(vs []mgl32.Vec3) []byte {
	if len(vs) == 0 {
		return nil
	}
	buf := make([]byte, 12*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*12:], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(buf[i*12+4:], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(buf[i*12+8:], math.Float32bits(v[2]))
	}
	return buf
}

// BlasRequest is what the acceleration-structure collaborator receives for a scene object.
type BlasRequest struct {
	Object ObjectID
	Hash   uint64
	Bounds [2]mgl32.Vec3
	Dirty  DirtyMask
	Frame  uint32
}

type HighlightColor uint8

const (
	HighlightWorld HighlightColor = iota
	HighlightUI
	HighlightFromVariable
)
