package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

type BlendType uint8

const (
	BlendOpaque BlendType = iota
	BlendAlpha
	BlendAdditive
	BlendMultiply
)

// TextureRef identifies a legacy texture by the hash the game-side API produced for it.
type TextureRef struct {
	Hash   uint64
	Width  uint32
	Height uint32
}

func (t TextureRef) Valid() bool { return t.Hash != 0 }

// SurfaceMaterial is the deduplicated material record bound to instances.
// Texture/sampler fields hold cache indices resolved before the material is inserted.
type SurfaceMaterial struct {
	Albedo        mgl32.Vec4
	Emissive      mgl32.Vec3
	Roughness     float32
	Metalness     float32
	IOR           float32
	AlphaTestRef  float32
	Blend         BlendType
	AlbedoTexture uint32
	SamplerIndex  uint32
	IsEmissive    bool
	IsFullyOpaque bool
	IsDecal       bool
	IsParticle    bool
	TextureFactor uint32
}

func NewSurfaceMaterial(albedo mgl32.Vec4) SurfaceMaterial {
	return SurfaceMaterial{
		Albedo:        albedo,
		Roughness:     1.0,
		Metalness:     0.0,
		IOR:           1.0,
		AlbedoTexture: InvalidIndex,
		SamplerIndex:  InvalidIndex,
		IsFullyOpaque: albedo.W() >= 1.0,
	}
}

// Helper for default white
func DefaultSurfaceMaterial() SurfaceMaterial {
	return NewSurfaceMaterial(mgl32.Vec4{1, 1, 1, 1})
}

func (m SurfaceMaterial) Hash() uint64 {
	return NewHasher().
		Vec4(m.Albedo).
		Vec3(m.Emissive).
		F32(m.Roughness).
		F32(m.Metalness).
		F32(m.IOR).
		F32(m.AlphaTestRef).
		U32(uint32(m.Blend)).
		U32(m.AlbedoTexture).
		U32(m.SamplerIndex).
		Bool(m.IsEmissive).
		Bool(m.IsFullyOpaque).
		Bool(m.IsDecal).
		Bool(m.IsParticle).
		U32(m.TextureFactor).
		Sum()
}

func (m SurfaceMaterial) Equal(o SurfaceMaterial) bool { return m == o }

// VolumeMaterial describes participating media bound to volume instances.
type VolumeMaterial struct {
	Albedo           mgl32.Vec3
	Density          float32
	Anisotropy       float32
	EmissiveRadiance mgl32.Vec3
}

func (m VolumeMaterial) Hash() uint64 {
	return NewHasher().Vec3(m.Albedo).F32(m.Density).F32(m.Anisotropy).Vec3(m.EmissiveRadiance).Sum()
}

func (m VolumeMaterial) Equal(o VolumeMaterial) bool { return m == o }

// LegacyMaterial is the fixed-function material as submitted by the game.
type LegacyMaterial struct {
	Diffuse       mgl32.Vec4
	Emissive      mgl32.Vec3
	Texture       TextureRef
	Sampler       SamplerDesc
	Blend         BlendType
	AlphaTestRef  float32
	TextureFactor uint32
	IsDecal       bool
	IsParticle    bool
}

// Hash is the content key asset replacements are looked up by.
func (m LegacyMaterial) Hash() uint64 {
	return NewHasher().
		Vec4(m.Diffuse).
		Vec3(m.Emissive).
		U64(m.Texture.Hash).
		U32(uint32(m.Blend)).
		F32(m.AlphaTestRef).
		U32(m.TextureFactor).
		Bool(m.IsDecal).
		Bool(m.IsParticle).
		Sum()
}

// SurfaceFromLegacy converts a fixed-function material with its texture and sampler already
// resolved to table indices.
func SurfaceFromLegacy(m LegacyMaterial, texture, sampler uint32) SurfaceMaterial {
	s := NewSurfaceMaterial(m.Diffuse)
	s.Emissive = m.Emissive
	s.IsEmissive = m.Emissive != (mgl32.Vec3{})
	s.Blend = m.Blend
	s.AlphaTestRef = m.AlphaTestRef
	s.AlbedoTexture = texture
	s.SamplerIndex = sampler
	s.TextureFactor = m.TextureFactor
	s.IsDecal = m.IsDecal
	s.IsParticle = m.IsParticle
	s.IsFullyOpaque = m.Blend == BlendOpaque && m.Diffuse.W() >= 1.0 && m.AlphaTestRef == 0
	return s
}
