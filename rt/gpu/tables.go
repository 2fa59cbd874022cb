package gpu

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/instance"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	MaterialStride = 64
	InstanceStride = 176
	LightStride    = 64
)

// Material flag bits as the shader reads them.
const (
	materialFlagEmissive uint32 = 1 << iota
	materialFlagOpaque
	materialFlagDecal
	materialFlagParticle
)

// MaterialTableBytes serializes the material table. Tombstones serialize as zeroed records so
// indices line up with the cache.
func MaterialTableBytes(materials []core.SurfaceMaterial) []byte {
	if len(materials) == 0 {
		return make([]byte, MaterialStride)
	}
	buf := make([]byte, 0, len(materials)*MaterialStride)
	for _, m := range materials {
		// Material struct (64 bytes)
		// albedo (16)
		// emissive + roughness (16)
		// metalness, ior, alpha_ref, flags (16)
		// albedo_texture, sampler, texture_factor, blend (16)
		buf = append(buf, vec4ToBytes(m.Albedo)...)
		buf = append(buf, vec3ToBytesPadded(m.Emissive)...)
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], math.Float32bits(m.Roughness))

		var flags uint32
		if m.IsEmissive {
			flags |= materialFlagEmissive
		}
		if m.IsFullyOpaque {
			flags |= materialFlagOpaque
		}
		if m.IsDecal {
			flags |= materialFlagDecal
		}
		if m.IsParticle {
			flags |= materialFlagParticle
		}
		buf = append(buf, float32ToBytes(m.Metalness)...)
		buf = append(buf, float32ToBytes(m.IOR)...)
		buf = append(buf, float32ToBytes(m.AlphaTestRef)...)
		buf = append(buf, uint32ToBytes(flags)...)

		buf = append(buf, uint32ToBytes(m.AlbedoTexture)...)
		buf = append(buf, uint32ToBytes(m.SamplerIndex)...)
		buf = append(buf, uint32ToBytes(m.TextureFactor)...)
		buf = append(buf, uint32ToBytes(uint32(m.Blend))...)
	}
	return buf
}

// InstanceTableBytes serializes instances in the given order.
func InstanceTableBytes(instances []*instance.Instance) []byte {
	if len(instances) == 0 {
		return make([]byte, InstanceStride)
	}
	buf := make([]byte, 0, len(instances)*InstanceStride)
	for _, inst := range instances {
		// Instance struct (176 bytes)
		// object_to_world (64)
		// world_to_object (64)
		// aabb_min (16)
		// aabb_max (16)
		// material, sampler, texture, object_id (16)
		buf = append(buf, mat4ToBytes(inst.Transform.ObjectToWorld)...)
		buf = append(buf, mat4ToBytes(inst.Transform.WorldToObject())...)
		buf = append(buf, vec3ToBytesPadded(inst.WorldBounds[0])...)
		buf = append(buf, vec3ToBytesPadded(inst.WorldBounds[1])...)
		buf = append(buf, uint32ToBytes(inst.Binding.MaterialIndex)...)
		buf = append(buf, uint32ToBytes(inst.Binding.SamplerIndex)...)
		buf = append(buf, uint32ToBytes(inst.Binding.TextureIndex)...)
		buf = append(buf, uint32ToBytes(uint32(inst.Object))...)
	}
	return buf
}

func LightTableBytes(lights []core.Light) []byte {
	if len(lights) == 0 {
		return make([]byte, LightStride) // dummy
	}
	buf := make([]byte, 0, len(lights)*LightStride)
	for _, l := range lights {
		// Pos + range (16)
		buf = append(buf, vec4ToBytes(l.Position.Vec4(l.Range))...)
		// Dir + falloff (16)
		buf = append(buf, vec4ToBytes(l.Direction.Vec4(l.Falloff))...)
		// Color + type (16)
		buf = append(buf, vec3ToBytesPadded(l.Color)...)
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], uint32(l.Type))
		// theta, phi (16)
		params := mgl32.Vec4{l.Theta, l.Phi, 0, 0}
		buf = append(buf, vec4ToBytes(params)...)
	}
	return buf
}

// Helpers
func mat4ToBytes(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func vec3ToBytesPadded(v mgl32.Vec3) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	return buf
}

func vec4ToBytes(v mgl32.Vec4) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(v[3]))
	return buf
}

func float32ToBytes(ff float32) []byte {
	return uint32ToBytes(math.Float32bits(ff))
}

func uint32ToBytes(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}
