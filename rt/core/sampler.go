package core

type FilterMode uint8

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressClamp
	AddressMirror
	AddressBorder
)

// SamplerDesc is the sampler state of a draw call. Two samplers with equal descriptors share
// one sampler table slot.
type SamplerDesc struct {
	MinFilter     FilterMode
	MagFilter     FilterMode
	MipFilter     FilterMode
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MaxAnisotropy uint8
	LodBias       float32
	BorderColor   uint32
}

func DefaultSamplerDesc() SamplerDesc {
	return SamplerDesc{
		MinFilter:     FilterLinear,
		MagFilter:     FilterLinear,
		MipFilter:     FilterLinear,
		MaxAnisotropy: 1,
	}
}

func (s SamplerDesc) Hash() uint64 {
	return NewHasher().
		U32(uint32(s.MinFilter)).
		U32(uint32(s.MagFilter)).
		U32(uint32(s.MipFilter)).
		U32(uint32(s.AddressU)).
		U32(uint32(s.AddressV)).
		U32(uint32(s.AddressW)).
		U32(uint32(s.MaxAnisotropy)).
		F32(s.LodBias).
		U32(s.BorderColor).
		Sum()
}

func (s SamplerDesc) Equal(o SamplerDesc) bool { return s == o }

// Patched applies the global mip bias on top of the game's own bias.
func (s SamplerDesc) Patched(mipBias float32) SamplerDesc {
	s.LodBias += mipBias
	return s
}
