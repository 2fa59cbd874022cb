package core

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl32"
)

// Hasher accumulates fields into a 64-bit xxhash content hash.
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func NewHasher() *Hasher {
	return &Hasher{d: xxhash.New()}
}

func (h *Hasher) U32(v uint32) *Hasher {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	h.d.Write(h.buf[:4])
	return h
}

func (h *Hasher) U64(v uint64) *Hasher {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.d.Write(h.buf[:])
	return h
}

func (h *Hasher) F32(v float32) *Hasher {
	return h.U32(math.Float32bits(v))
}

func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.U32(1)
	}
	return h.U32(0)
}

func (h *Hasher) Vec3(v mgl32.Vec3) *Hasher {
	return h.F32(v[0]).F32(v[1]).F32(v[2])
}

func (h *Hasher) Vec4(v mgl32.Vec4) *Hasher {
	return h.F32(v[0]).F32(v[1]).F32(v[2]).F32(v[3])
}

func (h *Hasher) Bytes(b []byte) *Hasher {
	h.d.Write(b)
	return h
}

func (h *Hasher) Sum() uint64 {
	return h.d.Sum64()
}

// HashBytes is the content hash used for raw GPU buffer payloads.
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}
