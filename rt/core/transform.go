package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is the object-to-world placement of an instance as submitted by the draw call.
type Transform struct {
	ObjectToWorld mgl32.Mat4
}

func NewTransform() Transform {
	return Transform{ObjectToWorld: mgl32.Ident4()}
}

// TransformFromTRS composes M = T * R * S.
func TransformFromTRS(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) Transform {
	translate := mgl32.Translate3D(position.X(), position.Y(), position.Z())
	rotate := rotation.Mat4()
	s := mgl32.Scale3D(scale.X(), scale.Y(), scale.Z())

	return Transform{ObjectToWorld: translate.Mul4(rotate).Mul4(s)}
}

func (t Transform) WorldToObject() mgl32.Mat4 {
	return t.ObjectToWorld.Inv()
}

func (t Transform) Translation() mgl32.Vec3 {
	return t.ObjectToWorld.Col(3).Vec3()
}

func (t Transform) Equal(o Transform) bool {
	return t.ObjectToWorld == o.ObjectToWorld
}

// ApproxEqual compares element-wise within eps.
func (t Transform) ApproxEqual(o Transform, eps float32) bool {
	return t.ObjectToWorld.ApproxEqualThreshold(o.ObjectToWorld, eps)
}

// TransformBounds returns the conservative world AABB of a local AABB.
func (t Transform) TransformBounds(b [2]mgl32.Vec3) [2]mgl32.Vec3 {
	minB, maxB := b[0], b[1]
	corners := [8]mgl32.Vec3{
		{minB.X(), minB.Y(), minB.Z()},
		{maxB.X(), minB.Y(), minB.Z()},
		{minB.X(), maxB.Y(), minB.Z()},
		{maxB.X(), maxB.Y(), minB.Z()},
		{minB.X(), minB.Y(), maxB.Z()},
		{maxB.X(), minB.Y(), maxB.Z()},
		{minB.X(), maxB.Y(), maxB.Z()},
		{maxB.X(), maxB.Y(), maxB.Z()},
	}

	inf := float32(1e20)
	wMin := mgl32.Vec3{inf, inf, inf}
	wMax := mgl32.Vec3{-inf, -inf, -inf}
	for _, c := range corners {
		wc := t.ObjectToWorld.Mul4x1(c.Vec4(1.0)).Vec3()
		wMin = mgl32.Vec3{min(wMin.X(), wc.X()), min(wMin.Y(), wc.Y()), min(wMin.Z(), wc.Z())}
		wMax = mgl32.Vec3{max(wMax.X(), wc.X()), max(wMax.Y(), wc.Y()), max(wMax.Z(), wc.Z())}
	}
	return [2]mgl32.Vec3{wMin, wMax}
}
