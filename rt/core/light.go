package core

import "github.com/go-gl/mathgl/mgl32"

type LightType uint8

const (
	LightPoint LightType = iota
	LightSpot
	LightDirectional
)

// Light is a fixed-function light forwarded untouched to the light manager.
type Light struct {
	Type      LightType
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Color     mgl32.Vec3
	Range     float32
	Falloff   float32
	Theta     float32
	Phi       float32
}

// FogState is the fixed-function fog captured during the frame.
type FogState struct {
	Mode    uint32
	Color   mgl32.Vec3
	Scale   float32
	End     float32
	Density float32
}
