package core

// DrawCall is one fixed-function submission captured from the legacy API.
type DrawCall struct {
	// GeometryHash is the stable identity of the mesh as the game-side capture computed it.
	// Zero means "derive from content".
	GeometryHash uint64
	Geometry     Geometry
	Material     LegacyMaterial
	Transform    Transform
}

// RenderBinding is what an instance binds besides its transform.
type RenderBinding struct {
	MaterialIndex     uint32
	SamplerIndex      uint32
	TextureIndex      uint32
	LegacyTextureHash uint64
}
