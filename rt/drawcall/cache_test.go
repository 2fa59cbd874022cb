package drawcall

import (
	"errors"
	"testing"

	"github.com/gekko3d/remix/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quad() core.Geometry {
	return core.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Texcoords: []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func drawCall(hash uint64, g core.Geometry, pos mgl32.Vec3) *core.DrawCall {
	return &core.DrawCall{
		GeometryHash: hash,
		Geometry:     g,
		Transform:    core.Transform{ObjectToWorld: mgl32.Translate3D(pos.X(), pos.Y(), pos.Z())},
	}
}

func TestProcess_NewObjectBuilds(t *testing.T) {
	c := NewCache(0.1)

	obj, state, isNew, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, core.StateBuildBVH, state)
	assert.Equal(t, uint64(0x11), obj.Hash)
	assert.Equal(t, uint32(1), obj.LastSeenFrame)
	assert.Equal(t, core.InvalidIndex, obj.Buffers[core.AttributePositions])
	assert.Equal(t, 1, c.Len())
}

func TestProcess_SameGeometryNewTransformUpdatesInstance(t *testing.T) {
	c := NewCache(0.1)

	first, _, _, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)
	second, state, isNew, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{5, 0, 0}), 2)
	require.NoError(t, err)

	assert.False(t, isNew)
	assert.Same(t, first, second)
	assert.Equal(t, core.StateUpdateInstance, state)
	assert.Equal(t, uint32(2), second.LastSeenFrame)
}

func TestProcess_IndexChangeRebuilds(t *testing.T) {
	c := NewCache(0.1)
	_, _, _, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)

	g := quad()
	g.Indices = []uint32{0, 2, 1, 0, 3, 2}
	obj, state, _, err := c.Process(drawCall(0x11, g, mgl32.Vec3{}), 2)
	require.NoError(t, err)

	assert.Equal(t, core.StateBuildBVH, state)
	assert.True(t, obj.Dirty.Has(core.DirtyIndices))
	assert.Equal(t, g.Indices, obj.Geometry.Indices)
}

func TestProcess_VertexDeltaThreshold(t *testing.T) {
	c := NewCache(0.1)
	_, _, _, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)

	small := quad()
	small.Positions[2] = mgl32.Vec3{1, 1.05, 0}
	obj, state, _, err := c.Process(drawCall(0x11, small, mgl32.Vec3{}), 2)
	require.NoError(t, err)
	assert.Equal(t, core.StateUpdateBVH, state)
	assert.True(t, obj.Dirty.Has(core.DirtyPositions))
	assert.False(t, obj.Dirty.Has(core.DirtyIndices))

	large := small.Clone()
	large.Positions[2] = mgl32.Vec3{1, 3, 0}
	_, state, _, err = c.Process(drawCall(0x11, large, mgl32.Vec3{}), 3)
	require.NoError(t, err)
	assert.Equal(t, core.StateBuildBVH, state)
}

func TestProcess_NormalsOnlyUpdateBVH(t *testing.T) {
	c := NewCache(0.1)
	_, _, _, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)

	g := quad()
	g.Normals[0] = mgl32.Vec3{0, 1, 0}
	obj, state, _, err := c.Process(drawCall(0x11, g, mgl32.Vec3{}), 2)
	require.NoError(t, err)
	assert.Equal(t, core.StateUpdateBVH, state)
	assert.Equal(t, core.DirtyNormals, obj.Dirty)
}

func TestProcess_MalformedIsRejected(t *testing.T) {
	c := NewCache(0.1)

	g := quad()
	g.Normals = g.Normals[:2]
	obj, state, isNew, err := c.Process(drawCall(0x22, g, mgl32.Vec3{}), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMalformedGeometry))
	assert.Nil(t, obj)
	assert.False(t, isNew)
	assert.Equal(t, core.StateInvalid, state)
	assert.Equal(t, 0, c.Len())
}

func TestProcess_ContentKeyWhenHashMissing(t *testing.T) {
	c := NewCache(0.1)

	a, _, isNew, err := c.Process(drawCall(0, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)
	require.True(t, isNew)
	b, _, isNew, err := c.Process(drawCall(0, quad(), mgl32.Vec3{2, 0, 0}), 1)
	require.NoError(t, err)

	assert.False(t, isNew)
	assert.Same(t, a, b)
	g := quad()
	assert.Equal(t, g.Hashes().Content(), a.Hash)
}

func TestProcess_SecondInstanceSameFrameUpdatesInstance(t *testing.T) {
	c := NewCache(0.1)

	obj, state, _, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{}), 1)
	require.NoError(t, err)
	require.Equal(t, core.StateBuildBVH, state)

	again, state, isNew, err := c.Process(drawCall(0x11, quad(), mgl32.Vec3{3, 0, 0}), 1)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, obj, again)
	assert.Equal(t, core.StateUpdateInstance, state)
	assert.Equal(t, core.StateBuildBVH, obj.State, "the frame's BLAS decision is kept")
	assert.True(t, obj.Dirty.VerticesChanged())
}

func TestCollect_RespectsRefsAndRetention(t *testing.T) {
	c := NewCache(0.1)
	held, _, _, _ := c.Process(drawCall(0x1, quad(), mgl32.Vec3{}), 10)
	idle, _, _, _ := c.Process(drawCall(0x2, quad(), mgl32.Vec3{}), 10)
	held.Refs = 1

	var destroyed []core.ObjectID
	onDestroy := func(obj *SceneObject) { destroyed = append(destroyed, obj.ID) }

	assert.Equal(t, 0, c.Collect(12, 5, onDestroy))
	assert.Equal(t, 1, c.Collect(15, 5, onDestroy))
	assert.Equal(t, []core.ObjectID{idle.ID}, destroyed)

	_, ok := c.Get(0x2)
	assert.False(t, ok)
	_, ok = c.ByID(idle.ID)
	assert.False(t, ok)
	_, ok = c.Get(0x1)
	assert.True(t, ok)
}
