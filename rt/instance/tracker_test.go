package instance

import (
	"testing"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/drawcall"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	added     []core.InstanceID
	updated   []core.InstanceID
	destroyed []core.InstanceID
	moved     int
	deformed  int
}

func (r *recorder) OnInstanceAdded(inst *Instance) { r.added = append(r.added, inst.ID) }

func (r *recorder) OnInstanceUpdated(inst *Instance, transformChanged, verticesChanged bool) {
	r.updated = append(r.updated, inst.ID)
	if transformChanged {
		r.moved++
	}
	if verticesChanged {
		r.deformed++
	}
}

func (r *recorder) OnInstanceDestroyed(inst *Instance) {
	r.destroyed = append(r.destroyed, inst.ID)
}

func triangle() core.Geometry {
	return core.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
	}
}

func at(x float32) core.Transform {
	return core.Transform{ObjectToWorld: mgl32.Translate3D(x, 0, 0)}
}

func setup(t *testing.T) (*drawcall.Cache, *Tracker, *recorder) {
	t.Helper()
	objects := drawcall.NewCache(0.1)
	tr := NewTracker(objects)
	rec := &recorder{}
	tr.AddObserver(rec)
	return objects, tr, rec
}

func submit(t *testing.T, objects *drawcall.Cache, g core.Geometry, frame uint32) *drawcall.SceneObject {
	t.Helper()
	obj, _, _, err := objects.Process(&core.DrawCall{GeometryHash: 0xabc, Geometry: g}, frame)
	require.NoError(t, err)
	return obj
}

func TestPlace_ReusesAcrossFrames(t *testing.T) {
	objects, tr, rec := setup(t)

	obj := submit(t, objects, triangle(), 1)
	first, change := tr.Place(obj, at(0), core.RenderBinding{MaterialIndex: 3}, 1)
	assert.Equal(t, ChangeAdded, change)
	assert.Equal(t, 1, obj.Refs)
	tr.Commit(1)

	obj = submit(t, objects, triangle(), 2)
	second, change := tr.Place(obj, at(2), core.RenderBinding{MaterialIndex: 3}, 2)
	assert.Equal(t, ChangeUpdated, change)
	assert.Same(t, first, second)
	assert.True(t, second.Dirty.Has(core.DirtyTransform))
	assert.False(t, second.Dirty.VerticesChanged())
	assert.Equal(t, 1, obj.Refs)
	assert.Equal(t, 1, rec.moved)
	assert.Equal(t, 0, rec.deformed)
	assert.InDelta(t, 2.0, second.WorldBounds[0].X(), 1e-6)
}

func TestPlace_NearestTranslationWins(t *testing.T) {
	objects, tr, _ := setup(t)

	obj := submit(t, objects, triangle(), 1)
	left, _ := tr.Place(obj, at(0), core.RenderBinding{}, 1)
	right, _ := tr.Place(obj, at(10), core.RenderBinding{}, 1)
	assert.NotEqual(t, left.ID, right.ID)
	assert.Equal(t, 2, obj.Refs)
	tr.Commit(1)

	obj = submit(t, objects, triangle(), 2)
	got, _ := tr.Place(obj, at(9), core.RenderBinding{}, 2)
	assert.Equal(t, right.ID, got.ID)
	got, _ = tr.Place(obj, at(0), core.RenderBinding{}, 2)
	assert.Equal(t, left.ID, got.ID)
	assert.False(t, got.Dirty.Has(core.DirtyTransform))
}

func TestPlace_DeformedGeometryFlagsVertices(t *testing.T) {
	objects, tr, rec := setup(t)

	obj := submit(t, objects, triangle(), 1)
	tr.Place(obj, at(0), core.RenderBinding{}, 1)
	tr.Commit(1)

	g := triangle()
	g.Positions[2] = mgl32.Vec3{0, 1.05, 0}
	obj = submit(t, objects, g, 2)
	require.Equal(t, core.StateUpdateBVH, obj.State)
	inst, _ := tr.Place(obj, at(0), core.RenderBinding{}, 2)

	assert.True(t, inst.Dirty.Has(core.DirtyPositions))
	assert.False(t, inst.Dirty.Has(core.DirtyTransform))
	assert.Equal(t, 1, rec.deformed)
}

func TestCommit_StaleThenRemoved(t *testing.T) {
	objects, tr, rec := setup(t)

	obj := submit(t, objects, triangle(), 1)
	inst, _ := tr.Place(obj, at(0), core.RenderBinding{}, 1)
	assert.Equal(t, 0, tr.Commit(1))

	assert.Equal(t, 0, tr.Commit(2))
	assert.True(t, inst.Stale)
	assert.Equal(t, 1, tr.Len())

	assert.Equal(t, 1, tr.Commit(3))
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, obj.Refs)
	assert.Equal(t, []core.InstanceID{inst.ID}, rec.destroyed)
}

func TestCommit_ReappearingClearsStale(t *testing.T) {
	objects, tr, _ := setup(t)

	obj := submit(t, objects, triangle(), 1)
	inst, _ := tr.Place(obj, at(0), core.RenderBinding{}, 1)
	tr.Commit(1)
	tr.Commit(2)
	require.True(t, inst.Stale)

	obj = submit(t, objects, triangle(), 3)
	again, change := tr.Place(obj, at(0), core.RenderBinding{}, 3)
	assert.Equal(t, ChangeUpdated, change)
	assert.Same(t, inst, again)
	assert.Equal(t, 0, tr.Commit(3))
	assert.False(t, inst.Stale)
}

func TestRemoveObject_DestroysInstancesFirst(t *testing.T) {
	objects, tr, rec := setup(t)

	obj := submit(t, objects, triangle(), 1)
	tr.Place(obj, at(0), core.RenderBinding{}, 1)
	tr.Place(obj, at(1), core.RenderBinding{}, 1)

	assert.Equal(t, 2, tr.RemoveObject(obj.ID))
	assert.Equal(t, 0, obj.Refs)
	assert.Equal(t, 0, tr.CountFor(obj.ID))
	assert.Len(t, rec.destroyed, 2)
}

func TestTableAndSnapshot(t *testing.T) {
	objects, tr, _ := setup(t)

	obj := submit(t, objects, triangle(), 1)
	tr.Place(obj, at(0), core.RenderBinding{MaterialIndex: 4, LegacyTextureHash: 0xfeed}, 1)
	tr.Place(obj, at(1), core.RenderBinding{MaterialIndex: 5}, 1)

	table := tr.Table()
	require.Len(t, table, 2)
	assert.Less(t, table[0].ID, table[1].ID)

	snap := tr.Snapshot()
	assert.Equal(t, map[uint32]uint64{4: 0xfeed}, snap)
}
