package scene

import (
	"errors"
	"testing"
	"time"

	"github.com/gekko3d/remix/rt/bvh"
	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/gpu"
	"github.com/gekko3d/remix/rt/instance"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SearchWorkers = 0
	return cfg
}

func quad() core.Geometry {
	return core.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Texcoords: []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func drawCall(hash uint64, g core.Geometry, pos mgl32.Vec3, texture uint64) *core.DrawCall {
	return &core.DrawCall{
		GeometryHash: hash,
		Geometry:     g,
		Material: core.LegacyMaterial{
			Diffuse: mgl32.Vec4{1, 1, 1, 1},
			Texture: core.TextureRef{Hash: texture, Width: 64, Height: 64},
			Sampler: core.DefaultSamplerDesc(),
		},
		Transform: core.Transform{ObjectToWorld: mgl32.Translate3D(pos.X(), pos.Y(), pos.Z())},
	}
}

func newManager(t *testing.T, cfg config.Config, opts ...Option) (*Manager, *gpu.MemoryUploader) {
	t.Helper()
	up := gpu.NewMemoryUploader()
	m, err := New(cfg, up, opts...)
	require.NoError(t, err)
	return m, up
}

// runFrame drives one full lifecycle with the given submissions.
func runFrame(t *testing.T, m *Manager, dcs ...*core.DrawCall) []Result {
	t.Helper()
	require.NoError(t, m.Clear())
	out := make([]Result, 0, len(dcs))
	for _, dc := range dcs {
		r, err := m.SubmitDrawState(dc)
		require.NoError(t, err)
		out = append(out, r)
	}
	require.NoError(t, m.PrepareSceneData())
	require.NoError(t, m.OnFrameEnd())
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFramesInFlight = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLifecycle_Order(t *testing.T) {
	m, _ := newManager(t, testConfig())
	assert.Equal(t, PhaseIdle, m.Phase())

	r, err := m.SubmitDrawState(drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, core.StateInvalid, r.State)
	assert.ErrorIs(t, m.PrepareSceneData(), ErrInvalidState)
	assert.ErrorIs(t, m.OnFrameEnd(), ErrInvalidState)

	require.NoError(t, m.Clear())
	assert.Equal(t, PhaseAccumulating, m.Phase())
	assert.Equal(t, uint32(1), m.CurrentFrame())
	assert.ErrorIs(t, m.Clear(), ErrInvalidState)
	assert.ErrorIs(t, m.Rebuild(), ErrInvalidState)
	assert.ErrorIs(t, m.Reconfigure(testConfig()), ErrInvalidState)

	require.NoError(t, m.PrepareSceneData())
	assert.Equal(t, PhaseCommitting, m.Phase())
	_, err = m.TrackVolumeMaterial(core.VolumeMaterial{Density: 1})
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.OnFrameEnd())
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestLifecycle_StrictModePanics(t *testing.T) {
	cfg := testConfig()
	cfg.StrictStateChecks = true
	m, _ := newManager(t, cfg)

	assert.Panics(t, func() { _ = m.OnFrameEnd() })
}

func TestSubmit_SameGeometryNewTransformUpdatesInstance(t *testing.T) {
	accel := bvh.NewAccelManager()
	m, _ := newManager(t, testConfig(), WithAccel(accel))

	first := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]
	assert.Equal(t, core.StateBuildBVH, first.State)
	assert.True(t, first.NewObject)
	assert.Equal(t, instance.ChangeAdded, first.Change)
	assert.Len(t, accel.PendingBuilds(), 1)

	second := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{5, 0, 0}, 0))[0]
	assert.Equal(t, core.StateUpdateInstance, second.State)
	assert.False(t, second.NewObject)
	assert.Equal(t, first.Object, second.Object)
	assert.Equal(t, first.Instance, second.Instance)
	assert.Equal(t, instance.ChangeUpdated, second.Change)
	assert.Empty(t, accel.PendingBuilds())
	assert.Empty(t, accel.PendingUpdates())

	inst := m.InstanceTable()
	require.Len(t, inst, 1)
	assert.Equal(t, mgl32.Vec3{5, 0, 0}, inst[0].Transform.Translation())
	assert.Equal(t, 1, m.Stats().Objects)
}

func TestSubmit_IndexChangeRebuildsAndSwapsBuffer(t *testing.T) {
	accel := bvh.NewAccelManager()
	m, up := newManager(t, testConfig(), WithAccel(accel))

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	obj, ok := m.Object(0x11)
	require.True(t, ok)
	oldIndices := obj.Buffers[core.AttributeIndices]
	oldHandle := m.BufferTable()[oldIndices]
	require.NotEqual(t, gpu.InvalidHandle, oldHandle)
	require.Len(t, m.BufferTable(), 4)

	g := quad()
	g.Indices = []uint32{0, 2, 1, 0, 3, 2}
	r := runFrame(t, m, drawCall(0x11, g, mgl32.Vec3{}, 0))[0]

	assert.Equal(t, core.StateBuildBVH, r.State)
	assert.Len(t, accel.PendingBuilds(), 1)
	assert.NotEqual(t, oldIndices, obj.Buffers[core.AttributeIndices])
	assert.Equal(t, uint32(1), m.BufferRefCount(obj.Buffers[core.AttributePositions]))
	assert.Equal(t, 4, m.Stats().Buffers)

	table := m.BufferTable()
	assert.Len(t, table, 4)
	assert.NotContains(t, table, oldIndices)
	_, live := up.Bytes(oldHandle)
	assert.False(t, live, "replaced index buffer should be released")
}

func TestSubmit_SmallVertexDeltaUpdatesBLAS(t *testing.T) {
	accel := bvh.NewAccelManager()
	cfg := testConfig()
	cfg.VertexDeltaThreshold = 0.1
	m, _ := newManager(t, cfg, WithAccel(accel))

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))

	g := quad()
	g.Positions[2] = mgl32.Vec3{1, 1, 0.05}
	r := runFrame(t, m, drawCall(0x11, g, mgl32.Vec3{}, 0))[0]
	assert.Equal(t, core.StateUpdateBVH, r.State)
	require.Len(t, accel.PendingUpdates(), 1)
	assert.True(t, accel.PendingUpdates()[0].Dirty.Has(core.DirtyPositions))
}

func TestSubmit_InstancedObjectRequestsOneBuild(t *testing.T) {
	accel := bvh.NewAccelManager()
	m, _ := newManager(t, testConfig(), WithAccel(accel))

	rs := runFrame(t, m,
		drawCall(0x11, quad(), mgl32.Vec3{}, 0),
		drawCall(0x11, quad(), mgl32.Vec3{3, 0, 0}, 0),
	)
	assert.Equal(t, rs[0].Object, rs[1].Object)
	assert.NotEqual(t, rs[0].Instance, rs[1].Instance)
	assert.Equal(t, rs[0].Binding, rs[1].Binding)
	assert.Equal(t, core.StateBuildBVH, rs[0].State)
	assert.Equal(t, core.StateUpdateInstance, rs[1].State)
	assert.Len(t, accel.PendingBuilds(), 1)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, 2, stats.Instances)
	assert.Equal(t, 4, stats.Buffers)
	assert.Equal(t, 1, stats.Materials)

	obj, _ := m.Object(0x11)
	assert.Equal(t, uint32(1), m.BufferRefCount(obj.Buffers[core.AttributePositions]))
}

func TestSubmit_MalformedGeometryCreatesNothing(t *testing.T) {
	m, _ := newManager(t, testConfig())
	require.NoError(t, m.Clear())

	g := quad()
	g.Indices = []uint32{0, 1, 9}
	r, err := m.SubmitDrawState(drawCall(0x11, g, mgl32.Vec3{}, 0xbeef))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMalformedGeometry))
	assert.Equal(t, core.StateInvalid, r.State)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, stats.Objects)
	assert.Zero(t, stats.Materials)
	assert.Zero(t, stats.Textures)
}

func TestGarbageCollect_DropsUnseenObjects(t *testing.T) {
	accel := bvh.NewAccelManager()
	cfg := testConfig()
	cfg.ObjectRetentionFrames = 2
	m, up := newManager(t, cfg, WithAccel(accel))

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0xbeef))
	require.Equal(t, 4, m.Stats().Buffers)

	runFrame(t, m)
	stats := m.Stats()
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, 1, stats.Instances, "stale instance survives one frame")
	assert.Equal(t, 1, stats.Materials)
	require.Len(t, m.InstanceTable(), 1)
	assert.True(t, m.InstanceTable()[0].Stale)

	runFrame(t, m)
	stats = m.Stats()
	assert.Zero(t, stats.Objects)
	assert.Zero(t, stats.Instances)
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Materials)
	assert.Zero(t, stats.Samplers)
	assert.Zero(t, stats.Textures)
	assert.Equal(t, 1, stats.Collected)
	assert.Empty(t, m.BufferTable())
	assert.Zero(t, accel.BlasCount())

	// only the two double-buffered tables remain on the device
	assert.Equal(t, 4, up.Live())
}

func TestGarbageCollect_ReappearingInstanceKeepsID(t *testing.T) {
	m, _ := newManager(t, testConfig())

	first := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]
	runFrame(t, m)
	again := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]

	assert.Equal(t, first.Instance, again.Instance)
	assert.Equal(t, instance.ChangeUpdated, again.Change)
	assert.False(t, m.InstanceTable()[0].Stale)
}

func TestTables_FlipEachCommit(t *testing.T) {
	m, up := newManager(t, testConfig())

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	mats, insts := m.GPUTables()
	assert.NotEqual(t, gpu.InvalidHandle, mats.Current)
	assert.Equal(t, gpu.InvalidHandle, mats.Previous)
	data, ok := up.Bytes(insts.Current)
	require.True(t, ok)
	assert.Len(t, data, gpu.InstanceStride)

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	next, _ := m.GPUTables()
	assert.Equal(t, mats.Current, next.Previous)

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	_, live := up.Bytes(mats.Current)
	assert.False(t, live, "table two commits old is released")
}

func TestReplacements_OverrideMaterial(t *testing.T) {
	dc := drawCall(0x11, quad(), mgl32.Vec3{}, 0xbeef)
	red := core.NewSurfaceMaterial(mgl32.Vec4{1, 0, 0, 1})
	m, _ := newManager(t, testConfig(), WithReplacements(StaticReplacements{dc.Material.Hash(): red}))
	assert.Equal(t, ReplacementsReady, m.ReplacementStatus())

	r := runFrame(t, m, dc)[0]
	got := m.MaterialTable()[r.Binding.MaterialIndex]
	assert.Equal(t, red.Albedo, got.Albedo)
	assert.Equal(t, r.Binding.TextureIndex, got.AlbedoTexture)
	assert.Equal(t, r.Binding.SamplerIndex, got.SamplerIndex)

	idx, ok := m.FindByContent(got)
	assert.True(t, ok)
	assert.Equal(t, r.Binding.MaterialIndex, idx)
}

func TestReplacements_NoneByDefault(t *testing.T) {
	m, _ := newManager(t, testConfig())
	assert.Equal(t, ReplacementsNone, m.ReplacementStatus())

	r := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]
	got := m.MaterialTable()[r.Binding.MaterialIndex]
	assert.True(t, got.IsFullyOpaque)
	assert.Equal(t, core.InvalidIndex, got.AlbedoTexture)
}

func TestSampler_MipBiasPatched(t *testing.T) {
	cfg := testConfig()
	cfg.SamplerMipBias = -0.5
	m, _ := newManager(t, cfg)

	r := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]
	s := m.SamplerTable()[r.Binding.SamplerIndex]
	assert.Equal(t, core.DefaultSamplerDesc().Patched(-0.5), s)
}

func TestVolumesLightsAndFog(t *testing.T) {
	lights := gpu.NewLightBuffer(gpu.NewMemoryUploader())
	m, _ := newManager(t, testConfig(), WithPeer(lights))

	require.NoError(t, m.Clear())
	fog := core.FogState{Mode: 1, Color: mgl32.Vec3{0.5, 0.5, 0.5}, End: 100}
	m.SetFogState(fog)
	got, ok := m.FogState()
	assert.True(t, ok)
	assert.Equal(t, fog, got)

	smoke := core.VolumeMaterial{Albedo: mgl32.Vec3{1, 1, 1}, Density: 0.2}
	a, err := m.TrackVolumeMaterial(smoke)
	require.NoError(t, err)
	b, err := m.TrackVolumeMaterial(smoke)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, m.AddLight(core.Light{Type: core.LightPoint, Range: 10}))
	assert.Len(t, lights.Lights(), 1)
	require.NoError(t, m.PrepareSceneData())
	require.NoError(t, m.OnFrameEnd())
	assert.Equal(t, 1, m.Stats().Volumes)
	assert.NotEqual(t, gpu.InvalidHandle, lights.Table().Current)

	runFrame(t, m)
	_, ok = m.FogState()
	assert.False(t, ok)
	assert.Zero(t, m.Stats().Volumes, "volume not tracked this frame is collected")
	assert.Empty(t, lights.Lights())
}

func TestGameTime_FixedStep(t *testing.T) {
	cfg := testConfig()
	cfg.FixedFrameTimeMS = 10
	m, _ := newManager(t, cfg)

	for i := 0; i < 3; i++ {
		runFrame(t, m)
	}
	assert.Equal(t, 30*time.Millisecond, m.GameTimeSinceStart())
}

func TestGameTime_Clock(t *testing.T) {
	now := time.Unix(1000, 0)
	m, _ := newManager(t, testConfig(), WithClock(func() time.Time { return now }))

	now = now.Add(1500 * time.Millisecond)
	runFrame(t, m)
	assert.Equal(t, 1500*time.Millisecond, m.GameTimeSinceStart())
}

func TestPreviousFrameSceneAvailable(t *testing.T) {
	m, _ := newManager(t, testConfig())

	require.NoError(t, m.Clear())
	assert.False(t, m.IsPreviousFrameSceneAvailable())
	require.NoError(t, m.PrepareSceneData())
	require.NoError(t, m.OnFrameEnd())

	require.NoError(t, m.Clear())
	assert.True(t, m.IsPreviousFrameSceneAvailable())
	require.NoError(t, m.PrepareSceneData())
	require.NoError(t, m.OnFrameEnd())

	require.NoError(t, m.Rebuild())
	require.NoError(t, m.Clear())
	assert.False(t, m.IsPreviousFrameSceneAvailable())
}

func TestReconfigure(t *testing.T) {
	m, _ := newManager(t, testConfig())

	cfg := testConfig()
	cfg.MaterialCapacity = 16
	assert.ErrorIs(t, m.Reconfigure(cfg), config.ErrInvalid)

	cfg = testConfig()
	cfg.QueryWindowScale = 4
	cfg.VertexDeltaThreshold = 0.5
	require.NoError(t, m.Reconfigure(cfg))
	assert.Equal(t, uint32(12), m.Config().QueryWindowFrames())
}

func TestRebuild_ReuploadsBuffers(t *testing.T) {
	accel := bvh.NewAccelManager()
	m, up := newManager(t, testConfig(), WithAccel(accel))

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	require.Len(t, m.BufferTable(), 4)

	require.NoError(t, m.Rebuild())
	assert.Empty(t, m.BufferTable())
	assert.Zero(t, up.Live())
	assert.Zero(t, accel.BlasCount())

	r := runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))[0]
	assert.Equal(t, core.StateUpdateInstance, r.State)
	assert.Len(t, accel.PendingBuilds(), 1, "lost BLAS is rebuilt in full")
	assert.Equal(t, 1, accel.BlasCount())
	assert.Len(t, m.BufferTable(), 4)
	// four buffers plus the first table of each pair
	assert.Equal(t, 6, up.Live())
}

func TestRebuild_RequestsOneFullBuildPerObject(t *testing.T) {
	accel := bvh.NewAccelManager()
	m, _ := newManager(t, testConfig(), WithAccel(accel))

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	require.NoError(t, m.Rebuild())

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	require.Len(t, accel.PendingBuilds(), 1)

	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	assert.Empty(t, accel.PendingBuilds())
	assert.Empty(t, accel.PendingUpdates())
}

func TestStatsString(t *testing.T) {
	m, _ := newManager(t, testConfig())
	runFrame(t, m, drawCall(0x11, quad(), mgl32.Vec3{}, 0))
	assert.Contains(t, m.Stats().String(), "objects=1 instances=1")
}
