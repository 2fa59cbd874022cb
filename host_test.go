package remix

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/query"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	frames []Frame
	err    error
}

func (s *sliceSource) NextFrame(ctx context.Context) (Frame, bool, error) {
	if len(s.frames) == 0 {
		return Frame{}, false, s.err
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true, nil
}

type installCounter struct{ n int }

func (m *installCounter) Install(b *HostBuilder) { m.n++ }

func quad() core.Geometry {
	return core.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Texcoords: []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func quadAt(hash uint64, x, y float32, texture uint64) *core.DrawCall {
	return &core.DrawCall{
		GeometryHash: hash,
		Geometry:     quad(),
		Material: core.LegacyMaterial{
			Diffuse: mgl32.Vec4{1, 1, 1, 1},
			Texture: core.TextureRef{Hash: texture, Width: 32, Height: 32},
			Sampler: core.DefaultSamplerDesc(),
		},
		Transform: core.Transform{ObjectToWorld: mgl32.Translate3D(x, y, 0)},
	}
}

func testHost(t *testing.T, b *HostBuilder) *Host {
	t.Helper()
	cfg := config.Default()
	cfg.SearchWorkers = 0
	h, err := b.UseConfig(cfg).UseLogger(NewNopLogger()).Build()
	require.NoError(t, err)
	return h
}

func TestHostBuilder_InstallsModules(t *testing.T) {
	mod := &installCounter{}
	h := testHost(t, NewHostBuilder().UseModule(mod))
	assert.Equal(t, 1, mod.n)
	assert.NotNil(t, h.Scene())
	assert.Nil(t, h.Surfaces())
}

func TestHostBuilder_RejectsBadSurfaceScale(t *testing.T) {
	_, err := NewHostBuilder().UseLogger(NewNopLogger()).UseSurfaceGrid(8, 8, 0).Build()
	assert.Error(t, err)
}

func TestHost_RunFrameReportsStates(t *testing.T) {
	var seen []uint32
	h := testHost(t, NewHostBuilder().OnFrame(func(r Report) { seen = append(seen, r.Frame) }))

	r, err := h.RunFrame(Frame{
		DrawCalls: []*core.DrawCall{quadAt(0x1, 0, 0, 0), quadAt(0x2, 2, 0, 0)},
		Lights:    []core.Light{{Type: core.LightDirectional}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.Frame)
	assert.Equal(t, 2, r.States[core.StateBuildBVH])
	assert.Equal(t, 2, r.Stats.Objects)
	assert.Len(t, h.Lights().Lights(), 1)

	r, err = h.RunFrame(Frame{DrawCalls: []*core.DrawCall{quadAt(0x1, 1, 0, 0), quadAt(0x2, 2, 0, 0)}})
	require.NoError(t, err)
	assert.Equal(t, 2, r.States[core.StateUpdateInstance])
	assert.Equal(t, []uint32{1, 2}, seen)

	assert.Equal(t, 2, h.Profiler().Counts["objects"])
	assert.Equal(t, []string{"clear", "submit", "commit", "gc"}, h.Profiler().Order)
	assert.Equal(t, 2, h.Accel().BlasCount())
}

func TestHost_MalformedDrawCallSkipped(t *testing.T) {
	h := testHost(t, NewHostBuilder())
	bad := quadAt(0x3, 0, 0, 0)
	bad.Geometry.Positions = nil

	r, err := h.RunFrame(Frame{DrawCalls: []*core.DrawCall{bad, quadAt(0x1, 0, 0, 0)}})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Rejected)
	assert.Equal(t, 1, r.States[core.StateBuildBVH])
}

func TestHost_RunStopsWhenSourceEnds(t *testing.T) {
	h := testHost(t, NewHostBuilder())
	src := &sliceSource{frames: []Frame{{}, {}, {}}}

	require.NoError(t, h.Run(context.Background(), src, 0))
	assert.Equal(t, uint32(3), h.Scene().CurrentFrame())
}

func TestHost_RunHonoursLimitAndErrors(t *testing.T) {
	h := testHost(t, NewHostBuilder())
	require.NoError(t, h.Run(context.Background(), &sliceSource{frames: []Frame{{}, {}, {}}}, 2))
	assert.Equal(t, uint32(2), h.Scene().CurrentFrame())

	boom := errors.New("capture closed")
	err := h.Run(context.Background(), &sliceSource{err: boom}, 0)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx, &sliceSource{frames: []Frame{{}}}, 0))
	assert.Equal(t, uint32(2), h.Scene().CurrentFrame())
}

func TestHost_TexturePickThroughSurfaceGrid(t *testing.T) {
	h := testHost(t, NewHostBuilder().UseSurfaceGrid(16, 16, 4))
	frame := Frame{DrawCalls: []*core.DrawCall{quadAt(0x1, 0, 0, 0xaaaa), quadAt(0x2, 2, 2, 0xbbbb)}}

	first, err := h.RunFrame(frame)
	require.NoError(t, err)
	require.Equal(t, 2, first.Stats.Instances)

	// the second quad covers world [2,3]x[2,3], pixels [8,12)
	id := h.Scene().RequestTexturePick(image.Pt(9, 9), h.Scene().CurrentFrame())
	_, err = h.RunFrame(frame)
	require.NoError(t, err)

	res, ok := h.Scene().ConsumeTexturePickResult()
	require.True(t, ok)
	assert.Equal(t, id, res.RequestID)
	hash, state := res.LegacyTextureHash.TryGet()
	assert.Equal(t, query.FutureReady, state)
	assert.Equal(t, uint64(0xbbbb), hash)
}

func TestHost_DeviceLostReuploads(t *testing.T) {
	h := testHost(t, NewHostBuilder())
	frame := Frame{DrawCalls: []*core.DrawCall{quadAt(0x1, 0, 0, 0)}}
	_, err := h.RunFrame(frame)
	require.NoError(t, err)

	require.NoError(t, h.DeviceLost())
	assert.Empty(t, h.Scene().BufferTable())
	assert.Zero(t, h.Lights().Table().Current)

	_, err = h.RunFrame(frame)
	require.NoError(t, err)
	assert.Len(t, h.Scene().BufferTable(), 4)
}

func TestHost_ReconfigureTogglesDebug(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Default()
	cfg.SearchWorkers = 0
	h, err := NewHostBuilder().UseConfig(cfg).UseLogger(NewLogger("t", false, &out, &out)).Build()
	require.NoError(t, err)

	cfg.Debug = true
	require.NoError(t, h.Reconfigure(cfg))
	assert.True(t, h.Logger().DebugEnabled())
	h.Logger().Debugf("hello %d", 7)
	assert.True(t, strings.Contains(out.String(), "[t] DEBUG: hello 7"))
}

func TestHost_LoggerStampsCurrentFrame(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Default()
	cfg.SearchWorkers = 0
	h, err := NewHostBuilder().UseConfig(cfg).UseLogger(NewLogger("t", false, &out, &out)).Build()
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[t] INFO: host ready")

	_, err = h.RunFrame(Frame{DrawCalls: []*core.DrawCall{quadAt(0x1, 0, 0, 0)}})
	require.NoError(t, err)
	h.Logger().Warnf("late upload %s", "albedo")
	assert.Contains(t, out.String(), "[t] WARN frame 1: late upload albedo")
}

func TestLogger_RoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewLogger("", false, &out, &errOut)
	frame := uint32(0)
	l.StampFrames(func() uint32 { return frame })

	l.Debugf("hidden")
	l.Infof("first")
	frame = 4
	l.Errorf("boom %d", 2)

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "INFO: first")
	assert.Contains(t, errOut.String(), "ERROR frame 4: boom 2")
	assert.NotContains(t, out.String(), "boom")
	assert.Equal(t, "WARN", LevelWarn.String())
}
