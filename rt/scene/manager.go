// Package scene turns the per-frame stream of legacy draw calls into the deduplicated scene the
// ray tracer consumes, and answers diagnostic queries about it.
//
// All methods are render-thread only unless documented otherwise. The query request and consume
// methods are the only ones meant to be called from other goroutines.
package scene

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gekko3d/remix/rt/cache"
	"github.com/gekko3d/remix/rt/config"
	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/drawcall"
	"github.com/gekko3d/remix/rt/gpu"
	"github.com/gekko3d/remix/rt/instance"
	"github.com/gekko3d/remix/rt/query"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/google/uuid"
)

type bufferEntry struct {
	hash uint64
	attr core.Attribute
	data []byte
}

type releaseKind uint8

const (
	releaseMaterial releaseKind = iota
	releaseSampler
	releaseTexture
	releaseBuffer
	releaseVolume
)

type deferredRelease struct {
	kind releaseKind
	idx  uint32
}

// Result describes what a submission resolved to.
type Result struct {
	State     core.ObjectState
	Object    core.ObjectID
	Instance  core.InstanceID
	Change    instance.Change
	Binding   core.RenderBinding
	NewObject bool
}

type Stats struct {
	Frame     uint32
	Objects   int
	Instances int
	Materials int
	Samplers  int
	Textures  int
	Buffers   int
	Volumes   int
	Submitted int
	Rejected  int
	Collected int
}

func (s Stats) String() string {
	return fmt.Sprintf("frame=%d objects=%d instances=%d materials=%d samplers=%d textures=%d buffers=%d volumes=%d submitted=%d rejected=%d",
		s.Frame, s.Objects, s.Instances, s.Materials, s.Samplers, s.Textures, s.Buffers, s.Volumes, s.Submitted, s.Rejected)
}

type Manager struct {
	cfg          config.Config
	log          Logger
	uploader     gpu.Uploader
	accel        AccelBuilder
	replacements ReplacementResolver
	peers        []Peer
	lights       []LightSink
	objectObs    []ObjectObserver
	surfaces     query.SurfaceMap
	clock        func() time.Time

	phase Phase
	frame atomic.Uint32

	materials *cache.Cache[core.SurfaceMaterial]
	samplers  *cache.Cache[core.SamplerDesc]
	textures  *cache.Cache[core.TextureRef]
	buffers   *cache.Cache[bufferEntry]
	volumes   *cache.Cache[core.VolumeMaterial]
	objects   *drawcall.Cache
	instances *instance.Tracker

	bufferHandles  map[uint32]gpu.Handle
	pendingUploads map[uint32]struct{}
	retired        []gpu.Handle
	deferred       []deferredRelease
	frameVolumes   map[uint32]struct{}
	requested      map[core.ObjectID]struct{}
	lostBlas       map[core.ObjectID]struct{}
	blasFull       []core.BlasRequest
	blasPartial    []core.BlasRequest

	materialTable gpu.TablePair
	instanceTable gpu.TablePair

	fog    core.FogState
	hasFog bool

	start        time.Time
	gameTime     time.Duration
	lastCommit   uint32
	commits      int
	submitted    int
	rejected     int
	collected    int
	highlightReq query.HighlightRequest
	hasHighlight bool
	highlightHit uint32
	hasHit       bool

	highlight *query.HighlightBroker
	pick      *query.TexturePickBroker
	pool      worker.DynamicWorkerPool
	async     bool
	taskSeq   int

	searchMu   sync.Mutex
	search     *legacySearch
	pickSearch *pickState
}

type Option func(m *Manager)

func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithAccel(a AccelBuilder) Option {
	return func(m *Manager) { m.accel = a }
}

// WithPeer registers a lifecycle peer and whichever optional hooks it implements.
func WithPeer(p Peer) Option {
	return func(m *Manager) { m.addPeer(p) }
}

func WithReplacements(r ReplacementResolver) Option {
	return func(m *Manager) { m.replacements = r }
}

func WithSurfaceMap(s query.SurfaceMap) Option {
	return func(m *Manager) { m.surfaces = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

// New builds a scene manager. The config must already be valid.
func New(cfg config.Config, uploader gpu.Uploader, options ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if uploader == nil {
		uploader = gpu.NewMemoryUploader()
	}

	w := query.Window{MaxFramesInFlight: cfg.MaxFramesInFlight, Scale: cfg.QueryWindowScale}
	m := &Manager{
		cfg:            cfg,
		log:            nopLogger{},
		uploader:       uploader,
		clock:          time.Now,
		materials:      cache.New("materials", core.SurfaceMaterial.Hash, core.SurfaceMaterial.Equal, cfg.CacheOptions(cfg.MaterialCapacity)),
		samplers:       cache.New("samplers", core.SamplerDesc.Hash, core.SamplerDesc.Equal, cfg.CacheOptions(cfg.SamplerCapacity)),
		textures:       cache.New("textures", textureHash, textureEqual, cfg.CacheOptions(cfg.TextureCapacity)),
		buffers:        cache.New("buffers", bufferHash, bufferEqual, cfg.CacheOptions(cfg.BufferCapacity)),
		volumes:        cache.New("volumes", core.VolumeMaterial.Hash, core.VolumeMaterial.Equal, cfg.CacheOptions(cfg.VolumeCapacity)),
		objects:        drawcall.NewCache(cfg.VertexDeltaThreshold),
		bufferHandles:  make(map[uint32]gpu.Handle),
		pendingUploads: make(map[uint32]struct{}),
		frameVolumes:   make(map[uint32]struct{}),
		requested:      make(map[core.ObjectID]struct{}),
		lostBlas:       make(map[core.ObjectID]struct{}),
		materialTable:  gpu.TablePair{Label: "MaterialBuf"},
		instanceTable:  gpu.TablePair{Label: "InstancesBuf"},
		highlight:      query.NewHighlightBroker(w),
		pick:           query.NewTexturePickBroker(w),
	}
	m.instances = instance.NewTracker(m.objects)
	m.buffers.SetReleaseFunc(m.releaseBuffer)

	for _, option := range options {
		option(m)
	}
	m.start = m.clock()

	// Zero workers runs legacy-hash searches inline at commit.
	if cfg.SearchWorkers > 0 {
		m.pool = worker.NewDynamicWorkerPool(cfg.SearchWorkers, 256, 1*time.Second)
		m.async = true
	}

	if m.accel != nil {
		if p, ok := m.accel.(Peer); ok {
			m.addPeer(p)
		}
	}
	m.log.Debugf("scene: ready, window=%d frames, retention=%d frames", w.Frames(), cfg.ObjectRetentionFrames)
	return m, nil
}

func (m *Manager) addPeer(p Peer) {
	for _, existing := range m.peers {
		if existing == p {
			return
		}
	}
	m.peers = append(m.peers, p)
	if o, ok := p.(instance.Observer); ok {
		m.instances.AddObserver(o)
	}
	if l, ok := p.(LightSink); ok {
		m.lights = append(m.lights, l)
	}
	if o, ok := p.(ObjectObserver); ok {
		m.objectObs = append(m.objectObs, o)
	}
}

func textureHash(t core.TextureRef) uint64 {
	return core.NewHasher().U64(t.Hash).U32(t.Width).U32(t.Height).Sum()
}

func textureEqual(a, b core.TextureRef) bool { return a == b }

func bufferHash(b bufferEntry) uint64 { return b.hash }

func bufferEqual(a, b bufferEntry) bool { return bytes.Equal(a.data, b.data) }

// SubmitDrawState resolves one draw call. Valid only while accumulating. Malformed geometry
// returns StateInvalid with an error wrapping core.ErrMalformedGeometry and creates no entries.
func (m *Manager) SubmitDrawState(dc *core.DrawCall) (Result, error) {
	if err := m.expect("SubmitDrawState", PhaseAccumulating); err != nil {
		return Result{State: core.StateInvalid}, err
	}
	frame := m.frame.Load()

	obj, state, isNew, err := m.objects.Process(dc, frame)
	if err != nil {
		m.rejected++
		return Result{State: core.StateInvalid}, err
	}
	m.submitted++

	binding := m.resolveBinding(&dc.Material)
	m.resolveBuffers(obj, state, isNew)

	if _, done := m.requested[obj.ID]; !done {
		// a BLAS dropped on device loss needs a full build whatever the geometry did
		blasState := state
		if _, lost := m.lostBlas[obj.ID]; lost {
			blasState = core.StateBuildBVH
			delete(m.lostBlas, obj.ID)
		}
		switch blasState {
		case core.StateBuildBVH:
			m.blasFull = append(m.blasFull, obj.BlasRequest(frame))
			m.requested[obj.ID] = struct{}{}
		case core.StateUpdateBVH:
			m.blasPartial = append(m.blasPartial, obj.BlasRequest(frame))
			m.requested[obj.ID] = struct{}{}
		}
	}

	inst, change := m.instances.Place(obj, dc.Transform, binding, frame)

	if m.hasHighlight && !m.hasHit && m.highlightReq.Key.Kind == query.HighlightByLegacyHash &&
		binding.LegacyTextureHash == m.highlightReq.Key.LegacyHash {
		m.highlightHit, m.hasHit = binding.MaterialIndex, true
	}

	return Result{
		State:     state,
		Object:    obj.ID,
		Instance:  inst.ID,
		Change:    change,
		Binding:   binding,
		NewObject: isNew,
	}, nil
}

// resolveBinding walks sampler, texture and material in dependency order.
func (m *Manager) resolveBinding(lm *core.LegacyMaterial) core.RenderBinding {
	samplerIdx, _ := m.samplers.InsertOrFind(lm.Sampler.Patched(m.cfg.SamplerMipBias))
	m.deferRelease(releaseSampler, samplerIdx)

	textureIdx := core.InvalidIndex
	if lm.Texture.Valid() {
		textureIdx, _ = m.textures.InsertOrFind(lm.Texture)
		m.deferRelease(releaseTexture, textureIdx)
	}

	var surface core.SurfaceMaterial
	replaced := false
	if m.replacements != nil {
		surface, replaced = m.replacements.MaterialReplacement(lm.Hash())
	}
	if replaced {
		if surface.AlbedoTexture == core.InvalidIndex {
			surface.AlbedoTexture = textureIdx
		}
		if surface.SamplerIndex == core.InvalidIndex {
			surface.SamplerIndex = samplerIdx
		}
	} else {
		surface = core.SurfaceFromLegacy(*lm, textureIdx, samplerIdx)
	}
	materialIdx, _ := m.materials.InsertOrFind(surface)
	m.deferRelease(releaseMaterial, materialIdx)

	return core.RenderBinding{
		MaterialIndex:     materialIdx,
		SamplerIndex:      samplerIdx,
		TextureIndex:      textureIdx,
		LegacyTextureHash: lm.Texture.Hash,
	}
}

// resolveBuffers points the object at shared buffer entries for its current geometry. The
// object holds one reference per attribute; replaced entries are released at frame end.
func (m *Manager) resolveBuffers(obj *drawcall.SceneObject, state core.ObjectState, isNew bool) {
	if !isNew && state == core.StateUpdateInstance {
		return
	}
	for a := core.Attribute(0); a < core.AttributeCount; a++ {
		old := obj.Buffers[a]
		data := obj.Geometry.AttributeData(a)
		if data == nil {
			obj.Buffers[a] = core.InvalidIndex
		} else {
			idx, fresh := m.buffers.InsertOrFind(bufferEntry{hash: core.HashBytes(data), attr: a, data: data})
			if fresh {
				m.pendingUploads[idx] = struct{}{}
			}
			obj.Buffers[a] = idx
		}
		if old != core.InvalidIndex {
			m.deferRelease(releaseBuffer, old)
		}
	}
}

func (m *Manager) deferRelease(kind releaseKind, idx uint32) {
	m.deferred = append(m.deferred, deferredRelease{kind: kind, idx: idx})
}

// releaseBuffer runs when a buffer entry leaves its cache. The GPU free waits for garbage
// collection even when eviction removed the entry mid-frame.
func (m *Manager) releaseBuffer(idx uint32, _ bufferEntry) {
	if h, ok := m.bufferHandles[idx]; ok {
		m.retired = append(m.retired, h)
		delete(m.bufferHandles, idx)
	}
	delete(m.pendingUploads, idx)
}

// TrackVolumeMaterial dedups a participating-media material for this frame.
func (m *Manager) TrackVolumeMaterial(v core.VolumeMaterial) (uint32, error) {
	if err := m.expect("TrackVolumeMaterial", PhaseAccumulating); err != nil {
		return core.InvalidIndex, err
	}
	idx, _ := m.volumes.InsertOrFind(v)
	m.deferRelease(releaseVolume, idx)
	m.frameVolumes[idx] = struct{}{}
	return idx, nil
}

// AddLight forwards a fixed-function light to the light peers.
func (m *Manager) AddLight(l core.Light) error {
	if err := m.expect("AddLight", PhaseAccumulating); err != nil {
		return err
	}
	for _, s := range m.lights {
		s.AddLight(l)
	}
	return nil
}

func (m *Manager) SetFogState(f core.FogState) {
	m.fog, m.hasFog = f, true
}

func (m *Manager) FogState() (core.FogState, bool) {
	return m.fog, m.hasFog
}

func (m *Manager) ClearFogState() {
	m.fog, m.hasFog = core.FogState{}, false
}

// GameTimeSinceStart is wall time since construction, or the sum of fixed frame steps when a
// fixed frame time is configured.
func (m *Manager) GameTimeSinceStart() time.Duration {
	return m.gameTime
}

// IsPreviousFrameSceneAvailable reports whether last frame committed scene data that temporal
// passes may reuse.
func (m *Manager) IsPreviousFrameSceneAvailable() bool {
	return m.commits > 0 && m.lastCommit+1 == m.frame.Load()
}

func (m *Manager) ReplacementStatus() ReplacementStatus {
	if m.replacements == nil {
		return ReplacementsNone
	}
	return m.replacements.Status()
}

// CurrentFrame is safe from any goroutine; producers stamp their requests with it.
func (m *Manager) CurrentFrame() uint32 { return m.frame.Load() }

func (m *Manager) Phase() Phase { return m.phase }

func (m *Manager) Config() config.Config { return m.cfg }

// FindByContent is a read-only lookup in the material table.
func (m *Manager) FindByContent(material core.SurfaceMaterial) (uint32, bool) {
	return m.materials.Find(material)
}

func (m *Manager) MaterialTable() []core.SurfaceMaterial { return m.materials.Table() }

func (m *Manager) SamplerTable() []core.SamplerDesc { return m.samplers.Table() }

func (m *Manager) TextureTable() []core.TextureRef { return m.textures.Table() }

func (m *Manager) VolumeTable() []core.VolumeMaterial { return m.volumes.Table() }

func (m *Manager) InstanceTable() []*instance.Instance { return m.instances.Table() }

// BufferTable maps live buffer slots to their GPU handles. Entries awaiting upload are absent.
func (m *Manager) BufferTable() map[uint32]gpu.Handle {
	out := make(map[uint32]gpu.Handle, len(m.bufferHandles))
	for k, v := range m.bufferHandles {
		out[k] = v
	}
	return out
}

// GPUTables returns the material and instance table handles.
func (m *Manager) GPUTables() (materials, instances gpu.TablePair) {
	return m.materialTable, m.instanceTable
}

func (m *Manager) Object(hash uint64) (*drawcall.SceneObject, bool) { return m.objects.Get(hash) }

func (m *Manager) BufferRefCount(idx uint32) uint32 { return m.buffers.RefCount(idx) }

func (m *Manager) Stats() Stats {
	return Stats{
		Frame:     m.frame.Load(),
		Objects:   m.objects.Len(),
		Instances: m.instances.Len(),
		Materials: m.materials.Live(),
		Samplers:  m.samplers.Live(),
		Textures:  m.textures.Live(),
		Buffers:   m.buffers.Live(),
		Volumes:   m.volumes.Live(),
		Submitted: m.submitted,
		Rejected:  m.rejected,
		Collected: m.collected,
	}
}

// Reconfigure applies new tunables between frames. Cache sizing and policy are fixed for the
// life of the scene.
func (m *Manager) Reconfigure(cfg config.Config) error {
	if err := m.expect("Reconfigure", PhaseIdle); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MaterialCapacity != m.cfg.MaterialCapacity ||
		cfg.SamplerCapacity != m.cfg.SamplerCapacity ||
		cfg.TextureCapacity != m.cfg.TextureCapacity ||
		cfg.BufferCapacity != m.cfg.BufferCapacity ||
		cfg.VolumeCapacity != m.cfg.VolumeCapacity ||
		cfg.Policy() != m.cfg.Policy() ||
		cfg.SearchWorkers != m.cfg.SearchWorkers {
		return fmt.Errorf("%w: cache sizing, eviction policy and search workers cannot change on a live scene", config.ErrInvalid)
	}

	w := query.Window{MaxFramesInFlight: cfg.MaxFramesInFlight, Scale: cfg.QueryWindowScale}
	m.highlight.SetWindow(w)
	m.pick.SetWindow(w)
	m.objects.SetDeltaThreshold(cfg.VertexDeltaThreshold)
	m.cfg = cfg
	m.log.Infof("scene: reconfigured, window=%d frames", w.Frames())
	return nil
}

// uuidOrNil keeps log lines short for requests that never had an ID.
func uuidOrNil(id uuid.UUID) string {
	if id == uuid.Nil {
		return "-"
	}
	return id.String()[:8]
}
