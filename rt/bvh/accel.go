package bvh

import (
	"fmt"
	"sort"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/instance"

	"github.com/go-gl/mathgl/mgl32"
)

// Blas is the bookkeeping kept per scene object. The actual bottom-level build runs on the GPU
// from the object's geometry buffers.
type Blas struct {
	Object    core.ObjectID
	Hash      uint64
	Bounds    [2]mgl32.Vec3
	Builds    int
	Updates   int
	LastFrame uint32
}

type Stats struct {
	FullBuilds     int
	PartialUpdates int
	TLASBuilds     int
	Leaves         int
}

func (s Stats) String() string {
	return fmt.Sprintf("blas full=%d partial=%d tlas=%d leaves=%d", s.FullBuilds, s.PartialUpdates, s.TLASBuilds, s.Leaves)
}

// AccelManager receives BLAS requests from the scene and keeps the TLAS in sync with instance
// transitions. The TLAS is rebuilt at frame end only when an instance moved, appeared or left.
type AccelManager struct {
	builder TLASBuilder

	blas    map[core.ObjectID]*Blas
	leaves  map[core.InstanceID][2]mgl32.Vec3
	full    []core.BlasRequest
	partial []core.BlasRequest
	dirty   bool
	nodes   []Node
	tlas    []byte
	order   []core.InstanceID
	frame   uint32
	total   Stats
}

func NewAccelManager() *AccelManager {
	return &AccelManager{
		blas:   make(map[core.ObjectID]*Blas),
		leaves: make(map[core.InstanceID][2]mgl32.Vec3),
		tlas:   make([]byte, NodeSize),
	}
}

func (m *AccelManager) RequestFullBuild(req core.BlasRequest) {
	b := m.entry(req)
	b.Builds++
	m.full = append(m.full, req)
	m.total.FullBuilds++
}

func (m *AccelManager) RequestPartialUpdate(req core.BlasRequest) {
	b := m.entry(req)
	b.Updates++
	m.partial = append(m.partial, req)
	m.total.PartialUpdates++
}

func (m *AccelManager) entry(req core.BlasRequest) *Blas {
	b, ok := m.blas[req.Object]
	if !ok {
		b = &Blas{Object: req.Object}
		m.blas[req.Object] = b
	}
	b.Hash = req.Hash
	b.Bounds = req.Bounds
	b.LastFrame = req.Frame
	return b
}

// OnObjectDestroyed drops the BLAS of a collected object.
func (m *AccelManager) OnObjectDestroyed(id core.ObjectID) {
	delete(m.blas, id)
}

func (m *AccelManager) OnInstanceAdded(inst *instance.Instance) {
	m.leaves[inst.ID] = inst.WorldBounds
	m.dirty = true
}

func (m *AccelManager) OnInstanceUpdated(inst *instance.Instance, transformChanged, verticesChanged bool) {
	if !transformChanged && !verticesChanged {
		return
	}
	m.leaves[inst.ID] = inst.WorldBounds
	m.dirty = true
}

func (m *AccelManager) OnInstanceDestroyed(inst *instance.Instance) {
	delete(m.leaves, inst.ID)
	m.dirty = true
}

func (m *AccelManager) OnFrameBegin(frame uint32) {
	m.frame = frame
	m.full = m.full[:0]
	m.partial = m.partial[:0]
}

func (m *AccelManager) OnFrameEnd(frame uint32) {
	if !m.dirty {
		return
	}
	m.rebuild()
	m.dirty = false
}

func (m *AccelManager) rebuild() {
	m.order = m.order[:0]
	for id := range m.leaves {
		m.order = append(m.order, id)
	}
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })

	leaves := make([]Leaf, len(m.order))
	for i, id := range m.order {
		leaves[i] = Leaf{Bounds: m.leaves[id], Slot: int32(i)}
	}
	m.nodes = m.builder.Build(leaves)
	m.tlas = Encode(m.nodes)
	m.total.TLASBuilds++
	m.total.Leaves = len(leaves)
}

// Reset drops every BLAS and the TLAS, used on device loss. Instances re-register on their
// next update.
func (m *AccelManager) Reset() {
	clear(m.blas)
	m.full = m.full[:0]
	m.partial = m.partial[:0]
	m.nodes = nil
	m.tlas = make([]byte, NodeSize)
	m.dirty = len(m.leaves) > 0
}

// PendingBuilds returns this frame's full-build requests.
func (m *AccelManager) PendingBuilds() []core.BlasRequest { return m.full }

// PendingUpdates returns this frame's partial-update requests.
func (m *AccelManager) PendingUpdates() []core.BlasRequest { return m.partial }

func (m *AccelManager) Blas(id core.ObjectID) (*Blas, bool) {
	b, ok := m.blas[id]
	return b, ok
}

func (m *AccelManager) BlasCount() int { return len(m.blas) }

// TLAS returns the encoded nodes and the instance each leaf slot refers to.
func (m *AccelManager) TLAS() ([]byte, []core.InstanceID) { return m.tlas, m.order }

func (m *AccelManager) Nodes() []Node { return m.nodes }

func (m *AccelManager) Stats() Stats { return m.total }
