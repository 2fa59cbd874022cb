package instance

import (
	"sort"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/drawcall"

	"github.com/go-gl/mathgl/mgl32"
)

// Instance is one placement of a scene object.
type Instance struct {
	ID            core.InstanceID
	Object        core.ObjectID
	Transform     core.Transform
	Binding       core.RenderBinding
	WorldBounds   [2]mgl32.Vec3
	Dirty         core.DirtyMask
	FirstFrame    uint32
	LastSeenFrame uint32
	Stale         bool
}

type Change uint8

const (
	ChangeAdded Change = iota
	ChangeUpdated
)

// Observer receives instance transitions. Peers such as the acceleration-structure manager
// learn about the scene only through it.
type Observer interface {
	OnInstanceAdded(inst *Instance)
	OnInstanceUpdated(inst *Instance, transformChanged, verticesChanged bool)
	OnInstanceDestroyed(inst *Instance)
}

type Tracker struct {
	objects   *drawcall.Cache
	instances map[core.InstanceID]*Instance
	byObject  map[core.ObjectID]map[core.InstanceID]*Instance
	observers []Observer
	nextID    core.InstanceID
}

func NewTracker(objects *drawcall.Cache) *Tracker {
	return &Tracker{
		objects:   objects,
		instances: make(map[core.InstanceID]*Instance),
		byObject:  make(map[core.ObjectID]map[core.InstanceID]*Instance),
		nextID:    1,
	}
}

func (t *Tracker) AddObserver(o Observer) {
	t.observers = append(t.observers, o)
}

// Place binds a submission of obj to an instance. An instance of the same object not yet claimed
// this frame is reused: an exact transform match wins, otherwise the nearest translation.
func (t *Tracker) Place(obj *drawcall.SceneObject, transform core.Transform, binding core.RenderBinding, frame uint32) (*Instance, Change) {
	if inst := t.match(obj.ID, transform, frame); inst != nil {
		transformChanged := !inst.Transform.Equal(transform)
		verticesChanged := obj.State != core.StateUpdateInstance && obj.Dirty.VerticesChanged()

		inst.Dirty = 0
		if verticesChanged {
			inst.Dirty |= obj.Dirty
		}
		if transformChanged {
			inst.Dirty |= core.DirtyTransform
		}
		inst.Transform = transform
		inst.Binding = binding
		inst.WorldBounds = transform.TransformBounds(obj.Bounds)
		inst.LastSeenFrame = frame
		inst.Stale = false

		for _, o := range t.observers {
			o.OnInstanceUpdated(inst, transformChanged, verticesChanged)
		}
		return inst, ChangeUpdated
	}

	inst := &Instance{
		ID:            t.nextID,
		Object:        obj.ID,
		Transform:     transform,
		Binding:       binding,
		WorldBounds:   transform.TransformBounds(obj.Bounds),
		Dirty:         core.DirtyPositions | core.DirtyNormals | core.DirtyIndices | core.DirtyTexcoords | core.DirtyTransform,
		FirstFrame:    frame,
		LastSeenFrame: frame,
	}
	t.nextID++
	t.instances[inst.ID] = inst
	set, ok := t.byObject[obj.ID]
	if !ok {
		set = make(map[core.InstanceID]*Instance)
		t.byObject[obj.ID] = set
	}
	set[inst.ID] = inst
	obj.Refs++

	for _, o := range t.observers {
		o.OnInstanceAdded(inst)
	}
	return inst, ChangeAdded
}

func (t *Tracker) match(object core.ObjectID, transform core.Transform, frame uint32) *Instance {
	var best *Instance
	bestDist := float32(-1)
	want := transform.Translation()
	for _, inst := range t.byObject[object] {
		if inst.LastSeenFrame == frame {
			continue
		}
		if inst.Transform.Equal(transform) {
			return inst
		}
		d := inst.Transform.Translation().Sub(want).LenSqr()
		// ties go to the older instance so matching is deterministic
		if best == nil || d < bestDist || (d == bestDist && inst.ID < best.ID) {
			best, bestDist = inst, d
		}
	}
	return best
}

// Commit runs the end-of-accumulation staleness pass. Instances missed this frame go stale;
// instances already stale are destroyed. Returns the number destroyed.
func (t *Tracker) Commit(frame uint32) int {
	var doomed []*Instance
	for _, inst := range t.instances {
		if inst.LastSeenFrame == frame {
			inst.Stale = false
			continue
		}
		if inst.Stale {
			doomed = append(doomed, inst)
			continue
		}
		inst.Stale = true
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].ID < doomed[j].ID })
	for _, inst := range doomed {
		t.destroy(inst)
	}
	return len(doomed)
}

// RemoveObject destroys every instance of an object. Must run before the object itself goes.
func (t *Tracker) RemoveObject(object core.ObjectID) int {
	set := t.byObject[object]
	doomed := make([]*Instance, 0, len(set))
	for _, inst := range set {
		doomed = append(doomed, inst)
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].ID < doomed[j].ID })
	for _, inst := range doomed {
		t.destroy(inst)
	}
	return len(doomed)
}

func (t *Tracker) destroy(inst *Instance) {
	for _, o := range t.observers {
		o.OnInstanceDestroyed(inst)
	}
	delete(t.instances, inst.ID)
	if set := t.byObject[inst.Object]; set != nil {
		delete(set, inst.ID)
		if len(set) == 0 {
			delete(t.byObject, inst.Object)
		}
	}
	if obj, ok := t.objects.ByID(inst.Object); ok && obj.Refs > 0 {
		obj.Refs--
	}
}

func (t *Tracker) Get(id core.InstanceID) (*Instance, bool) {
	inst, ok := t.instances[id]
	return inst, ok
}

func (t *Tracker) Len() int { return len(t.instances) }

// CountFor returns the live instance count of an object.
func (t *Tracker) CountFor(object core.ObjectID) int {
	return len(t.byObject[object])
}

// Table returns the instances ordered by ID, the order the GPU instance table is written in.
func (t *Tracker) Table() []*Instance {
	out := make([]*Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot copies the material index to legacy texture hash bindings of live instances.
// The copy is safe to search off the render thread.
func (t *Tracker) Snapshot() map[uint32]uint64 {
	out := make(map[uint32]uint64, len(t.instances))
	for _, inst := range t.instances {
		if inst.Stale || inst.Binding.LegacyTextureHash == 0 {
			continue
		}
		out[inst.Binding.MaterialIndex] = inst.Binding.LegacyTextureHash
	}
	return out
}
