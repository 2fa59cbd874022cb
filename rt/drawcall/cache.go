package drawcall

import (
	"fmt"

	"github.com/gekko3d/remix/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// SceneObject is one unique mesh, the unit an acceleration structure BLAS is built for.
type SceneObject struct {
	ID            core.ObjectID
	Hash          uint64
	Geometry      core.Geometry
	Hashes        core.GeometryHashes
	Bounds        [2]mgl32.Vec3
	FirstFrame    uint32
	LastSeenFrame uint32
	State         core.ObjectState
	Dirty         core.DirtyMask

	// Refs counts live instances placed from this object.
	Refs int

	// Buffers holds the shared buffer-cache index per attribute, core.InvalidIndex when absent.
	Buffers [core.AttributeCount]uint32
}

func (o *SceneObject) BlasRequest(frame uint32) core.BlasRequest {
	return core.BlasRequest{
		Object: o.ID,
		Hash:   o.Hash,
		Bounds: o.Bounds,
		Dirty:  o.Dirty,
		Frame:  frame,
	}
}

// Cache maps a geometry hash to its SceneObject and decides, per resubmission, how much GPU work
// the change needs.
type Cache struct {
	objects        map[uint64]*SceneObject
	byID           map[core.ObjectID]*SceneObject
	nextID         core.ObjectID
	deltaThreshold float32
}

func NewCache(deltaThreshold float32) *Cache {
	return &Cache{
		objects:        make(map[uint64]*SceneObject),
		byID:           make(map[core.ObjectID]*SceneObject),
		nextID:         1,
		deltaThreshold: deltaThreshold,
	}
}

func (c *Cache) SetDeltaThreshold(threshold float32) {
	c.deltaThreshold = threshold
}

// Key is the object key of a draw call.
func Key(dc *core.DrawCall, hashes core.GeometryHashes) uint64 {
	if dc.GeometryHash != 0 {
		return dc.GeometryHash
	}
	return hashes.Content()
}

// Process resolves the draw call to a scene object. Malformed geometry yields StateInvalid and
// leaves the cache untouched.
func (c *Cache) Process(dc *core.DrawCall, frame uint32) (*SceneObject, core.ObjectState, bool, error) {
	if err := dc.Geometry.Validate(); err != nil {
		return nil, core.StateInvalid, false, fmt.Errorf("drawcall: geometry %#x: %w", dc.GeometryHash, err)
	}

	hashes := dc.Geometry.Hashes()
	key := Key(dc, hashes)

	obj, ok := c.objects[key]
	if !ok {
		obj = &SceneObject{
			ID:         c.nextID,
			Hash:       key,
			Geometry:   dc.Geometry.Clone(),
			Hashes:     hashes,
			Bounds:     dc.Geometry.Bounds(),
			FirstFrame: frame,
			State:      core.StateBuildBVH,
			Dirty:      core.DirtyPositions | core.DirtyNormals | core.DirtyIndices | core.DirtyTexcoords,
		}
		for i := range obj.Buffers {
			obj.Buffers[i] = core.InvalidIndex
		}
		c.nextID++
		c.objects[key] = obj
		c.byID[obj.ID] = obj
		obj.LastSeenFrame = frame
		return obj, obj.State, true, nil
	}

	// Another instance of an object already seen this frame only moves its instance. obj.State
	// keeps the frame's BLAS decision.
	if obj.LastSeenFrame == frame && obj.Hashes == hashes {
		return obj, core.StateUpdateInstance, false, nil
	}

	state, dirty := c.decide(obj, &dc.Geometry, hashes)
	obj.State = state
	obj.Dirty = dirty
	obj.LastSeenFrame = frame
	if state != core.StateUpdateInstance {
		obj.Geometry = dc.Geometry.Clone()
		obj.Hashes = hashes
		obj.Bounds = dc.Geometry.Bounds()
	}
	return obj, state, false, nil
}

func (c *Cache) decide(obj *SceneObject, g *core.Geometry, h core.GeometryHashes) (core.ObjectState, core.DirtyMask) {
	old := obj.Hashes
	if old.Layout != h.Layout || old.Indices != h.Indices {
		return core.StateBuildBVH, core.DirtyPositions | core.DirtyNormals | core.DirtyIndices | core.DirtyTexcoords
	}

	var dirty core.DirtyMask
	if old.Positions != h.Positions {
		dirty |= core.DirtyPositions
	}
	if old.Normals != h.Normals {
		dirty |= core.DirtyNormals
	}
	if old.Texcoords != h.Texcoords {
		dirty |= core.DirtyTexcoords
	}
	if dirty == 0 {
		return core.StateUpdateInstance, 0
	}

	if dirty.Has(core.DirtyPositions) {
		if core.MaxPositionDelta(obj.Geometry.Positions, g.Positions) > c.deltaThreshold {
			return core.StateBuildBVH, dirty
		}
	}
	return core.StateUpdateBVH, dirty
}

func (c *Cache) Get(hash uint64) (*SceneObject, bool) {
	obj, ok := c.objects[hash]
	return obj, ok
}

func (c *Cache) ByID(id core.ObjectID) (*SceneObject, bool) {
	obj, ok := c.byID[id]
	return obj, ok
}

func (c *Cache) Len() int { return len(c.objects) }

func (c *Cache) Each(fn func(obj *SceneObject) bool) {
	for _, obj := range c.objects {
		if !fn(obj) {
			return
		}
	}
}

// Collect destroys objects without instances that have not been seen for retention frames.
// onDestroy runs before the object leaves the cache.
func (c *Cache) Collect(frame, retention uint32, onDestroy func(obj *SceneObject)) int {
	removed := 0
	for key, obj := range c.objects {
		if obj.Refs > 0 || frame-obj.LastSeenFrame < retention {
			continue
		}
		if onDestroy != nil {
			onDestroy(obj)
		}
		delete(c.objects, key)
		delete(c.byID, obj.ID)
		removed++
	}
	return removed
}

// Clear drops every object. Used only on device loss, after the caller released buffers.
func (c *Cache) Clear(onDestroy func(obj *SceneObject)) {
	for key, obj := range c.objects {
		if onDestroy != nil {
			onDestroy(obj)
		}
		delete(c.objects, key)
		delete(c.byID, obj.ID)
	}
}
