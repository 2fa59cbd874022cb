package scene

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/drawcall"
	"github.com/gekko3d/remix/rt/gpu"
)

var ErrInvalidState = errors.New("scene: invalid state")

// Phase is the frame lifecycle position of the manager.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseClearing
	PhaseAccumulating
	PhaseCommitting
	PhaseGarbageCollecting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseClearing:
		return "Clearing"
	case PhaseAccumulating:
		return "Accumulating"
	case PhaseCommitting:
		return "Committing"
	case PhaseGarbageCollecting:
		return "GarbageCollecting"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// expect rejects calls made out of phase. Strict mode fails fast after logging.
func (m *Manager) expect(op string, want Phase) error {
	if m.phase == want {
		return nil
	}
	err := fmt.Errorf("%w: %s called while %s, want %s", ErrInvalidState, op, m.phase, want)
	m.log.Errorf("%v", err)
	if m.cfg.StrictStateChecks {
		panic(err.Error())
	}
	return err
}

// Clear starts a frame: advances the frame index and resets per-frame accumulation. Persistent
// caches are untouched.
func (m *Manager) Clear() error {
	if err := m.expect("Clear", PhaseIdle); err != nil {
		return err
	}
	m.phase = PhaseClearing
	frame := m.frame.Add(1)

	clear(m.requested)
	clear(m.frameVolumes)
	m.blasFull = m.blasFull[:0]
	m.blasPartial = m.blasPartial[:0]
	m.hasHit = false
	m.ClearFogState()

	if step := m.cfg.FixedFrameTime(); step > 0 {
		m.gameTime += step
	} else {
		m.gameTime = m.clock().Sub(m.start)
	}

	// Snapshot the highlight request so the by-hash crawl sees one key for the whole frame.
	m.highlightReq, m.hasHighlight = m.highlight.Pending(frame)
	// expiring a pick here withdraws its answer before anyone reads it this frame
	m.pick.Active(frame)

	for _, p := range m.peers {
		p.OnFrameBegin(frame)
	}
	m.phase = PhaseAccumulating
	return nil
}

// PrepareSceneData commits the accumulated frame: retires stale instances, uploads new buffers
// and tables, hands BLAS work to the accel builder and publishes query results.
func (m *Manager) PrepareSceneData() error {
	if err := m.expect("PrepareSceneData", PhaseAccumulating); err != nil {
		return err
	}
	m.phase = PhaseCommitting
	frame := m.frame.Load()

	if removed := m.instances.Commit(frame); removed > 0 {
		m.log.Debugf("scene: frame %d retired %d instances", frame, removed)
	}

	var errs []error
	if err := m.uploadPending(); err != nil {
		errs = append(errs, err)
	}

	if m.accel != nil {
		for _, req := range m.blasFull {
			m.accel.RequestFullBuild(req)
		}
		for _, req := range m.blasPartial {
			m.accel.RequestPartialUpdate(req)
		}
	}

	retired, err := m.materialTable.Flip(m.uploader, gpu.MaterialTableBytes(m.materials.Table()))
	if err != nil {
		errs = append(errs, err)
	} else if retired != gpu.InvalidHandle {
		m.retired = append(m.retired, retired)
	}
	retired, err = m.instanceTable.Flip(m.uploader, gpu.InstanceTableBytes(m.instances.Table()))
	if err != nil {
		errs = append(errs, err)
	} else if retired != gpu.InvalidHandle {
		m.retired = append(m.retired, retired)
	}

	m.resolveHighlight(frame)
	m.resolveTexturePick(frame)
	m.dispatchSearches()

	m.commits++
	m.lastCommit = frame
	return errors.Join(errs...)
}

func (m *Manager) uploadPending() error {
	if len(m.pendingUploads) == 0 {
		return nil
	}
	pending := make([]uint32, 0, len(m.pendingUploads))
	for idx := range m.pendingUploads {
		pending = append(pending, idx)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	var errs []error
	for _, idx := range pending {
		e, ok := m.buffers.At(idx)
		if !ok {
			delete(m.pendingUploads, idx)
			continue
		}
		h, err := m.uploader.Upload(fmt.Sprintf("%s#%d", e.attr, idx), e.data)
		if err != nil {
			// stays pending and retries next frame
			errs = append(errs, fmt.Errorf("scene: upload buffer %d: %w", idx, err))
			continue
		}
		m.bufferHandles[idx] = h
		delete(m.pendingUploads, idx)
	}
	return errors.Join(errs...)
}

// OnFrameEnd garbage-collects and returns to Idle.
func (m *Manager) OnFrameEnd() error {
	if err := m.expect("OnFrameEnd", PhaseCommitting); err != nil {
		return err
	}
	m.phase = PhaseGarbageCollecting
	frame := m.frame.Load()

	for _, r := range m.deferred {
		m.release(r)
	}
	m.deferred = m.deferred[:0]

	destroyed := m.objects.Collect(frame, m.cfg.ObjectRetentionFrames, m.destroyObject)
	m.collected += destroyed

	// Entries bound by surviving instances stay, stale ones included.
	activeMaterials := make(map[uint32]struct{})
	activeSamplers := make(map[uint32]struct{})
	activeTextures := make(map[uint32]struct{})
	for _, inst := range m.instances.Table() {
		activeMaterials[inst.Binding.MaterialIndex] = struct{}{}
		activeSamplers[inst.Binding.SamplerIndex] = struct{}{}
		if inst.Binding.TextureIndex != core.InvalidIndex {
			activeTextures[inst.Binding.TextureIndex] = struct{}{}
		}
	}
	gced := m.materials.GarbageCollect(activeMaterials) +
		m.samplers.GarbageCollect(activeSamplers) +
		m.textures.GarbageCollect(activeTextures) +
		m.buffers.GarbageCollect(nil) +
		m.volumes.GarbageCollect(m.frameVolumes)
	if destroyed > 0 || gced > 0 {
		m.log.Debugf("scene: frame %d destroyed %d objects, collected %d entries", frame, destroyed, gced)
	}

	for _, h := range m.retired {
		m.uploader.Release(h)
	}
	m.retired = m.retired[:0]

	for _, p := range m.peers {
		p.OnFrameEnd(frame)
	}
	m.phase = PhaseIdle
	return nil
}

func (m *Manager) release(r deferredRelease) {
	switch r.kind {
	case releaseMaterial:
		m.materials.Release(r.idx)
	case releaseSampler:
		m.samplers.Release(r.idx)
	case releaseTexture:
		m.textures.Release(r.idx)
	case releaseBuffer:
		m.buffers.Release(r.idx)
	case releaseVolume:
		m.volumes.Release(r.idx)
	}
}

func (m *Manager) destroyObject(obj *drawcall.SceneObject) {
	m.instances.RemoveObject(obj.ID)
	delete(m.lostBlas, obj.ID)
	for a, idx := range obj.Buffers {
		if idx != core.InvalidIndex {
			m.buffers.Release(idx)
			obj.Buffers[a] = core.InvalidIndex
		}
	}
	for _, o := range m.objectObs {
		o.OnObjectDestroyed(obj.ID)
	}
}

// Rebuild recovers from device loss. GPU handles are dropped and re-uploaded on the next commit,
// and tombstoned cache slots become reusable. Valid only between frames.
func (m *Manager) Rebuild() error {
	if err := m.expect("Rebuild", PhaseIdle); err != nil {
		return err
	}

	for _, h := range m.bufferHandles {
		m.uploader.Release(h)
	}
	clear(m.bufferHandles)
	for _, h := range m.retired {
		m.uploader.Release(h)
	}
	m.retired = m.retired[:0]
	for _, h := range m.materialTable.Drop() {
		m.uploader.Release(h)
	}
	for _, h := range m.instanceTable.Drop() {
		m.uploader.Release(h)
	}

	m.materials.Rebuild()
	m.samplers.Rebuild()
	m.textures.Rebuild()
	m.buffers.Rebuild()
	m.volumes.Rebuild()

	m.buffers.Each(func(idx uint32, _ bufferEntry) bool {
		m.pendingUploads[idx] = struct{}{}
		return true
	})
	m.objects.Each(func(obj *drawcall.SceneObject) bool {
		m.lostBlas[obj.ID] = struct{}{}
		return true
	})

	for _, p := range m.peers {
		if r, ok := p.(Resetter); ok {
			r.Reset()
		}
	}
	m.commits = 0
	m.log.Infof("scene: rebuilt after device loss, %d buffers queued for upload", len(m.pendingUploads))
	return nil
}
