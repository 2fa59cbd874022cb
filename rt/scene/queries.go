package scene

import (
	"image"

	"github.com/gekko3d/remix/rt/core"
	"github.com/gekko3d/remix/rt/query"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/google/uuid"
)

// legacySearch is one material index to legacy texture hash lookup awaiting dispatch.
type legacySearch struct {
	index      uint32
	promise    *query.Promise[uint64]
	dispatched bool
}

// pickState ties the live pick request to the search backing its legacy hash future, so the
// future survives republishing while the request and the picked material stay the same.
type pickState struct {
	request  uuid.UUID
	material uint32
	search   *legacySearch
}

// RequestHighlight replaces any outstanding highlight request. Safe from any goroutine.
func (m *Manager) RequestHighlight(key query.HighlightKey, color core.HighlightColor, frame uint32) uuid.UUID {
	id := m.highlight.Request(key, color, frame)
	m.log.Debugf("scene: highlight %s requested at frame %d (%s)", key, frame, uuidOrNil(id))
	return id
}

// ConsumeHighlightResult moves out the last published highlight. Safe from any goroutine.
func (m *Manager) ConsumeHighlightResult() (query.Highlight, bool) {
	return m.highlight.Consume()
}

// RequestTexturePick replaces any outstanding pick request. Safe from any goroutine.
func (m *Manager) RequestTexturePick(pixel image.Point, frame uint32) uuid.UUID {
	id := m.pick.Request(pixel, frame)
	m.log.Debugf("scene: texture pick at %v requested at frame %d (%s)", pixel, frame, uuidOrNil(id))
	return id
}

func (m *Manager) ConsumeTexturePickResult() (query.FindSurfaceResult, bool) {
	return m.pick.Consume()
}

// FindLegacyTextureHashBySurfaceMaterialIndex starts a lookup of the legacy texture hash bound
// with a material. The search runs against the next committed frame. An unresolved earlier
// lookup for a different index is abandoned. Safe from any goroutine.
func (m *Manager) FindLegacyTextureHashBySurfaceMaterialIndex(index uint32) *query.Future[uint64] {
	m.searchMu.Lock()
	defer m.searchMu.Unlock()
	if s := m.search; s != nil && s.promise.Future().State() == query.FuturePending {
		if s.index == index {
			return s.promise.Future()
		}
		s.promise.Abandon()
	}
	m.search = &legacySearch{index: index, promise: query.NewPromise[uint64]()}
	return m.search.promise.Future()
}

func (m *Manager) resolveHighlight(frame uint32) {
	if m.hasHighlight {
		req := m.highlightReq
		switch req.Key.Kind {
		case query.HighlightByMaterial:
			if _, ok := m.materials.At(req.Key.MaterialIndex); ok {
				m.highlight.Stage(query.Highlight{RequestID: req.ID, MaterialIndex: req.Key.MaterialIndex, Color: req.Color, Frame: frame})
			}
		case query.HighlightByLegacyHash:
			if m.hasHit {
				m.highlight.Stage(query.Highlight{RequestID: req.ID, MaterialIndex: m.highlightHit, Color: req.Color, Frame: frame})
			}
		}
	}
	// publishing with nothing staged clears the previous answer
	m.highlight.Publish()
}

func (m *Manager) resolveTexturePick(frame uint32) {
	req, ok := m.pick.Active(frame)
	if !ok {
		m.dropPick()
		m.pick.Publish()
		return
	}

	material := core.InvalidIndex
	if m.surfaces != nil {
		if id, hit := m.surfaces.SurfaceAt(req.Pixel.X, req.Pixel.Y); hit {
			material = id
		}
	}
	if material == core.InvalidIndex {
		m.dropPick()
		m.pick.Publish()
		return
	}

	m.searchMu.Lock()
	ps := m.pickSearch
	if ps == nil || ps.request != req.ID || ps.material != material {
		if ps != nil {
			ps.search.promise.Abandon()
		}
		ps = &pickState{
			request:  req.ID,
			material: material,
			search:   &legacySearch{index: material, promise: query.NewPromise[uint64]()},
		}
		m.pickSearch = ps
	}
	m.searchMu.Unlock()

	m.pick.Place(query.FindSurfaceResult{
		RequestID:         req.ID,
		Frame:             frame,
		MaterialIndex:     material,
		LegacyTextureHash: ps.search.promise.Future(),
	})
	m.pick.Publish()
}

func (m *Manager) dropPick() {
	m.searchMu.Lock()
	if m.pickSearch != nil {
		m.pickSearch.search.promise.Abandon()
		m.pickSearch = nil
	}
	m.searchMu.Unlock()
}

// dispatchSearches hands undispatched lookups a snapshot of the committed bindings. With no
// worker pool the lookup runs inline.
func (m *Manager) dispatchSearches() {
	m.searchMu.Lock()
	var jobs []*legacySearch
	for _, s := range []*legacySearch{m.search, m.pickSearchJob()} {
		if s != nil && !s.dispatched && s.promise.Future().State() == query.FuturePending {
			s.dispatched = true
			jobs = append(jobs, s)
		}
	}
	m.searchMu.Unlock()
	if len(jobs) == 0 {
		return
	}

	snapshot := m.instances.Snapshot()
	for _, s := range jobs {
		job := s
		lookup := func() {
			if h, ok := snapshot[job.index]; ok {
				job.promise.Fulfill(h)
			} else {
				job.promise.NotFound()
			}
		}
		if !m.async {
			lookup()
			continue
		}
		m.taskSeq++
		m.pool.SubmitTask(worker.Task{
			ID: m.taskSeq,
			Do: func() (any, error) {
				lookup()
				return nil, nil
			},
		})
	}
}

func (m *Manager) pickSearchJob() *legacySearch {
	if m.pickSearch == nil {
		return nil
	}
	return m.pickSearch.search
}
