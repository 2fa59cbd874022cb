// Package query implements the cross-thread diagnostic query protocol: producers post requests,
// the render thread resolves them against last committed state, and results are handed back
// through double-buffered slots.
//
// Nothing here blocks. The render thread holds a slot lock only for the current/previous swap
// and producers hold it only to copy a record in or out.
package query

import (
	"sync"
	"sync/atomic"
)

type SlotState uint32

const (
	SlotEmpty SlotState = iota
	SlotPending
	SlotReady
)

func (s SlotState) String() string {
	switch s {
	case SlotPending:
		return "Pending"
	case SlotReady:
		return "Ready"
	}
	return "Empty"
}

// Slot pairs the record being built this frame with the last published one.
// Consumers only ever see previous.
type Slot[T any] struct {
	mu          sync.Mutex
	current     T
	hasCurrent  bool
	previous    T
	hasPrevious bool
	state       atomic.Uint32
}

// Stage writes the record for the frame being built. Render thread only.
func (s *Slot[T]) Stage(v T) {
	s.mu.Lock()
	s.current = v
	s.hasCurrent = true
	if !s.hasPrevious {
		s.state.Store(uint32(SlotPending))
	}
	s.mu.Unlock()
}

// Swap publishes current as previous and clears current. An empty current publishes absence.
func (s *Slot[T]) Swap() {
	var zero T
	s.mu.Lock()
	s.previous, s.hasPrevious = s.current, s.hasCurrent
	s.current, s.hasCurrent = zero, false
	if s.hasPrevious {
		s.state.Store(uint32(SlotReady))
	} else {
		s.state.Store(uint32(SlotEmpty))
	}
	s.mu.Unlock()
}

// Consume moves the published record out. A second call returns false until the next Swap.
func (s *Slot[T]) Consume() (T, bool) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPrevious {
		return zero, false
	}
	v := s.previous
	s.previous, s.hasPrevious = zero, false
	if s.hasCurrent {
		s.state.Store(uint32(SlotPending))
	} else {
		s.state.Store(uint32(SlotEmpty))
	}
	return v, true
}

// State is a lock-free peek for polling producers.
func (s *Slot[T]) State() SlotState {
	return SlotState(s.state.Load())
}

// Reset drops both records, staged and published.
func (s *Slot[T]) Reset() {
	var zero T
	s.mu.Lock()
	s.current, s.hasCurrent = zero, false
	s.previous, s.hasPrevious = zero, false
	s.state.Store(uint32(SlotEmpty))
	s.mu.Unlock()
}
