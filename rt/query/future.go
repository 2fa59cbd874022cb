package query

import (
	"sync/atomic"
)

type FutureState uint32

const (
	FuturePending FutureState = iota
	FutureReady
	FutureNotFound
	FutureAbandoned

	futureSettling
)

func (s FutureState) String() string {
	switch s {
	case FuturePending, futureSettling:
		return "Pending"
	case FutureReady:
		return "Ready"
	case FutureNotFound:
		return "NotFound"
	case FutureAbandoned:
		return "Abandoned"
	}
	return "Unknown"
}

// Future is the read side of a multi-frame computation. It never blocks; callers poll TryGet or
// select on Done.
type Future[T any] struct {
	state atomic.Uint32
	value T
	done  chan struct{}
}

// Promise is the write side. Exactly one of Fulfill, NotFound or Abandon takes effect.
type Promise[T any] struct {
	f *Future[T]
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{})}}
}

// Resolved returns a future that is already ready.
func Resolved[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Fulfill(v)
	return p.Future()
}

func (p *Promise[T]) Future() *Future[T] { return p.f }

// Fulfill stores v. Returns false if the promise was already settled, abandoned included; an
// abandoned promise ignores late results.
func (p *Promise[T]) Fulfill(v T) bool {
	if !p.f.state.CompareAndSwap(uint32(FuturePending), uint32(futureSettling)) {
		return false
	}
	p.f.value = v
	p.f.state.Store(uint32(FutureReady))
	close(p.f.done)
	return true
}

func (p *Promise[T]) NotFound() bool {
	return p.settle(FutureNotFound)
}

// Abandon marks the result as never consumed. Called when a newer request supersedes this one.
func (p *Promise[T]) Abandon() bool {
	return p.settle(FutureAbandoned)
}

func (p *Promise[T]) settle(s FutureState) bool {
	if !p.f.state.CompareAndSwap(uint32(FuturePending), uint32(s)) {
		return false
	}
	close(p.f.done)
	return true
}

// TryGet returns the value when ready. The state tells pending apart from a settled miss.
func (f *Future[T]) TryGet() (T, FutureState) {
	s := FutureState(f.state.Load())
	if s == FutureReady {
		return f.value, s
	}
	var zero T
	if s == futureSettling {
		s = FuturePending
	}
	return zero, s
}

func (f *Future[T]) State() FutureState {
	_, s := f.TryGet()
	return s
}

// Done is closed once the future settles either way.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
