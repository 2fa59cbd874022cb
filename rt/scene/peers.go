package scene

import (
	"github.com/gekko3d/remix/rt/core"
)

// Logger is the subset of the host logger the scene writes to.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any) {}
func (nopLogger) Infof(format string, args ...any)  {}
func (nopLogger) Warnf(format string, args ...any)  {}
func (nopLogger) Errorf(format string, args ...any) {}

// AccelBuilder receives the per-object acceleration structure work decided during accumulation.
type AccelBuilder interface {
	RequestFullBuild(req core.BlasRequest)
	RequestPartialUpdate(req core.BlasRequest)
}

// Peer is a subsystem driven by the frame lifecycle. Peers that also implement
// instance.Observer, LightSink or ObjectObserver are registered for those hooks too.
type Peer interface {
	OnFrameBegin(frame uint32)
	OnFrameEnd(frame uint32)
}

type LightSink interface {
	AddLight(l core.Light)
}

type ObjectObserver interface {
	OnObjectDestroyed(id core.ObjectID)
}

// Resetter is implemented by peers that hold GPU state dropped on device loss.
type Resetter interface {
	Reset()
}

type ReplacementStatus uint8

const (
	ReplacementsNone ReplacementStatus = iota
	ReplacementsLoading
	ReplacementsReady
	ReplacementsFailed
)

func (s ReplacementStatus) String() string {
	switch s {
	case ReplacementsLoading:
		return "Loading"
	case ReplacementsReady:
		return "Ready"
	case ReplacementsFailed:
		return "Failed"
	}
	return "None"
}

// ReplacementResolver looks up asset replacements by the legacy material hash.
type ReplacementResolver interface {
	MaterialReplacement(hash uint64) (core.SurfaceMaterial, bool)
	Status() ReplacementStatus
}

// StaticReplacements is a fixed replacement table.
type StaticReplacements map[uint64]core.SurfaceMaterial

func (r StaticReplacements) MaterialReplacement(hash uint64) (core.SurfaceMaterial, bool) {
	m, ok := r[hash]
	return m, ok
}

func (r StaticReplacements) Status() ReplacementStatus {
	if len(r) == 0 {
		return ReplacementsNone
	}
	return ReplacementsReady
}
