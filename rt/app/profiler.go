// Package app holds host-side helpers that sit outside the scene: frame profiling.
package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler records the last duration of each named scope and a set of counters. The host
// writes it on the render thread; GetStatsString may be called from any goroutine.
type Profiler struct {
	mu         sync.Mutex
	Scopes     map[string]time.Duration
	Totals     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string
	Frames     int

	now func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		Totals:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		Order:      make([]string, 0),
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartTimes[name] = p.now()
	// Maintain insertion order for consistent display if not already present
	for _, n := range p.Order {
		if n == name {
			return
		}
	}
	p.Order = append(p.Order, name)
}

func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.StartTimes[name]; ok {
		d := p.now().Sub(start)
		p.Scopes[name] = d
		p.Totals[name] += d
		delete(p.StartTimes, name)
	}
}

// Scope times fn under name.
func (p *Profiler) Scope(name string, fn func() error) error {
	p.BeginScope(name)
	defer p.EndScope(name)
	return fn()
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	p.Counts[name] = count
	p.mu.Unlock()
}

// EndFrame closes a frame for the averages.
func (p *Profiler) EndFrame() {
	p.mu.Lock()
	p.Frames++
	p.mu.Unlock()
}

func (p *Profiler) Last(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Scopes[name]
}

func (p *Profiler) Average(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Frames == 0 {
		return 0
	}
	return p.Totals[name] / time.Duration(p.Frames)
}

func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Keep Order, reset times
	for k := range p.Scopes {
		p.Scopes[k] = 0
		p.Totals[k] = 0
	}
	p.Frames = 0
}

func (p *Profiler) GetStatsString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder

	// 1. Timers
	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.Order {
		ms := float64(p.Scopes[name].Microseconds()) / 1000.0
		avg := 0.0
		if p.Frames > 0 {
			avg = float64((p.Totals[name] / time.Duration(p.Frames)).Microseconds()) / 1000.0
		}
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms (avg %.2f ms)\n", name, ms, avg))
	}

	// 2. Counters
	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}

	return sb.String()
}
