// Package vm implements the "vm" built-in skill (spec.md §1's example
// domains: memory, scheduler queues, GC activity): a skill.Skill backed
// by the Go runtime's own memory and scheduler statistics, with
// read-only callbacks an operator can invoke to look deeper at a
// specific signal before committing to a notification.
package vm

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"

	"github.com/beamlens/beamlens/internal/skill"
)

const systemPrompt = `You monitor the Go runtime's memory and scheduler health: heap size,
GC pause behavior, and goroutine counts. You only have read-only tools. Investigate
before concluding; do not speculate about causes you have not checked with a tool.`

const callbackDocs = `- gc_stats(): returns recent GC pause history and a forced-GC recommendation flag.
- goroutine_count(): returns the current live goroutine count.
- memory_breakdown(): returns heap, stack, and off-heap allocation figures.`

// Skill wraps skill.Base with the Snapshot implementation: Base alone
// carries the callback bookkeeping, but Snapshot is domain-specific and
// must be supplied by each concrete skill.
type Skill struct {
	*skill.Base
}

// New constructs the vm skill.
func New() *Skill {
	b := skill.NewBase("vm", "VM Runtime", "Go runtime memory, GC, and scheduler metrics", systemPrompt, callbackDocs)
	b.RegisterCallback("gc_stats", gcStats)
	b.RegisterCallback("goroutine_count", goroutineCount)
	b.RegisterCallback("memory_breakdown", memoryBreakdown)
	return &Skill{Base: b}
}

// Snapshot reports the metrics the statistical detector and the
// baseline-LLM watcher both consume (spec.md §4.1.a).
func (s *Skill) Snapshot(ctx context.Context) (map[string]float64, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]float64{
		"memory_heap_alloc":  float64(m.HeapAlloc),
		"memory_heap_idle":   float64(m.HeapIdle),
		"memory_stack_inuse": float64(m.StackInuse),
		"memory_gc_pause_ns": float64(m.PauseNs[(m.NumGC+255)%256]),
		"scheduler_goroutines": float64(runtime.NumGoroutine()),
		"scheduler_gc_count":   float64(m.NumGC),
	}, nil
}

func gcStats(ctx context.Context, args map[string]any) (any, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	window := int(m.NumGC)
	if window > 10 {
		window = 10
	}
	pauses := make([]uint64, 0, window)
	for i := 0; i < window; i++ {
		idx := (int(m.NumGC) - i + 255) % 256
		pauses = append(pauses, m.PauseNs[idx])
	}
	sort.Slice(pauses, func(i, j int) bool { return pauses[i] < pauses[j] })

	var p99 uint64
	if len(pauses) > 0 {
		p99 = pauses[len(pauses)-1]
	}

	return map[string]any{
		"num_gc":           m.NumGC,
		"recent_pauses_ns": pauses,
		"p99_pause_ns":     p99,
		"gc_cpu_fraction":  m.GCCPUFraction,
		"force_gc_advised": m.HeapAlloc > m.NextGC && m.GCCPUFraction < 0.05,
	}, nil
}

func goroutineCount(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"count": runtime.NumGoroutine()}, nil
}

func memoryBreakdown(ctx context.Context, args map[string]any) (any, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	gc := debug.GCStats{}
	debug.ReadGCStats(&gc)
	return map[string]any{
		"heap_alloc":     m.HeapAlloc,
		"heap_sys":       m.HeapSys,
		"heap_idle":      m.HeapIdle,
		"heap_released":  m.HeapReleased,
		"stack_inuse":    m.StackInuse,
		"mspan_inuse":    m.MSpanInuse,
		"mcache_inuse":   m.MCacheInuse,
		"last_gc_pause":  fmt.Sprintf("%v", gc.Pause[0]),
	}, nil
}
