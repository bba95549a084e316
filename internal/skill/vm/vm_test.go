package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/skill"
)

func TestVMSatisfiesSkillInterface(t *testing.T) {
	var _ skill.Skill = New()
}

func TestVMSnapshotReportsExpectedMetrics(t *testing.T) {
	s := New()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	for _, key := range []string{"memory_heap_alloc", "memory_heap_idle", "scheduler_goroutines", "scheduler_gc_count"} {
		_, ok := snap[key]
		assert.True(t, ok, "missing metric %q", key)
	}
	assert.Greater(t, snap["scheduler_goroutines"], 0.0)
}

func TestVMCallbacksAreRegisteredInOrder(t *testing.T) {
	s := New()
	assert.Equal(t, []string{"gc_stats", "goroutine_count", "memory_breakdown"}, s.CallbackNames())
}

func TestVMGoroutineCountCallback(t *testing.T) {
	s := New()
	result, err := skill.RunCallback(context.Background(), s, "goroutine_count", nil, 0)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Greater(t, m["count"], 0)
}

func TestVMGCStatsCallback(t *testing.T) {
	s := New()
	result, err := skill.RunCallback(context.Background(), s, "gc_stats", nil, 0)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	_, hasPauses := m["recent_pauses_ns"]
	assert.True(t, hasPauses)
}
