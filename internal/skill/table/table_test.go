package table

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/skill"
)

func fakeCounter(counts map[string]int) Counter {
	return func(ctx context.Context) (map[string]int, error) {
		return counts, nil
	}
}

func TestTableSatisfiesSkillInterface(t *testing.T) {
	var _ skill.Skill = New(fakeCounter(nil))
}

func TestTableSnapshotPrefixesMetricNames(t *testing.T) {
	s := New(fakeCounter(map[string]int{"sessions": 120, "orders": 4500}))
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120.0, snap["table_sessions"])
	assert.Equal(t, 4500.0, snap["table_orders"])
}

func TestTableLargestTablesRespectsLimit(t *testing.T) {
	s := New(fakeCounter(map[string]int{"a": 1, "b": 100, "c": 50, "d": 10}))
	result, err := skill.RunCallback(context.Background(), s, "largest_tables", map[string]any{"limit": float64(2)}, 0)
	require.NoError(t, err)
	rows, ok := result.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["name"])
	assert.Equal(t, "c", rows[1]["name"])
}

func TestTableSnapshotPropagatesCounterError(t *testing.T) {
	s := New(func(ctx context.Context) (map[string]int, error) {
		return nil, assert.AnError
	})
	_, err := s.Snapshot(context.Background())
	assert.Error(t, err)
}
