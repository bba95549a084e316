package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/store"
	"github.com/beamlens/beamlens/internal/watcher"
)

type sliceSink struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (s *sliceSink) Push(n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *sliceSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// fakeSkill returns a fixed metric value each Snapshot call.
type fakeSkill struct {
	*skill.Base
	value float64
}

func newFakeSkill(id string, value float64) *fakeSkill {
	return &fakeSkill{Base: skill.NewBase(id, id, id, "", ""), value: value}
}

func (f *fakeSkill) Snapshot(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"cpu": f.value}, nil
}

func newTestDetector(t *testing.T, cfg Config, sk *fakeSkill, sink *sliceSink) *Detector {
	t.Helper()
	reg := skill.NewRegistry()
	require.NoError(t, reg.Register(sk.ID(), sk))

	metrics := store.NewMetricStore(time.Hour, 0)
	baselines, err := store.NewBaselineStore(nil)
	require.NoError(t, err)

	bus := observability.NewBus(nil, nil, nil)
	return New(cfg, reg, metrics, baselines, watcher.NewCooldownTable(), sink, bus)
}

func TestDetectorLearningTransitionsToActive(t *testing.T) {
	cfg := Config{Enabled: true, LearningDuration: time.Minute, MinRequiredSamples: 3, ConsecutiveRequired: 2, ZThreshold: 2}
	cfg.SetDefaults()
	sk := newFakeSkill("vm", 10)
	sink := &sliceSink{}
	d := newTestDetector(t, cfg, sk, sink)

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Tick(context.Background(), base.Add(time.Duration(i)*time.Second)))
		assert.Equal(t, PhaseLearning, d.Phase())
	}

	require.NoError(t, d.Tick(context.Background(), base.Add(2*time.Minute)))
	assert.Equal(t, PhaseActive, d.Phase())
}

// TestDetectorConsecutiveIdempotence covers spec invariant 7: fewer than
// consecutive_required anomalous samples never trigger; exactly k triggers
// exactly one notification.
func TestDetectorConsecutiveIdempotence(t *testing.T) {
	cfg := Config{Enabled: true, LearningDuration: time.Second, MinRequiredSamples: 3, ConsecutiveRequired: 3, ZThreshold: 1}
	cfg.SetDefaults()
	sk := newFakeSkill("vm", 10)
	sink := &sliceSink{}
	d := newTestDetector(t, cfg, sk, sink)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Tick(context.Background(), base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, d.Tick(context.Background(), base.Add(5*time.Second)))
	require.Equal(t, PhaseActive, d.Phase())

	// Now push anomalous samples (far from baseline mean of 10).
	sk.value = 1000

	require.NoError(t, d.Tick(context.Background(), base.Add(6*time.Second)))
	assert.Equal(t, 0, sink.Len(), "1 anomalous sample must not trigger")

	require.NoError(t, d.Tick(context.Background(), base.Add(7*time.Second)))
	assert.Equal(t, 0, sink.Len(), "2 anomalous samples must not trigger when k=3")

	require.NoError(t, d.Tick(context.Background(), base.Add(8*time.Second)))
	assert.Equal(t, 1, sink.Len(), "exactly k consecutive anomalous samples must trigger exactly one notification")
	assert.Equal(t, PhaseCooldown, d.Phase())
}

// multiMetricSkill reports two metrics sharing the "memory" category
// (memory_used, memory_cached) so cross-metric cooldown sharing is
// observable.
type multiMetricSkill struct {
	*skill.Base
	values map[string]float64
}

func (f *multiMetricSkill) Snapshot(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func TestDetectorSharedCooldownSuppressesSameCategoryAcrossMetrics(t *testing.T) {
	cfg := Config{Enabled: true, LearningDuration: time.Second, MinRequiredSamples: 3, ConsecutiveRequired: 1, ZThreshold: 1, Cooldown: time.Minute}
	cfg.SetDefaults()

	sk := &multiMetricSkill{Base: skill.NewBase("vm", "vm", "vm", "", ""), values: map[string]float64{"memory_used": 10, "memory_cached": 10}}
	reg := skill.NewRegistry()
	require.NoError(t, reg.Register(sk.ID(), sk))

	metrics := store.NewMetricStore(time.Hour, 0)
	baselines, err := store.NewBaselineStore(nil)
	require.NoError(t, err)
	sink := &sliceSink{}
	cooldowns := watcher.NewCooldownTable()
	d := New(cfg, reg, metrics, baselines, cooldowns, sink, observability.NewBus(nil, nil, nil))

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Tick(context.Background(), base.Add(time.Duration(i)*time.Second)))
	}
	require.Equal(t, PhaseActive, d.Phase())

	// Both memory metrics spike in the same tick. The first to fire starts
	// the shared "memory" category cooldown, which suppresses the other:
	// only one notification goes out.
	sk.values["memory_used"] = 1000
	sk.values["memory_cached"] = 1000
	require.NoError(t, d.Tick(context.Background(), base.Add(5*time.Second)))
	require.Equal(t, 1, sink.Len())
	assert.True(t, cooldowns.Active("memory", base.Add(5*time.Second)), "firing must start the shared category cooldown")
}

func TestDetectorCooldownReturnsToActive(t *testing.T) {
	cfg := Config{Enabled: true, LearningDuration: time.Second, MinRequiredSamples: 3, ConsecutiveRequired: 1, ZThreshold: 1, Cooldown: time.Minute}
	cfg.SetDefaults()
	sk := newFakeSkill("vm", 10)
	sink := &sliceSink{}
	d := newTestDetector(t, cfg, sk, sink)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Tick(context.Background(), base.Add(time.Duration(i)*time.Second)))
	}
	require.Equal(t, PhaseActive, d.Phase())

	sk.value = 1000
	require.NoError(t, d.Tick(context.Background(), base.Add(5*time.Second)))
	require.Equal(t, PhaseCooldown, d.Phase())
	require.Equal(t, 1, sink.Len())

	// Not enough time elapsed yet.
	require.NoError(t, d.Tick(context.Background(), base.Add(6*time.Second)))
	assert.Equal(t, PhaseCooldown, d.Phase())

	require.NoError(t, d.Tick(context.Background(), base.Add(2*time.Minute)))
	assert.Equal(t, PhaseActive, d.Phase())
}
