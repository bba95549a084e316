// Package detector implements the anomaly detector component of spec.md
// §4.4: a learning → active → cooldown state machine driven by a periodic
// collection tick, turning rolling metric samples into triggering
// notifications once a per-metric consecutive-anomaly streak is reached.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/store"
	"github.com/beamlens/beamlens/internal/watcher"
)

// Phase is the detector's state (spec.md §3, "Detector state").
type Phase string

const (
	PhaseLearning Phase = "learning"
	PhaseActive   Phase = "active"
	PhaseCooldown Phase = "cooldown"
)

// Epsilon is the floor applied to std_dev in the z-score formula so a
// motionless metric never divides by zero.
const Epsilon = 0.001

// Sink receives notifications the detector decides to emit. In production
// this is the notification bus (internal/bus); tests can use a slice sink.
type Sink interface {
	Push(n notification.Notification) error
}

// Config is the `monitor.*` configuration surface (spec.md §6).
type Config struct {
	Enabled              bool          `yaml:"enabled"`
	CollectionInterval   time.Duration `yaml:"collection_interval_ms"`
	LearningDuration     time.Duration `yaml:"learning_duration_ms"`
	ZThreshold           float64       `yaml:"z_threshold"`
	ConsecutiveRequired  int           `yaml:"consecutive_required"`
	Cooldown             time.Duration `yaml:"cooldown_ms"`
	HistoryWindow        time.Duration `yaml:"history_minutes"`
	PersistencePath      string        `yaml:"persistence_path"`
	MinRequiredSamples   int           `yaml:"min_required_samples"`
}

func (c *Config) SetDefaults() {
	if c.CollectionInterval <= 0 {
		c.CollectionInterval = 15 * time.Second
	}
	if c.LearningDuration <= 0 {
		c.LearningDuration = 10 * time.Minute
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = 3.0
	}
	if c.ConsecutiveRequired <= 0 {
		c.ConsecutiveRequired = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 60 * time.Minute
	}
	if c.MinRequiredSamples <= 0 {
		c.MinRequiredSamples = store.MinRequiredSamples
	}
}

func (c *Config) Validate() error {
	if c.ZThreshold <= 0 {
		return fmt.Errorf("detector: z_threshold must be positive")
	}
	if c.ConsecutiveRequired <= 0 {
		return fmt.Errorf("detector: consecutive_required must be positive")
	}
	return nil
}

// metricKey identifies a tracked (skill, metric) series.
type metricKey struct {
	skill, metric string
}

// Detector runs the learning/active/cooldown loop. All mutable state is
// guarded by a single mutex, matching the single-threaded-state-per-worker
// rule of spec.md §5.
type Detector struct {
	mu sync.Mutex

	cfg       Config
	skills    *skill.Registry
	metrics   *store.MetricStore
	baselines *store.BaselineStore
	cooldowns *watcher.CooldownTable
	sink      Sink
	telemetry *observability.Bus

	phase             Phase
	learningStart     time.Time
	cooldownStart     time.Time
	consecutiveCounts map[metricKey]int
}

// New constructs a Detector in the learning phase. cooldowns may be nil, in
// which case the detector's own active/cooldown state machine is the only
// suppression in effect; passing the same table a watcher uses lets the two
// anomaly pathways suppress by category consistently (spec.md §3).
func New(cfg Config, skills *skill.Registry, metrics *store.MetricStore, baselines *store.BaselineStore, cooldowns *watcher.CooldownTable, sink Sink, telemetry *observability.Bus) *Detector {
	cfg.SetDefaults()
	return &Detector{
		cfg:               cfg,
		skills:            skills,
		metrics:           metrics,
		baselines:         baselines,
		cooldowns:         cooldowns,
		sink:              sink,
		telemetry:         telemetry,
		phase:             PhaseLearning,
		consecutiveCounts: make(map[metricKey]int),
	}
}

// Phase returns the detector's current state.
func (d *Detector) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Run drives the collection loop until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	if !d.cfg.Enabled {
		return nil
	}
	d.mu.Lock()
	d.learningStart = time.Now()
	d.mu.Unlock()

	ticker := time.NewTicker(d.cfg.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx, time.Now()); err != nil {
				d.telemetry.Event("detector.tick_error", map[string]any{"reason": err.Error()})
			}
		}
	}
}

// Tick performs one collection cycle. Exported so tests can drive the state
// machine deterministically without a real ticker.
func (d *Detector) Tick(ctx context.Context, now time.Time) error {
	if err := d.sampleAll(ctx, now); err != nil {
		return err
	}

	d.mu.Lock()
	phase := d.phase
	d.mu.Unlock()

	switch phase {
	case PhaseLearning:
		return d.tickLearning(now)
	case PhaseActive:
		return d.tickActive(now)
	case PhaseCooldown:
		return d.tickCooldown(now)
	default:
		return fmt.Errorf("detector: unknown phase %q", phase)
	}
}

func (d *Detector) sampleAll(ctx context.Context, now time.Time) error {
	if d.skills == nil {
		return nil
	}
	for _, name := range d.skills.Names() {
		sk, ok := d.skills.Get(name)
		if !ok {
			continue
		}
		snap, err := sk.Snapshot(ctx)
		if err != nil {
			d.telemetry.Event("detector.snapshot_error", map[string]any{"skill": name, "reason": err.Error()})
			continue
		}
		for metric, value := range snap {
			d.metrics.Append(store.Sample{Timestamp: now, Skill: name, Metric: metric, Value: value})
		}
	}
	return nil
}

func (d *Detector) tickLearning(now time.Time) error {
	d.mu.Lock()
	if d.learningStart.IsZero() {
		d.learningStart = now
	}
	elapsed := now.Sub(d.learningStart)
	d.mu.Unlock()

	if elapsed < d.cfg.LearningDuration {
		return nil
	}

	for _, pair := range d.metrics.Metrics() {
		skillName, metric := pair[0], pair[1]
		history := d.metrics.History(skillName, metric)
		if len(history) < d.cfg.MinRequiredSamples {
			continue
		}
		values := make([]float64, len(history))
		for i, s := range history {
			values[i] = s.Value
		}
		baseline, ok := store.Compute(skillName, metric, values, now)
		if !ok {
			continue
		}
		if err := d.baselines.Set(baseline); err != nil {
			return fmt.Errorf("detector: persist baseline %s/%s: %w", skillName, metric, err)
		}
	}

	d.mu.Lock()
	d.phase = PhaseActive
	d.mu.Unlock()
	d.telemetry.Event("detector.phase_change", map[string]any{"phase": string(PhaseActive)})
	return nil
}

// triggered pairs a triggering (skill, metric) with its anomalous sample.
type triggered struct {
	skill, metric string
	value         float64
	z             float64
	baseline      store.Baseline
}

func (d *Detector) tickActive(now time.Time) error {
	var fires []triggered

	for _, pair := range d.metrics.Metrics() {
		skillName, metric := pair[0], pair[1]
		baseline, ok := d.baselines.Get(skillName, metric)
		if !ok || baseline.SampleCount < d.cfg.MinRequiredSamples {
			continue
		}
		history := d.metrics.History(skillName, metric)
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		z := baseline.ZScore(latest.Value, Epsilon)
		anomalous := abs(z) >= d.cfg.ZThreshold

		k := metricKey{skill: skillName, metric: metric}
		d.mu.Lock()
		if anomalous {
			d.consecutiveCounts[k]++
		} else {
			d.consecutiveCounts[k] = 0
		}
		count := d.consecutiveCounts[k]
		d.mu.Unlock()

		if count >= d.cfg.ConsecutiveRequired {
			fires = append(fires, triggered{skill: skillName, metric: metric, value: latest.Value, z: z, baseline: baseline})
		}
	}

	if len(fires) == 0 {
		return nil
	}

	// Stable tie-break order: (skill, metric) lexical.
	sort.Slice(fires, func(i, j int) bool {
		if fires[i].skill != fires[j].skill {
			return fires[i].skill < fires[j].skill
		}
		return fires[i].metric < fires[j].metric
	})

	for _, f := range fires {
		category := notification.Category(f.metric)
		if d.cooldowns != nil && d.cooldowns.Active(category, now) {
			d.telemetry.Event("detector.suppressed", map[string]any{"skill": f.skill, "metric": f.metric, "category": category})
			continue
		}

		n := notification.Notification{
			ID:          notification.NewID(),
			Operator:    f.skill,
			AnomalyType: f.metric,
			Severity:    notification.SeverityWarning,
			Context:     fmt.Sprintf("statistical detector, consecutive_required=%d", d.cfg.ConsecutiveRequired),
			Observation: fmt.Sprintf("%s.%s z=%.2f (threshold=%.2f, mean=%.2f, std_dev=%.2f)", f.skill, f.metric, f.z, d.cfg.ZThreshold, f.baseline.Mean, f.baseline.StdDev),
			DetectedAt:  now,
		}
		if err := d.sink.Push(n); err != nil {
			return fmt.Errorf("detector: push notification: %w", err)
		}
		if d.cooldowns != nil {
			d.cooldowns.Start(category, now, d.cfg.Cooldown)
		}
	}

	d.mu.Lock()
	for k := range d.consecutiveCounts {
		d.consecutiveCounts[k] = 0
	}
	d.cooldownStart = now
	d.phase = PhaseCooldown
	d.mu.Unlock()
	d.telemetry.Event("detector.phase_change", map[string]any{"phase": string(PhaseCooldown)})

	return nil
}

func (d *Detector) tickCooldown(now time.Time) error {
	d.mu.Lock()
	elapsed := now.Sub(d.cooldownStart)
	d.mu.Unlock()

	if elapsed < d.cfg.Cooldown {
		return nil
	}

	d.mu.Lock()
	d.phase = PhaseActive
	d.mu.Unlock()
	d.telemetry.Event("detector.phase_change", map[string]any{"phase": string(PhaseActive)})
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
