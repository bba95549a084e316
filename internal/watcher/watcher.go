// Package watcher implements the baseline-LLM anomaly pathway of spec.md
// §4.5: an alternative to the statistical detector for domains where
// mean/std-dev baselining is insufficient. A Watcher owns a per-skill
// sliding window of snapshots and, on each cron-driven tick, asks the LLM
// to classify the window via the closed AnalyzeBaseline toolset.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/operator"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/tool"
)

// DefaultCooldownMinutes is used when a ReportAnomaly call omits one.
const DefaultCooldownMinutes = 5

// Sink receives notifications the watcher decides to emit.
type Sink interface {
	Push(n notification.Notification) error
}

// Observation is one snapshot captured into the sliding window.
type Observation struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Config is the per-watcher configuration surface (spec.md §6).
type Config struct {
	Skill                 string `yaml:"skill"`
	WindowSize            int    `yaml:"window_size"`
	MinRequiredObservations int  `yaml:"min_required_observations"`
	Node                  string `yaml:"node"`
	Investigate           bool   `yaml:"investigate"`
}

func (c *Config) SetDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.MinRequiredObservations <= 0 {
		c.MinRequiredObservations = 5
	}
}

// Watcher runs the baseline-LLM classification loop for one skill.
type Watcher struct {
	cfg         Config
	skill       skill.Skill
	client      llm.Client
	sink        Sink
	cooldowns   *CooldownTable
	telemetry   *observability.Bus
	investigator *operator.Operator

	window []Observation
	notes  string
}

// New constructs a Watcher bound to one skill. investigator may be nil, in
// which case report_anomaly never attaches WatcherFindings.
func New(cfg Config, sk skill.Skill, client llm.Client, sink Sink, cooldowns *CooldownTable, telemetry *observability.Bus, investigator *operator.Operator) *Watcher {
	cfg.SetDefaults()
	return &Watcher{
		cfg:          cfg,
		skill:        sk,
		client:       client,
		sink:         sink,
		cooldowns:    cooldowns,
		telemetry:    telemetry,
		investigator: investigator,
	}
}

// Tick captures one fresh observation and, once the window is large enough,
// asks the LLM to classify it.
func (w *Watcher) Tick(ctx context.Context, now time.Time) error {
	snap, err := w.skill.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("watcher %s: snapshot: %w", w.skill.ID(), err)
	}
	w.window = append(w.window, Observation{Timestamp: now, Values: snap})
	if len(w.window) > w.cfg.WindowSize {
		w.window = w.window[len(w.window)-w.cfg.WindowSize:]
	}

	if len(w.window) < w.cfg.MinRequiredObservations {
		w.telemetry.Event("watcher.baseline_collecting", map[string]any{
			"skill": w.skill.ID(), "observed": len(w.window), "required": w.cfg.MinRequiredObservations,
		})
		return nil
	}

	resp, err := w.classify(ctx)
	if err != nil {
		return fmt.Errorf("watcher %s: classify: %w", w.skill.ID(), err)
	}
	if len(resp.ToolCalls) == 0 {
		return nil
	}

	call := resp.ToolCalls[0]
	args, err := tool.DecodeWatcherCall(call.Name, call.Arguments)
	if err != nil {
		w.telemetry.Event("tool.decode_error", map[string]any{"skill": w.skill.ID(), "tool": call.Name, "reason": err.Error()})
		return nil
	}

	switch a := args.(type) {
	case tool.ContinueObservingArgs:
		w.notes = a.Notes
		w.telemetry.Event("watcher.continue_observing", map[string]any{"skill": w.skill.ID(), "confidence": a.Confidence})

	case tool.ReportAnomalyArgs:
		return w.reportAnomaly(ctx, now, a)

	case tool.ReportHealthyArgs:
		w.notes = ""
		w.telemetry.Event("watcher.report_healthy", map[string]any{"skill": w.skill.ID(), "summary": a.Summary})
	}
	return nil
}

func (w *Watcher) reportAnomaly(ctx context.Context, now time.Time, a tool.ReportAnomalyArgs) error {
	category := notification.Category(a.AnomalyType)
	if w.cooldowns != nil && w.cooldowns.Active(category, now) {
		w.telemetry.Event("watcher.suppressed", map[string]any{"skill": w.skill.ID(), "anomaly_type": a.AnomalyType, "category": category})
		return nil
	}

	n := notification.Notification{
		ID:          notification.NewID(),
		Operator:    w.skill.ID(),
		AnomalyType: a.AnomalyType,
		Severity:    notification.Severity(a.Severity),
		Context:     "baseline-LLM watcher",
		Observation: a.Summary,
		DetectedAt:  now,
		Node:        w.cfg.Node,
	}

	if w.investigator != nil {
		findings, err := w.investigate(ctx, a)
		if err != nil {
			w.telemetry.Event("watcher.investigation_error", map[string]any{"skill": w.skill.ID(), "reason": err.Error()})
		} else {
			n.Findings = findings
		}
	}

	if err := w.sink.Push(n); err != nil {
		return fmt.Errorf("watcher %s: push notification: %w", w.skill.ID(), err)
	}

	cooldownMinutes := a.CooldownMinutes
	if cooldownMinutes <= 0 {
		cooldownMinutes = DefaultCooldownMinutes
	}
	if w.cooldowns != nil {
		w.cooldowns.Start(category, now, time.Duration(cooldownMinutes)*time.Minute)
	}
	return nil
}

// investigate runs a bounded operator investigation to produce a structured
// WatcherFindings payload attached to the notification (spec.md §4.5).
func (w *Watcher) investigate(ctx context.Context, a tool.ReportAnomalyArgs) (*notification.WatcherFindings, error) {
	runContext := fmt.Sprintf("Investigate suspected anomaly %q: %s", a.AnomalyType, a.Summary)
	result, err := w.investigator.Run(ctx, runContext)
	if err != nil {
		return nil, err
	}
	return &notification.WatcherFindings{
		Summary:       a.Summary,
		Evidence:      a.Evidence,
		Notifications: len(result.Notifications),
	}, nil
}

func (w *Watcher) classify(ctx context.Context) (llm.Response, error) {
	messages := []llm.Message{
		{Role: "system", Content: analyzeBaselinePrompt},
		{Role: "user", Content: w.describeWindow()},
	}
	return w.client.Generate(ctx, messages, tool.WatcherDefinitions())
}

func (w *Watcher) describeWindow() string {
	out := fmt.Sprintf("skill: %s\nnotes: %s\nwindow:\n", w.skill.ID(), w.notes)
	for _, obs := range w.window {
		out += fmt.Sprintf("  %s: %v\n", obs.Timestamp.Format(time.RFC3339), obs.Values)
	}
	return out
}

const analyzeBaselinePrompt = "You are monitoring a metric window for anomalies. Choose exactly one tool: ContinueObserving, ReportAnomaly, or ReportHealthy."
