// Package config provides the unified configuration surface for the
// supervisor (spec.md §6): skills, watchers/schedules, the LLM client
// registry, the alert handler, the circuit breaker, the coordinator,
// the statistical monitor and baseline persistence, all loaded from one
// YAML document.
package config

import (
	"fmt"
	"time"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/detector"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/operator"
	"github.com/beamlens/beamlens/internal/store"
	"github.com/beamlens/beamlens/internal/watcher"
)

// Config is the complete configuration (spec.md §6). This is the single
// entry point the supervisor loads at start.
type Config struct {
	Name string `yaml:"name,omitempty"`

	Skills         []SkillConfig            `yaml:"skills,omitempty"`
	Watchers       []WatcherEntryConfig     `yaml:"watchers,omitempty"`
	Schedules      []ScheduleEntryConfig    `yaml:"schedules,omitempty"`
	ClientRegistry llm.RegistryConfig       `yaml:"client_registry,omitempty"`
	AlertHandler   AlertHandlerConfig       `yaml:"alert_handler,omitempty"`
	CircuitBreaker breaker.Config           `yaml:"circuit_breaker,omitempty"`
	Coordinator    CoordinatorConfig        `yaml:"coordinator,omitempty"`
	Monitor        MonitorConfig            `yaml:"monitor,omitempty"`

	// Persistence configures optional baseline persistence (spec.md §6,
	// "Persisted state"). Zero value (Enabled false) means in-memory only;
	// when enabled, an empty Driver defaults to sqlite3.
	Persistence store.PersistenceConfig `yaml:"persistence,omitempty"`
}

// Validate implements ConfigInterface.Validate for Config.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Skills))
	for _, s := range c.Skills {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("skill %q: %w", s.ID, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("skill %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
	}
	for _, w := range c.Watchers {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("watcher %q: %w", w.Name, err)
		}
	}
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
	}
	if err := c.AlertHandler.Validate(); err != nil {
		return fmt.Errorf("alert_handler: %w", err)
	}
	for i := range c.ClientRegistry.Clients {
		if err := c.ClientRegistry.Clients[i].Validate(); err != nil {
			return fmt.Errorf("client_registry: %w", err)
		}
	}
	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	return nil
}

// SetDefaults implements ConfigInterface.SetDefaults for Config.
func (c *Config) SetDefaults() {
	c.CircuitBreaker.SetDefaults()
	c.Coordinator.SetDefaults()
	c.AlertHandler.SetDefaults()
	for i := range c.ClientRegistry.Clients {
		c.ClientRegistry.Clients[i].SetDefaults()
	}
	for i := range c.Skills {
		c.Skills[i].SetDefaults()
	}
	for i := range c.Watchers {
		c.Watchers[i].SetDefaults()
	}
	for i := range c.Schedules {
		c.Schedules[i].SetDefaults()
	}
	c.Persistence.SetDefaults()
}

// SkillConfig is one entry in the ordered skills list (spec.md §6,
// "ordered list of skill references: built-in symbol or custom
// implementation").
type SkillConfig struct {
	ID          string            `yaml:"id"`
	Builtin     string            `yaml:"builtin,omitempty"` // e.g. "vm", "table"
	Description string            `yaml:"description,omitempty"`
	Node        string            `yaml:"node,omitempty"`
	Operator    operator.Config   `yaml:"operator,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
}

func (c *SkillConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func (c *SkillConfig) SetDefaults() {
	c.Operator.SetDefaults()
}

// WatcherEntryConfig configures one baseline-LLM watcher (spec.md §4.5).
// Each entry is a YAML mapping with name, cron_string and skill, plus
// optional config and investigate keys; there is no shorthand form and no
// watcher_module key.
type WatcherEntryConfig struct {
	Name           string         `yaml:"name"`
	CronExpression string         `yaml:"cron_string"`
	Skill          string         `yaml:"skill"`
	Config         watcher.Config `yaml:"config,omitempty"`
	Investigate    bool           `yaml:"investigate,omitempty"`
}

func (c *WatcherEntryConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.CronExpression == "" {
		return fmt.Errorf("cron_string is required")
	}
	if c.Skill == "" {
		return fmt.Errorf("skill is required")
	}
	return nil
}

func (c *WatcherEntryConfig) SetDefaults() {
	c.Config.SetDefaults()
	c.Config.Skill = c.Skill
	c.Config.Investigate = c.Investigate
}

// ScheduleEntryConfig configures one simple-mode schedule entry: a
// cron-fired operator or coordinator run (spec.md §4.8).
type ScheduleEntryConfig struct {
	Name           string   `yaml:"name"`
	CronExpression string   `yaml:"cron_string"`
	Skill          string   `yaml:"skill,omitempty"`
	Coordinator    bool     `yaml:"coordinator,omitempty"`
	Reason         string   `yaml:"reason,omitempty"`
	Skills         []string `yaml:"skills,omitempty"`
}

func (c *ScheduleEntryConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.CronExpression == "" {
		return fmt.Errorf("cron_string is required")
	}
	if !c.Coordinator && c.Skill == "" {
		return fmt.Errorf("skill is required unless coordinator is true")
	}
	return nil
}

func (c *ScheduleEntryConfig) SetDefaults() {}

// AlertHandlerTrigger is spec.md §6's alert_handler.trigger enum.
type AlertHandlerTrigger string

const (
	TriggerOnAlert AlertHandlerTrigger = "on_alert"
	TriggerManual  AlertHandlerTrigger = "manual"
)

// AlertHandlerConfig configures when the coordinator drains the alert bus.
type AlertHandlerConfig struct {
	Trigger AlertHandlerTrigger `yaml:"trigger,omitempty"`
}

func (c *AlertHandlerConfig) Validate() error {
	switch c.Trigger {
	case "", TriggerOnAlert, TriggerManual:
		return nil
	default:
		return fmt.Errorf("trigger must be %q or %q", TriggerOnAlert, TriggerManual)
	}
}

func (c *AlertHandlerConfig) SetDefaults() {
	if c.Trigger == "" {
		c.Trigger = TriggerOnAlert
	}
}

// CoordinatorConfig is spec.md §6's coordinator-level `opts` defaults
// (max_iterations, deadline, strategy, compaction knobs).
type CoordinatorConfig struct {
	Strategy            string        `yaml:"strategy,omitempty"` // "AgentLoop" | "Pipeline"
	MaxIterations       int           `yaml:"max_iterations,omitempty"`
	Deadline            time.Duration `yaml:"deadline_ms,omitempty"`
	CompactionMaxTokens  int          `yaml:"compaction_max_tokens,omitempty"`
	CompactionKeepLast   int          `yaml:"compaction_keep_last,omitempty"`
}

func (c *CoordinatorConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = "AgentLoop"
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Minute
	}
	if c.CompactionMaxTokens <= 0 {
		c.CompactionMaxTokens = 50000
	}
	if c.CompactionKeepLast <= 0 {
		c.CompactionKeepLast = 5
	}
}

// MonitorConfig configures the shared statistical detector
// (internal/detector) driven off the same skills list.
type MonitorConfig struct {
	Enabled bool            `yaml:"enabled,omitempty"`
	Skills  []string        `yaml:"skills,omitempty"`
	Config  detector.Config `yaml:"config,omitempty"`
}
