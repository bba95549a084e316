package beamlens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/bus"
	"github.com/beamlens/beamlens/internal/config"
	"github.com/beamlens/beamlens/internal/coordinator"
	"github.com/beamlens/beamlens/internal/detector"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/operator"
	"github.com/beamlens/beamlens/internal/scheduler"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/skill/vm"
	"github.com/beamlens/beamlens/internal/store"
	"github.com/beamlens/beamlens/internal/watcher"
)

// Option customizes Supervisor construction. Custom skills and a
// non-default LLM client factory are supplied this way since both
// require information (table-counting logic, test doubles) the
// configuration file alone cannot express.
type Option func(*buildState)

type buildState struct {
	skills        map[string]skill.Skill
	clientFactory func(llm.ProviderConfig) (llm.Client, error)
	persister     store.Persister
	telemetry     *observability.Bus
}

// WithSkill pre-registers a concrete skill, keyed by its own ID. Use this
// for the "table" built-in (which needs an application-supplied Counter)
// and for any fully custom skill.
func WithSkill(s skill.Skill) Option {
	return func(b *buildState) { b.skills[s.ID()] = s }
}

// WithClientFactory overrides how a named LLM client is constructed for
// a given provider string, e.g. to substitute a scripted client in
// tests. Gemini is wired by default.
func WithClientFactory(factory func(llm.ProviderConfig) (llm.Client, error)) Option {
	return func(b *buildState) { b.clientFactory = factory }
}

// WithPersister attaches a baseline persistence backend (spec.md §6,
// "Persisted state"). Without one, baselines are in-memory only.
func WithPersister(p store.Persister) Option {
	return func(b *buildState) { b.persister = p }
}

// WithTelemetry overrides the process-wide telemetry bus, e.g. to attach
// real tracing/metrics exporters. A bare logger-only bus is used by
// default.
func WithTelemetry(telemetry *observability.Bus) Option {
	return func(b *buildState) { b.telemetry = telemetry }
}

// Supervisor is the public entry point (spec.md §6): it owns every
// configured skill, watcher, schedule, and the singleton coordinator,
// and exposes the operations listed in spec.md §6's "Public operations".
type Supervisor struct {
	cfg       *config.Config
	telemetry *observability.Bus
	breaker   *breaker.Breaker
	clients   *llm.Registry
	skills    *skill.Registry
	alertBus  *bus.Bus
	metrics   *store.MetricStore
	baselines *store.BaselineStore
	cooldowns *watcher.CooldownTable

	coordinator *coordinator.Coordinator
	detector    *detector.Detector
	scheduler   *scheduler.Scheduler

	mu       sync.Mutex
	watchers map[string]*watcher.Watcher

	cancel context.CancelFunc
}

// New builds a Supervisor from cfg without starting any background
// workers; call Start to bring the supervisor tree up.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Supervisor, error) {
	state := &buildState{skills: make(map[string]skill.Skill)}
	for _, opt := range opts {
		opt(state)
	}
	if state.telemetry == nil {
		state.telemetry = observability.NewBus(nil, nil, nil)
	}
	if state.clientFactory == nil {
		state.clientFactory = func(pc llm.ProviderConfig) (llm.Client, error) {
			return llm.NewGeminiClient(ctx, pc)
		}
	}

	telemetry := state.telemetry
	br := breaker.New(cfg.CircuitBreaker, telemetry)

	clients, err := llm.BuildFromConfig(cfg.ClientRegistry, state.clientFactory)
	if err != nil {
		return nil, fmt.Errorf("beamlens: build client registry: %w", err)
	}
	primaryClient, err := clients.Primary()
	if err != nil {
		return nil, fmt.Errorf("beamlens: %w", err)
	}

	skills := skill.NewRegistry()
	for _, sc := range cfg.Skills {
		s, err := resolveSkill(sc, state.skills)
		if err != nil {
			return nil, err
		}
		if err := skills.Register(sc.ID, s); err != nil {
			return nil, fmt.Errorf("beamlens: register skill %q: %w", sc.ID, err)
		}
	}

	alertBus := bus.New(telemetry)
	metrics := store.NewMetricStore(cfg.Monitor.Config.HistoryWindow, 0)
	baselines, err := store.NewBaselineStore(state.persister)
	if err != nil {
		return nil, fmt.Errorf("beamlens: open baseline store: %w", err)
	}
	cooldowns := watcher.NewCooldownTable()

	s := &Supervisor{
		cfg:       cfg,
		telemetry: telemetry,
		breaker:   br,
		clients:   clients,
		skills:    skills,
		alertBus:  alertBus,
		metrics:   metrics,
		baselines: baselines,
		cooldowns: cooldowns,
		watchers:  make(map[string]*watcher.Watcher),
	}

	s.coordinator = coordinator.New(primaryClient, br, alertBus, s.newOperator, telemetry)

	if cfg.Monitor.Enabled {
		s.detector = detector.New(cfg.Monitor.Config, skills, metrics, baselines, cooldowns, alertBus, telemetry)
	}

	s.scheduler = scheduler.New(telemetry)
	if err := s.wireWatchers(primaryClient); err != nil {
		return nil, err
	}
	if err := s.wireSchedules(); err != nil {
		return nil, err
	}

	return s, nil
}

func resolveSkill(sc config.SkillConfig, custom map[string]skill.Skill) (skill.Skill, error) {
	if s, ok := custom[sc.ID]; ok {
		return s, nil
	}
	switch sc.Builtin {
	case "vm", "":
		return vm.New(), nil
	default:
		return nil, fmt.Errorf("beamlens: skill %q: unknown builtin %q and no custom skill registered for this id", sc.ID, sc.Builtin)
	}
}

// newOperator is the coordinator.OperatorFactory: it builds a fresh
// *operator.Operator bound to the named skill's configuration on every
// call, rather than caching one, so InvokeOperators always gets clean
// per-run state.
func (s *Supervisor) newOperator(skillID string) (*operator.Operator, error) {
	sk, ok := s.skills.Get(skillID)
	if !ok {
		return nil, fmt.Errorf("beamlens: unknown skill %q", skillID)
	}
	var opCfg operator.Config
	for _, sc := range s.cfg.Skills {
		if sc.ID == skillID {
			opCfg = sc.Operator
			break
		}
	}
	client, err := s.clients.Primary()
	if err != nil {
		return nil, err
	}
	return operator.New(opCfg, sk, client, s.breaker, s.alertBus, s.telemetry), nil
}

func (s *Supervisor) wireWatchers(client llm.Client) error {
	for _, wc := range s.cfg.Watchers {
		sk, ok := s.skills.Get(wc.Skill)
		if !ok {
			return fmt.Errorf("beamlens: watcher %q: unknown skill %q", wc.Name, wc.Skill)
		}

		var investigator *operator.Operator
		if wc.Investigate {
			op, err := s.newOperator(wc.Skill)
			if err != nil {
				return fmt.Errorf("beamlens: watcher %q: build investigator: %w", wc.Name, err)
			}
			investigator = op
		}

		w := watcher.New(wc.Config, sk, client, s.alertBus, s.cooldowns, s.telemetry, investigator)
		s.watchers[wc.Name] = w

		if err := s.scheduler.Add(scheduler.EntryConfig{
			Name:           wc.Name,
			CronExpression: wc.CronExpression,
			Handler:        func(ctx context.Context) error { return w.Tick(ctx, time.Now()) },
		}); err != nil {
			return fmt.Errorf("beamlens: watcher %q: %w", wc.Name, err)
		}
	}
	return nil
}

func (s *Supervisor) wireSchedules() error {
	for _, sc := range s.cfg.Schedules {
		sc := sc
		var handler scheduler.Handler
		if sc.Coordinator {
			reason := sc.Reason
			skills := sc.Skills
			handler = func(ctx context.Context) error {
				_, err := s.Run(ctx, reason, skills, coordinator.RunOptions{})
				return err
			}
		} else {
			skillID := sc.Skill
			reason := sc.Reason
			handler = func(ctx context.Context) error {
				op, err := s.newOperator(skillID)
				if err != nil {
					return err
				}
				_, err = op.Run(ctx, reason)
				return err
			}
		}
		if err := s.scheduler.Add(scheduler.EntryConfig{Name: sc.Name, CronExpression: sc.CronExpression, Handler: handler}); err != nil {
			return fmt.Errorf("beamlens: schedule %q: %w", sc.Name, err)
		}
	}
	return nil
}

// Start brings up the supervisor tree's background workers: the
// statistical detector's collection loop and every scheduler entry
// (watchers and simple-mode schedules alike).
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.detector != nil {
		go func() {
			if err := s.detector.Run(ctx); err != nil && ctx.Err() == nil {
				s.telemetry.Event("supervisor.detector_error", map[string]any{"reason": err.Error()})
			}
		}()
	}
	s.scheduler.Start(ctx)
}

// Stop cancels the detector loop and every scheduler worker, waiting for
// each scheduler worker to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}

// Run is a one-shot coordinator invocation (spec.md §6, `run`).
// strategy selects AgentLoop (the default) or Pipeline; skills
// restricts the operators available for this run (empty = all
// registered skills).
func (s *Supervisor) Run(ctx context.Context, reason string, skills []string, opts coordinator.RunOptions) (coordinator.RunResult, error) {
	s.coordinator.IngestFromBus()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = s.cfg.Coordinator.MaxIterations
	}
	if opts.Deadline <= 0 {
		opts.Deadline = s.cfg.Coordinator.Deadline
	}
	opts.Skills = skills
	runContext := reason

	if s.cfg.Coordinator.Strategy == "Pipeline" {
		return s.coordinator.RunPipeline(ctx, runContext, opts)
	}
	return s.coordinator.Run(ctx, runContext, opts)
}

// RunAsync fires a single operator invocation without waiting for it to
// complete; the result (or crash) is delivered to notify (spec.md §6,
// `run_async`).
func (s *Supervisor) RunAsync(ctx context.Context, skillID, reason string, notify func(operator.CompletionEvent)) error {
	op, err := s.newOperator(skillID)
	if err != nil {
		return err
	}
	op.RunAsync(ctx, reason, notify)
	return nil
}

// Investigate drains the alert bus and invokes the coordinator on the
// drained set (spec.md §6, `investigate`). If nothing was pending, it
// returns ok=false without running the coordinator.
func (s *Supervisor) Investigate(ctx context.Context) (coordinator.RunResult, bool, error) {
	if !s.alertBus.Pending() {
		return coordinator.RunResult{}, false, nil
	}
	result, err := s.Run(ctx, "Reason: draining pending alerts", nil, coordinator.RunOptions{})
	return result, true, err
}

// PendingAlerts reports whether any notification awaits coordinator
// attention.
func (s *Supervisor) PendingAlerts() bool {
	return s.alertBus.Pending()
}

// ListWatchers returns the configured watcher names.
func (s *Supervisor) ListWatchers() []string {
	names := make([]string, 0, len(s.cfg.Watchers))
	for _, w := range s.cfg.Watchers {
		names = append(names, w.Name)
	}
	return names
}

// TriggerWatcher fires a watcher's tick immediately, subject to the same
// overlap guard as a cron-triggered fire.
func (s *Supervisor) TriggerWatcher(name string) error {
	return s.scheduler.RunNow(name)
}

// WatcherStatus returns the scheduler's current snapshot for a watcher.
func (s *Supervisor) WatcherStatus(name string) (scheduler.EntryStatus, error) {
	status, ok := s.scheduler.Status(name)
	if !ok {
		return scheduler.EntryStatus{}, ErrNotFound
	}
	return status, nil
}

// CircuitBreakerState returns the breaker's current snapshot.
func (s *Supervisor) CircuitBreakerState() breaker.Snapshot {
	return s.breaker.State()
}

// ResetCircuitBreaker forces the breaker back to closed.
func (s *Supervisor) ResetCircuitBreaker() {
	s.breaker.Reset()
}

// PushNotification injects a notification directly onto the alert bus,
// e.g. from a bespoke metrics pipeline outside internal/detector.
func (s *Supervisor) PushNotification(n notification.Notification) error {
	return s.alertBus.Push(n)
}
