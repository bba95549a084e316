package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beamlens/beamlens/internal/observability"
)

// Handler is the unit of work a schedule entry fires. The scheduler's
// handler for watcher mode delegates to internal/watcher's baseline-LLM
// path; the handler for simple mode invokes an operator or coordinator
// run directly (spec.md §4.8). Either way the scheduler itself only
// knows about this generic signature.
type Handler func(ctx context.Context) error

// EntryConfig is one configured schedule (spec.md §6, `watchers`/
// `schedules`).
type EntryConfig struct {
	Name           string
	CronExpression string
	Handler        Handler
}

// EntryStatus is the snapshot returned by Scheduler.Status(name).
type EntryStatus struct {
	Name     string
	Running  bool
	NextFire time.Time
	LastRun  time.Time
	LastErr  error
}

// entry is the supervised worker for one EntryConfig.
type entry struct {
	cfg EntryConfig

	mu       sync.Mutex
	running  bool
	nextFire time.Time
	lastRun  time.Time
	lastErr  error

	runNow chan chan error
	stop   chan struct{}
	done   chan struct{}
}

// Scheduler runs a supervised worker per configured entry (spec.md
// §4.8). Each worker computes its next fire time from the cron
// expression, sleeps until then, and on fire either runs the handler
// (if not already running) or emits `skipped {reason: already_running}`
// and reschedules.
type Scheduler struct {
	telemetry *observability.Bus

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty Scheduler. Entries are added with Add and
// started with Start.
func New(telemetry *observability.Bus) *Scheduler {
	return &Scheduler{telemetry: telemetry, entries: make(map[string]*entry)}
}

// Add registers an entry. It must be called before Start; adding an
// entry with a name already in use replaces the prior configuration.
func (s *Scheduler) Add(cfg EntryConfig) error {
	if _, err := nextFire(cfg.CronExpression, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cfg.Name] = &entry{
		cfg:    cfg,
		runNow: make(chan chan error),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	return nil
}

// Start launches every registered entry's supervised worker goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		go s.run(ctx, e)
	}
}

// Stop cancels every entry's worker and waits for each to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		close(e.stop)
	}
	for _, e := range entries {
		<-e.done
	}
}

// run is the supervised worker loop for one entry. Each fire runs its
// handler on a goroutine of its own, so the loop stays free to answer a
// RunNow (and report already_running) while a handler is in flight; the
// fields shared with fire and Status are guarded by e.mu.
func (s *Scheduler) run(ctx context.Context, e *entry) {
	defer close(e.done)
	next, err := nextFire(e.cfg.CronExpression, time.Now())
	if err != nil {
		// Add already validated the expression; this can only happen if
		// the clock is pathological, which is not worth surviving.
		return
	}
	e.mu.Lock()
	e.nextFire = next
	e.mu.Unlock()

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stop:
			timer.Stop()
			return
		case reply := <-e.runNow:
			timer.Stop()
			go func() { reply <- s.fire(ctx, e, "run_now") }()
		case <-timer.C:
			go s.fire(ctx, e, "cron")
			next, err = nextFire(e.cfg.CronExpression, time.Now())
			if err != nil {
				return
			}
			e.mu.Lock()
			e.nextFire = next
			e.mu.Unlock()
		}
	}
}

// fire runs the entry's handler unless it is already running, in which
// case it emits skipped and returns an error describing that.
func (s *Scheduler) fire(ctx context.Context, e *entry, trigger string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.emit("scheduler.skipped", e.cfg.Name, map[string]any{"reason": "already_running", "trigger": trigger})
		return fmt.Errorf("scheduler: %s: already running", e.cfg.Name)
	}
	e.running = true
	e.mu.Unlock()

	s.emit("scheduler.start", e.cfg.Name, map[string]any{"trigger": trigger})
	start := time.Now()
	err := e.cfg.Handler(ctx)
	took := time.Since(start)

	e.mu.Lock()
	e.running = false
	e.lastRun = start
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		s.emit("scheduler.failed", e.cfg.Name, map[string]any{"reason": err.Error(), "duration_ms": took.Milliseconds()})
	} else {
		s.emit("scheduler.completed", e.cfg.Name, map[string]any{"duration_ms": took.Milliseconds()})
	}
	return err
}

// RunNow fires an entry immediately unless it is already running, per
// spec.md §4.8's `run_now(name)`.
func (s *Scheduler) RunNow(name string) error {
	e, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("scheduler: unknown entry %q", name)
	}
	reply := make(chan error, 1)
	select {
	case e.runNow <- reply:
		return <-reply
	case <-e.done:
		return fmt.Errorf("scheduler: %s: stopped", name)
	}
}

// Status returns the current snapshot for a named entry.
func (s *Scheduler) Status(name string) (EntryStatus, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return EntryStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return EntryStatus{
		Name:     e.cfg.Name,
		Running:  e.running,
		NextFire: e.nextFire,
		LastRun:  e.lastRun,
		LastErr:  e.lastErr,
	}, true
}

// List returns the names of every registered entry.
func (s *Scheduler) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) lookup(name string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e, ok
}

func (s *Scheduler) emit(event, name string, fields map[string]any) {
	if s.telemetry == nil {
		return
	}
	fields["name"] = name
	s.telemetry.Event(event, fields)
}
