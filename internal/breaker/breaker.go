// Package breaker implements the three-state circuit breaker (spec.md
// §4.2) that guards every LLM call made by operators and the coordinator.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beamlens/beamlens/internal/observability"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Allow (via Guard) when the breaker rejects a call.
var ErrOpen = errors.New("circuit_open")

// Config tunes the breaker's thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	Enabled          bool          `yaml:"enabled"`
}

// SetDefaults fills in the spec's implied defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
}

// Snapshot is a pure, read-only view of the breaker's state.
type Snapshot struct {
	State            State
	FailureCount     int
	SuccessCount     int
	LastFailureAt    time.Time
	LastFailureReason string
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// Breaker is the singleton guard shared by all LLM callers. All state
// mutation happens under a single mutex — there is no lock-free path,
// matching the "single-threaded state per worker" rule of spec.md §5.
type Breaker struct {
	mu    sync.Mutex
	cfg   Config
	state State

	failureCount int
	successCount int

	lastFailureAt     time.Time
	lastFailureReason string

	resetTimer *time.Timer
	telemetry  *observability.Bus
}

// New creates a Breaker in the closed state.
func New(cfg Config, telemetry *observability.Bus) *Breaker {
	cfg.SetDefaults()
	return &Breaker{
		cfg:       cfg,
		state:     Closed,
		telemetry: telemetry,
	}
}

// Allow reports whether a new LLM call may proceed: true in closed and
// half-open, false in open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	allowed := b.state != Open
	if !allowed {
		b.emit("rejected", map[string]any{
			"state":         string(b.state),
			"failure_count": b.failureCount,
		})
	}
	return allowed
}

// Guard is a convenience wrapper: it checks Allow, runs fn if permitted, and
// feeds the result back via RecordSuccess/RecordFailure. Callers that need
// finer control can call Allow/RecordSuccess/RecordFailure directly.
func (b *Breaker) Guard(ctx context.Context, reason string, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure(reason)
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordFailure reports a failed LLM call.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = time.Now()
	b.lastFailureReason = reason

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(Open, reason)
			b.armResetTimer()
		}
	case HalfOpen:
		b.transition(Open, reason)
		b.armResetTimer()
	case Open:
		// remain open
	}
}

// RecordSuccess reports a successful LLM call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transition(Closed, "")
			b.failureCount = 0
			b.successCount = 0
		}
	case Open:
		// no effect
	}
}

// Reset forces the breaker closed and zeroes both counters. Administrative.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopResetTimer()
	b.transition(Closed, "manual_reset")
	b.failureCount = 0
	b.successCount = 0
}

// State returns a pure snapshot of the breaker's state.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:             b.state,
		FailureCount:      b.failureCount,
		SuccessCount:      b.successCount,
		LastFailureAt:     b.lastFailureAt,
		LastFailureReason: b.lastFailureReason,
		FailureThreshold:  b.cfg.FailureThreshold,
		SuccessThreshold:  b.cfg.SuccessThreshold,
		ResetTimeout:      b.cfg.ResetTimeout,
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.emit("state_change", map[string]any{
		"from":          string(from),
		"to":            string(to),
		"failure_count": b.failureCount,
		"reason":        reason,
	})
}

// armResetTimer schedules the open->half_open transition. Must be called
// with b.mu held.
func (b *Breaker) armResetTimer() {
	b.stopResetTimer()
	b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state == Open {
			b.transition(HalfOpen, "reset_timeout_elapsed")
			b.successCount = 0
		}
	})
}

// stopResetTimer must be called with b.mu held.
func (b *Breaker) stopResetTimer() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

func (b *Breaker) emit(event string, fields map[string]any) {
	if b.telemetry == nil {
		return
	}
	b.telemetry.Event("circuit_breaker."+event, fields)
}
