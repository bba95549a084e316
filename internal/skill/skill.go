// Package skill defines the contract every monitored domain implements
// (spec.md §4.1): a cheap, side-effect-free snapshot function and a closed
// set of idempotent, read-only callback tools, plus the registry the
// supervisor resolves skills from at configuration time. There is no
// dynamic code loading — the set of skills is fixed at supervisor start.
package skill

import (
	"context"
	"fmt"
	"time"

	"github.com/beamlens/beamlens/internal/registry"
)

// DefaultCallbackDeadline is the default per-callback execution deadline
// (spec.md §4.1.b).
const DefaultCallbackDeadline = 5 * time.Second

// Callback is one named, read-only, idempotent tool function a skill
// exposes. Implementations must return a JSON-serializable value within a
// bounded size and must not mutate observable state.
type Callback func(ctx context.Context, args map[string]any) (any, error)

// Skill is the uniform interface every monitored domain satisfies.
type Skill interface {
	// ID is the skill's unique symbol, e.g. "vm" or "table".
	ID() string

	// Title is a short human-readable name.
	Title() string

	// Description explains what this skill monitors.
	Description() string

	// SystemPrompt returns the LLM instructions for this skill's operator.
	SystemPrompt() string

	// Snapshot returns a finite mapping from metric name to numeric value.
	// Must be side-effect free and cheap (bounded O(state), no I/O).
	Snapshot(ctx context.Context) (map[string]float64, error)

	// Callbacks returns the ordered set of named read-only tools this skill
	// exposes, keyed by name.
	Callbacks() map[string]Callback

	// CallbackNames returns the callback names in the stable order they
	// should be presented to the LLM.
	CallbackNames() []string

	// CallbackDocs documents each callback's accepted arguments.
	CallbackDocs() string
}

// Base implements the bookkeeping every concrete skill needs (ordered
// callback names, doc string, prompt) so domain skills only supply the
// snapshot and callback bodies. Mirrors the teacher's baseAgent pattern of
// a small embeddable struct backing a public interface.
type Base struct {
	id           string
	title        string
	description  string
	systemPrompt string
	callbackDocs string

	names     []string
	callbacks map[string]Callback
}

// NewBase constructs a Base skill. Callback registration order is
// preserved via RegisterCallback, not map iteration.
func NewBase(id, title, description, systemPrompt, callbackDocs string) *Base {
	return &Base{
		id:           id,
		title:        title,
		description:  description,
		systemPrompt: systemPrompt,
		callbackDocs: callbackDocs,
		callbacks:    make(map[string]Callback),
	}
}

// RegisterCallback adds a named callback, preserving registration order.
func (b *Base) RegisterCallback(name string, fn Callback) {
	if _, exists := b.callbacks[name]; !exists {
		b.names = append(b.names, name)
	}
	b.callbacks[name] = fn
}

func (b *Base) ID() string                    { return b.id }
func (b *Base) Title() string                 { return b.title }
func (b *Base) Description() string           { return b.description }
func (b *Base) SystemPrompt() string          { return b.systemPrompt }
func (b *Base) CallbackDocs() string          { return b.callbackDocs }
func (b *Base) Callbacks() map[string]Callback { return b.callbacks }
func (b *Base) CallbackNames() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// RunCallback executes a named callback under the given deadline, failing
// closed if the name is unknown or the callback overruns its deadline.
func RunCallback(ctx context.Context, s Skill, name string, args map[string]any, deadline time.Duration) (any, error) {
	cb, ok := s.Callbacks()[name]
	if !ok {
		return nil, fmt.Errorf("skill %s: unknown callback %q", s.ID(), name)
	}
	if deadline <= 0 {
		deadline = DefaultCallbackDeadline
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("skill %s: callback %q panicked: %v", s.ID(), name, r)}
			}
		}()
		val, err := cb(cctx, args)
		done <- result{val: val, err: err}
	}()

	select {
	case <-cctx.Done():
		return nil, fmt.Errorf("skill %s: callback %q exceeded deadline %s: %w", s.ID(), name, deadline, cctx.Err())
	case r := <-done:
		return r.val, r.err
	}
}

// Registry is the fixed, supervisor-start-time set of known skills.
type Registry struct {
	*registry.Base[Skill]
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{Base: registry.New[Skill]()}
}
