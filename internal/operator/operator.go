// Package operator implements the per-skill LLM tool-calling agent of
// spec.md §4.6: on each iteration it asks the LLM (through the circuit
// breaker) to pick exactly one tool from a closed set, executes it, and
// accumulates notifications until the LLM calls Finish or max_iterations
// is reached. Wait pauses the loop for its delay and then continues; it
// ends the run only when the context is cancelled during the pause.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/tool"
)

// DefaultMaxIterations bounds a single run when configuration omits one.
const DefaultMaxIterations = 10

// Sink is the subset of the alert bus an operator needs to deliver
// notifications immediately when running under RunAsync.
type Sink interface {
	Push(n notification.Notification) error
}

// Config is the per-operator configuration surface.
type Config struct {
	MaxIterations    int           `yaml:"max_iterations"`
	CallbackDeadline time.Duration `yaml:"callback_deadline_ms"`
	Node             string        `yaml:"node"`
}

func (c *Config) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.CallbackDeadline <= 0 {
		c.CallbackDeadline = skill.DefaultCallbackDeadline
	}
}

// Result is what a completed run produces (spec.md §4.6, `run` reply).
type Result struct {
	Notifications []notification.Notification
}

// CompletionEvent is delivered to RunAsync's notify callback, mirroring
// spec.md's `{operator_complete, operator_pid, skill_id, result}` message.
type CompletionEvent struct {
	SkillID string
	Result  Result
	Err     error
}

// Operator is a long-lived worker keyed by skill (spec.md §4.6).
type Operator struct {
	cfg       Config
	skill     skill.Skill
	client    llm.Client
	breaker   *breaker.Breaker
	bus       Sink
	telemetry *observability.Bus

	mu         sync.Mutex
	running    bool
	cancelRun  context.CancelFunc
}

// New constructs an Operator bound to exactly one skill (spec.md §4.1).
func New(cfg Config, sk skill.Skill, client llm.Client, b *breaker.Breaker, bus Sink, telemetry *observability.Bus) *Operator {
	cfg.SetDefaults()
	return &Operator{cfg: cfg, skill: sk, client: client, breaker: b, bus: bus, telemetry: telemetry}
}

// Run performs one blocking investigation and returns its accumulated
// notifications.
func (o *Operator) Run(ctx context.Context, runContext string) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.running = true
	o.cancelRun = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.cancelRun = nil
		o.mu.Unlock()
		cancel()
	}()

	return o.loop(runCtx, runContext)
}

// RunAsync runs in the background and reports completion via onComplete.
func (o *Operator) RunAsync(ctx context.Context, runContext string, onComplete func(CompletionEvent)) {
	go func() {
		result, err := o.Run(ctx, runContext)
		if onComplete != nil {
			onComplete(CompletionEvent{SkillID: o.skill.ID(), Result: result, Err: err})
		}
	}()
}

// Stop cooperatively cancels any in-flight run. Cancellation is observed at
// the next tool boundary (spec.md §4.6 invariant).
func (o *Operator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
}

// Message answers an out-of-band question with a single LLM call and no
// tool loop (spec.md §4.6, `message`).
func (o *Operator) Message(ctx context.Context, text string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: o.skill.SystemPrompt()},
		{Role: "user", Content: text},
	}

	var resp llm.Response
	err := o.breaker.Guard(ctx, "operator.message", func(ctx context.Context) error {
		var genErr error
		resp, genErr = o.client.Generate(ctx, messages, nil)
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("operator %s: message: %w", o.skill.ID(), err)
	}
	return resp.Content, nil
}

func (o *Operator) loop(ctx context.Context, runContext string) (Result, error) {
	spanCtx, span := o.telemetry.StartSpan(ctx, "operator.start")
	ctx = spanCtx

	var result Result
	messages := []llm.Message{
		{Role: "system", Content: o.systemPrompt()},
		{Role: "user", Content: runContext},
	}

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			span.Exception("cancelled", ctx.Err())
			return result, fmt.Errorf("operator %s: %w", o.skill.ID(), ctx.Err())
		default:
		}

		resp, err := o.callLLM(ctx, messages)
		if err != nil {
			span.Exception("llm_error", err)
			return result, err
		}

		if len(resp.ToolCalls) == 0 {
			// No tool chosen: treat as a Think note and continue, matching
			// the "failure to conform to schema is retriable" spirit
			// without discarding whatever text came back.
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
			continue
		}

		call := resp.ToolCalls[0]
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		args, err := tool.DecodeOperatorCall(call.Name, call.Arguments)
		if err != nil {
			o.telemetry.Event("tool.decode_error", map[string]any{"skill": o.skill.ID(), "tool": call.Name, "reason": err.Error()})
			messages = append(messages, toolResultMessage(call, fmt.Sprintf("error: %v", err)))
			continue
		}

		done, toolResult, finishErr := o.executeTool(ctx, call.Name, args, &result)
		messages = append(messages, toolResultMessage(call, toolResult))
		if finishErr != nil {
			span.Exception("tool_error", finishErr)
			return result, finishErr
		}
		if done {
			span.Stop(map[string]any{"iterations": iteration, "notifications": len(result.Notifications)})
			return result, nil
		}
	}

	o.telemetry.Event("operator.max_iterations_reached", map[string]any{"skill": o.skill.ID()})
	span.Stop(map[string]any{"iterations": o.cfg.MaxIterations, "notifications": len(result.Notifications), "max_iterations_reached": true})
	return result, nil
}

func (o *Operator) systemPrompt() string {
	return o.skill.SystemPrompt() + "\n\n" + o.skill.CallbackDocs()
}

func (o *Operator) callLLM(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	var resp llm.Response
	err := o.breaker.Guard(ctx, "operator.llm", func(ctx context.Context) error {
		spanCtx, span := o.telemetry.StartSpan(ctx, "llm.start")
		var genErr error
		resp, genErr = o.client.Generate(spanCtx, messages, tool.OperatorDefinitions())
		if genErr != nil {
			span.Exception("error", genErr)
			return genErr
		}
		span.Stop(map[string]any{"tokens": resp.TokensUsed})
		return nil
	})
	return resp, err
}

// executeTool runs one tool call, returning (done, tool-result-text, err).
// err is only non-nil for unrecoverable failures; ordinary tool-level
// problems are reported as their own tool-result text so the loop
// continues.
func (o *Operator) executeTool(ctx context.Context, name string, args any, result *Result) (bool, string, error) {
	spanCtx, span := o.telemetry.StartSpan(ctx, "tool.start")
	defer func() { span.Stop(map[string]any{"tool": name}) }()

	switch a := args.(type) {
	case tool.TakeSnapshotArgs:
		snap, err := o.skill.Snapshot(spanCtx)
		if err != nil {
			return false, fmt.Sprintf("error: %v", err), nil
		}
		payload, _ := json.Marshal(snap)
		return false, string(payload), nil

	case tool.RunCallbackArgs:
		val, err := skill.RunCallback(spanCtx, o.skill, a.Name, a.Args, o.cfg.CallbackDeadline)
		if err != nil {
			return false, fmt.Sprintf("error: %v", err), nil
		}
		payload, _ := json.Marshal(val)
		return false, string(payload), nil

	case tool.SendNotificationArgs:
		n := notification.Notification{
			ID:          notification.NewID(),
			Operator:    o.skill.ID(),
			AnomalyType: a.AnomalyType,
			Severity:    notification.Severity(a.Severity),
			Context:     a.Context,
			Observation: a.Observation,
			Hypothesis:  a.Hypothesis,
			DetectedAt:  time.Now(),
			Node:        o.cfg.Node,
		}
		result.Notifications = append(result.Notifications, n)
		if o.bus != nil {
			if err := o.bus.Push(n); err != nil {
				o.telemetry.Event("operator.notification_delivery_error", map[string]any{"skill": o.skill.ID(), "reason": err.Error()})
			}
		}
		return false, "notification recorded", nil

	case tool.ThinkArgs:
		return false, a.Thought, nil

	case tool.WaitArgs:
		select {
		case <-ctx.Done():
			return false, "cancelled", ctx.Err()
		case <-time.After(time.Duration(a.MS) * time.Millisecond):
			return false, "resumed", nil
		}

	case tool.FinishArgs:
		return true, "finished", nil

	default:
		return false, "error: unrecognized tool args", nil
	}
}

func toolResultMessage(call llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
