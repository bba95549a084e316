// Package coordinator implements the coordinator loop of spec.md §4.7: a
// singleton worker that consumes notifications from the alert bus,
// optionally invokes operators on demand, correlates their output, and
// produces insights. Two interchangeable strategies are provided: the
// default iterative AgentLoop (this file) and the three-stage Pipeline
// (pipeline.go).
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/bus"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/operator"
	"github.com/beamlens/beamlens/internal/tool"
)

func newInsightID() string {
	return uuid.NewString()
}

// Status is the coordinator's idle/running lifecycle (spec.md §4.7.1).
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// Defaults per spec.md §6's `run(context, opts)` surface.
const (
	DefaultMaxIterations = 25
	DefaultDeadline      = 5 * time.Minute
)

// RunOptions mirrors the `opts` keys of spec.md §6's `run`.
type RunOptions struct {
	Skills        []string // restrict available operators for this run; nil = all
	MaxIterations int
	Deadline      time.Duration
	TraceID       string
}

// RunResult is the coordinator's reply: insights produced plus, from the
// AgentLoop, any non-fatal warning (e.g.
// "max_iterations_reached_with_unread_notifications"). The Pipeline
// strategy puts its synthesized answer in Warning.
type RunResult struct {
	Insights []notification.Insight
	Warning  string
}

// OperatorFactory resolves a skill id to its bound Operator. Coordinators
// are built with one factory covering every configured skill.
type OperatorFactory func(skillID string) (*operator.Operator, error)

type operatorHandle struct {
	skillID   string
	startedAt time.Time
	cancel    context.CancelFunc
}

type pendingInvocation struct {
	ctx      string
	opts     RunOptions
	parent   context.Context
	strategy strategyFunc
	reply    chan runOutcome
}

type runOutcome struct {
	result RunResult
	err    error
}

// Coordinator is the singleton correlation worker.
type Coordinator struct {
	client    llm.Client
	breaker   *breaker.Breaker
	alertBus  *bus.Bus
	factory   OperatorFactory
	telemetry *observability.Bus

	mu            sync.Mutex
	status        Status
	notifications map[string]notification.Entry
	insights      []notification.Insight
	running       map[string]*operatorHandle
	queue         []pendingInvocation
}

// New constructs an idle Coordinator.
func New(client llm.Client, b *breaker.Breaker, alertBus *bus.Bus, factory OperatorFactory, telemetry *observability.Bus) *Coordinator {
	return &Coordinator{
		client:        client,
		breaker:       b,
		alertBus:      alertBus,
		factory:       factory,
		telemetry:     telemetry,
		status:        StatusIdle,
		notifications: make(map[string]notification.Entry),
		running:       make(map[string]*operatorHandle),
	}
}

// Status reports idle/running.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Insights returns a copy of every insight produced so far.
func (c *Coordinator) Insights() []notification.Insight {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notification.Insight, len(c.insights))
	copy(out, c.insights)
	return out
}

// Run performs one coordinator invocation using the AgentLoop strategy
// (spec.md §4.7.1, `run`). If the coordinator is already running, this
// invocation enqueues and blocks until its turn.
func (c *Coordinator) Run(ctx context.Context, runContext string, opts RunOptions) (RunResult, error) {
	return c.invoke(ctx, runContext, opts, c.runOnce)
}

// RunPipeline performs one coordinator invocation using the three-stage
// Pipeline strategy (spec.md §4.7.2). It shares the same singleton
// invocation queue as Run: the two strategies are mutually exclusive ways
// of servicing one `run` call, never run concurrently with each other.
func (c *Coordinator) RunPipeline(ctx context.Context, runContext string, opts RunOptions) (RunResult, error) {
	return c.invoke(ctx, runContext, opts, c.runPipelineOnce)
}

type strategyFunc func(ctx context.Context, runContext string, opts RunOptions) (RunResult, error)

func (c *Coordinator) invoke(ctx context.Context, runContext string, opts RunOptions, strategy strategyFunc) (RunResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}

	c.mu.Lock()
	if c.status == StatusRunning {
		reply := make(chan runOutcome, 1)
		c.queue = append(c.queue, pendingInvocation{ctx: runContext, opts: opts, parent: ctx, strategy: strategy, reply: reply})
		c.mu.Unlock()

		select {
		case out := <-reply:
			return out.result, out.err
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		}
	}
	c.status = StatusRunning
	c.mu.Unlock()

	result, err := strategy(ctx, runContext, opts)

	c.mu.Lock()
	c.status = StatusIdle
	var next *pendingInvocation
	if len(c.queue) > 0 {
		n := c.queue[0]
		c.queue = c.queue[1:]
		next = &n
	}
	c.mu.Unlock()

	if next != nil {
		go func(inv pendingInvocation) {
			r, e := c.invoke(inv.parent, inv.ctx, inv.opts, inv.strategy)
			inv.reply <- runOutcome{result: r, err: e}
		}(*next)
	}

	return result, err
}

// IngestFromBus drains the alert bus and adds every drained notification to
// the coordinator's inbox as an unread entry. Called at the start of every
// run so the LLM sees a consistent snapshot of pending alerts.
func (c *Coordinator) IngestFromBus() {
	if c.alertBus == nil {
		return
	}
	drained := c.alertBus.TakeAll()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range drained {
		c.notifications[n.ID] = notification.NewEntry(n)
	}
}

func (c *Coordinator) runOnce(parentCtx context.Context, runContext string, opts RunOptions) (RunResult, error) {
	c.IngestFromBus()

	ctx, cancel := context.WithTimeout(parentCtx, opts.Deadline)
	defer cancel()

	spanCtx, span := c.telemetry.StartSpan(ctx, "coordinator.start")
	ctx = spanCtx

	completions := make(chan operator.CompletionEvent, 32)
	messages := []llm.Message{
		{Role: "system", Content: coordinatorSystemPrompt},
		{Role: "user", Content: formatRunContext(runContext)},
	}

	result := RunResult{}

	for iteration := 1; iteration <= opts.MaxIterations; iteration++ {
		c.telemetry.Event("coordinator.iteration_start", map[string]any{"iteration": iteration})

		// Drain any completions that arrived without consuming an LLM call.
		c.drainCompletions(completions)

		select {
		case <-ctx.Done():
			c.cancelAllOperators()
			span.Exception("deadline_exceeded", ctx.Err())
			return c.snapshotResult(result), fmt.Errorf("coordinator: %w", ctx.Err())
		default:
		}

		resp, err := c.callLLM(ctx, messages, opts.Skills)
		if err != nil {
			c.telemetry.Event("coordinator.llm_error", map[string]any{"reason": err.Error()})
			span.Exception("llm_error", err)
			return c.snapshotResult(result), err
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
			continue
		}

		call := resp.ToolCalls[0]
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		args, err := tool.DecodeCoordinatorCall(call.Name, call.Arguments)
		if err != nil {
			messages = append(messages, toolResultMessage(call, fmt.Sprintf("error: %v", err)))
			continue
		}
		if inv, ok := args.(tool.InvokeOperatorsArgs); ok && len(opts.Skills) > 0 {
			var allowed []string
			for _, s := range inv.Skills {
				for _, permitted := range opts.Skills {
					if s == permitted {
						allowed = append(allowed, s)
						break
					}
				}
			}
			inv.Skills = allowed
			args = inv
		}

		done, resultText, reschedule := c.executeTool(ctx, call.Name, args, &result, completions)
		messages = append(messages, toolResultMessage(call, resultText))

		if done {
			span.Stop(map[string]any{"iterations": iteration, "insights": len(result.Insights)})
			if reschedule != nil {
				c.scheduleReinvoke(*reschedule, runContext, opts)
			}
			return c.snapshotResult(result), nil
		}
	}

	// max_iterations reached: if operators still running, wait for them
	// without calling the LLM further.
	if c.countRunning() > 0 {
		c.waitForOperators(ctx, completions)
	}
	if c.hasUnread() {
		result.Warning = "max_iterations_reached_with_unread_notifications"
	}
	c.telemetry.Event("coordinator.done", map[string]any{"max_iterations_reached": true})
	span.Stop(map[string]any{"max_iterations_reached": true, "insights": len(result.Insights)})
	return c.snapshotResult(result), nil
}

func (c *Coordinator) snapshotResult(result RunResult) RunResult {
	result.Insights = c.Insights()
	return result
}

func (c *Coordinator) callLLM(ctx context.Context, messages []llm.Message, skills []string) (llm.Response, error) {
	var resp llm.Response
	err := c.breaker.Guard(ctx, "coordinator.llm", func(ctx context.Context) error {
		spanCtx, span := c.telemetry.StartSpan(ctx, "llm.start")
		var genErr error
		resp, genErr = c.client.Generate(spanCtx, messages, tool.CoordinatorDefinitions())
		if genErr != nil {
			span.Exception("error", genErr)
			return genErr
		}
		span.Stop(map[string]any{"tokens": resp.TokensUsed})
		return nil
	})
	return resp, err
}

// executeTool runs one coordinator tool call. Returns (done, tool-result-
// text, reschedule) where reschedule is non-nil only for a successful
// Schedule call.
func (c *Coordinator) executeTool(ctx context.Context, name string, args any, result *RunResult, completions chan operator.CompletionEvent) (bool, string, *scheduleRequest) {
	switch a := args.(type) {
	case tool.GetNotificationsArgs:
		return false, c.toolGetNotifications(a), nil

	case tool.UpdateNotificationStatusesArgs:
		return false, c.toolUpdateNotificationStatuses(a), nil

	case tool.ProduceInsightArgs:
		return false, c.toolProduceInsight(a, result), nil

	case tool.CoordinatorThinkArgs:
		return false, a.Thought, nil

	case tool.InvokeOperatorsArgs:
		return false, c.toolInvokeOperators(ctx, a, completions), nil

	case tool.MessageOperatorArgs:
		return false, c.toolMessageOperator(ctx, a), nil

	case tool.GetOperatorStatusesArgs:
		return false, c.toolGetOperatorStatuses(), nil

	case tool.ScheduleArgs:
		if c.countRunning() > 0 {
			return false, "error: operators still running, cannot schedule", nil
		}
		return true, "scheduled", &scheduleRequest{delay: time.Duration(a.MS) * time.Millisecond, reason: a.Reason}

	case tool.CoordinatorWaitArgs:
		select {
		case <-ctx.Done():
			return false, "cancelled", nil
		case <-time.After(time.Duration(a.MS) * time.Millisecond):
			return false, "resumed", nil
		}

	case tool.DoneArgs:
		if c.countRunning() > 0 {
			return false, "error: operators still running, cannot finish", nil
		}
		return true, "done", nil

	default:
		return false, "error: unrecognized tool args", nil
	}
}

type scheduleRequest struct {
	delay  time.Duration
	reason string
}

func (c *Coordinator) scheduleReinvoke(req scheduleRequest, runContext string, opts RunOptions) {
	time.AfterFunc(req.delay, func() {
		if c.Status() != StatusIdle {
			return
		}
		reason := req.reason
		if reason == "" {
			reason = "scheduled reinvocation"
		}
		ctx := context.Background()
		_, _ = c.Run(ctx, runContext+"\nReason: "+reason, opts)
	})
}

func (c *Coordinator) toolGetNotifications(a tool.GetNotificationsArgs) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, e := range c.notifications {
		if a.Status == "" || string(e.Status) == a.Status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	entries := make([]notification.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, c.notifications[id])
	}
	payload, _ := json.Marshal(entries)
	return string(payload)
}

func (c *Coordinator) toolUpdateNotificationStatuses(a tool.UpdateNotificationStatusesArgs) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for _, id := range a.IDs {
		entry, ok := c.notifications[id]
		if !ok {
			continue // missing ids are silently skipped
		}
		to := notification.Status(a.Status)
		if !notification.CanTransition(entry.Status, to) {
			continue
		}
		entry.Status = to
		c.notifications[id] = entry
		updated++
	}
	return fmt.Sprintf("updated %d notification(s)", updated)
}

func (c *Coordinator) toolProduceInsight(a tool.ProduceInsightArgs, result *RunResult) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Invariant: every cited id must exist in the inbox at production time.
	for _, id := range a.NotificationIDs {
		if _, ok := c.notifications[id]; !ok {
			return fmt.Sprintf("error: unknown notification id %q", id)
		}
	}

	insight := notification.Insight{
		ID:                  newInsightID(),
		NotificationIDs:     a.NotificationIDs,
		CorrelationType:     notification.Correlation(a.CorrelationType),
		Summary:             a.Summary,
		RootCauseHypothesis: a.RootCauseHypothesis,
		MatchedObservations: a.MatchedObservations,
		HypothesisGrounded:  a.HypothesisGrounded,
		Confidence:          notification.Confidence(a.Confidence),
		CreatedAt:           time.Now(),
	}
	c.insights = append(c.insights, insight)
	result.Insights = append(result.Insights, insight)

	for _, id := range a.NotificationIDs {
		entry := c.notifications[id]
		if notification.CanTransition(entry.Status, notification.StatusResolved) {
			entry.Status = notification.StatusResolved
			c.notifications[id] = entry
		}
	}

	c.telemetry.Event("coordinator.insight_produced", map[string]any{"id": insight.ID})
	return fmt.Sprintf("insight %s produced", insight.ID)
}

func (c *Coordinator) toolInvokeOperators(ctx context.Context, a tool.InvokeOperatorsArgs, completions chan operator.CompletionEvent) string {
	spawned := 0
	for _, skillID := range a.Skills {
		c.mu.Lock()
		_, already := c.running[skillID]
		c.mu.Unlock()
		if already {
			continue
		}

		op, err := c.factory(skillID)
		if err != nil {
			continue
		}

		opCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.running[skillID] = &operatorHandle{skillID: skillID, startedAt: time.Now(), cancel: cancel}
		c.mu.Unlock()

		op.RunAsync(opCtx, a.Context, func(ev operator.CompletionEvent) {
			completions <- ev
		})
		spawned++
	}
	return fmt.Sprintf("spawned %d operator(s)", spawned)
}

func (c *Coordinator) toolMessageOperator(ctx context.Context, a tool.MessageOperatorArgs) string {
	c.mu.Lock()
	_, running := c.running[a.Skill]
	c.mu.Unlock()
	if !running {
		return fmt.Sprintf("error: operator %q is not running", a.Skill)
	}

	op, err := c.factory(a.Skill)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	reply, err := op.Message(ctx, a.Message)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return reply
}

func (c *Coordinator) toolGetOperatorStatuses() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type status struct {
		Skill     string    `json:"skill"`
		Status    string    `json:"status"`
		StartedAt time.Time `json:"started_at"`
	}
	statuses := make([]status, 0, len(c.running))
	for skillID, h := range c.running {
		statuses = append(statuses, status{Skill: skillID, Status: "running", StartedAt: h.startedAt})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Skill < statuses[j].Skill })
	payload, _ := json.Marshal(statuses)
	return string(payload)
}

func (c *Coordinator) drainCompletions(completions chan operator.CompletionEvent) {
	for {
		select {
		case ev := <-completions:
			c.handleCompletion(ev)
		default:
			return
		}
	}
}

func (c *Coordinator) handleCompletion(ev operator.CompletionEvent) {
	c.mu.Lock()
	delete(c.running, ev.SkillID)
	c.mu.Unlock()

	if ev.Err != nil {
		c.telemetry.Event("coordinator.operator_crashed", map[string]any{"skill": ev.SkillID, "reason": ev.Err.Error()})
		return
	}

	for _, n := range ev.Result.Notifications {
		c.mu.Lock()
		c.notifications[n.ID] = notification.NewEntry(n)
		c.mu.Unlock()
	}
	c.telemetry.Event("coordinator.operator_complete", map[string]any{"skill": ev.SkillID, "notifications": len(ev.Result.Notifications)})
}

func (c *Coordinator) waitForOperators(ctx context.Context, completions chan operator.CompletionEvent) {
	for c.countRunning() > 0 {
		select {
		case <-ctx.Done():
			c.cancelAllOperators()
			return
		case ev := <-completions:
			c.handleCompletion(ev)
		}
	}
}

func (c *Coordinator) cancelAllOperators() {
	c.mu.Lock()
	handles := make([]*operatorHandle, 0, len(c.running))
	for _, h := range c.running {
		handles = append(handles, h)
	}
	c.running = make(map[string]*operatorHandle)
	c.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}

func (c *Coordinator) countRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *Coordinator) hasUnread() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.notifications {
		if e.Status == notification.StatusUnread {
			return true
		}
	}
	return false
}

func toolResultMessage(call llm.ToolCall, content string) llm.Message {
	return llm.Message{Role: "tool", Content: content, ToolCallID: call.ID, Name: call.Name}
}

func formatRunContext(reason string) string {
	if reason == "" {
		return ""
	}
	return "Reason: " + reason
}

const coordinatorSystemPrompt = "You are the BeamLens coordinator. Correlate notifications into insights using only the provided tools."
