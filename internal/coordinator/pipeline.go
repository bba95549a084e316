package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/operator"
)

// PollInterval is how often the gathering stage checks whether every
// spawned operator has finished (spec.md §4.7.2, step 2).
const PollInterval = 500 * time.Millisecond

type pipelineClassification struct {
	Intent          string   `json:"intent"`
	Skills          []string `json:"skills"`
	OperatorContext string   `json:"operator_context"`
}

type pipelineSynthesis struct {
	Answer string `json:"answer"`
}

// runPipelineOnce implements the classifying -> gathering -> synthesizing
// state machine. It shares the coordinator's notification inbox and
// operator factory but never consults the coordinator toolset: each stage
// is exactly one LLM call (classify, synthesize) or a pure polling wait.
func (c *Coordinator) runPipelineOnce(parentCtx context.Context, runContext string, opts RunOptions) (RunResult, error) {
	c.IngestFromBus()

	ctx, cancel := context.WithTimeout(parentCtx, opts.Deadline)
	defer cancel()

	spanCtx, span := c.telemetry.StartSpan(ctx, "coordinator.pipeline.start")
	ctx = spanCtx

	classification, err := c.pipelineClassify(ctx, runContext)
	if err != nil {
		span.Exception("classify_error", err)
		return RunResult{}, err
	}
	if len(opts.Skills) > 0 {
		var allowed []string
		for _, s := range classification.Skills {
			for _, permitted := range opts.Skills {
				if s == permitted {
					allowed = append(allowed, s)
					break
				}
			}
		}
		classification.Skills = allowed
	}
	c.telemetry.Event("coordinator.pipeline.classified", map[string]any{
		"intent": classification.Intent,
		"skills": classification.Skills,
	})

	if classification.Intent == "question" || len(classification.Skills) == 0 {
		answer, err := c.pipelineSynthesize(ctx, runContext, nil)
		if err != nil {
			span.Exception("synthesize_error", err)
			return RunResult{}, err
		}
		span.Stop(map[string]any{"intent": classification.Intent, "gathered": 0})
		return c.snapshotResult(RunResult{Warning: answer}), nil
	}

	gathered, err := c.pipelineGather(ctx, classification)
	if err != nil {
		span.Exception("gather_error", err)
		return c.snapshotResult(RunResult{}), err
	}

	answer, err := c.pipelineSynthesize(ctx, runContext, gathered)
	if err != nil {
		span.Exception("synthesize_error", err)
		return c.snapshotResult(RunResult{}), err
	}

	result := RunResult{Warning: answer}
	if len(gathered) > 0 {
		insight := notification.Insight{
			ID:                  newInsightID(),
			NotificationIDs:     notificationIDs(gathered),
			CorrelationType:     notification.CorrelationSymptomatic,
			Summary:             answer,
			HypothesisGrounded:  false,
			Confidence:          notification.ConfidenceLow,
			CreatedAt:           time.Now(),
		}

		c.mu.Lock()
		c.insights = append(c.insights, insight)
		for _, n := range gathered {
			entry, ok := c.notifications[n.ID]
			if !ok {
				entry = notification.NewEntry(n)
			}
			entry.Status = notification.StatusResolved
			c.notifications[n.ID] = entry
		}
		c.mu.Unlock()

		result.Insights = []notification.Insight{insight}
	}

	span.Stop(map[string]any{"gathered": len(gathered)})
	return c.snapshotResult(result), nil
}

func (c *Coordinator) pipelineClassify(ctx context.Context, runContext string) (pipelineClassification, error) {
	messages := []llm.Message{
		{Role: "system", Content: pipelineClassifyPrompt},
		{Role: "user", Content: formatRunContext(runContext)},
	}

	var resp llm.Response
	err := c.breaker.Guard(ctx, "coordinator.pipeline.classify", func(ctx context.Context) error {
		var genErr error
		resp, genErr = c.client.Generate(ctx, messages, nil)
		return genErr
	})
	if err != nil {
		return pipelineClassification{}, fmt.Errorf("coordinator: classify: %w", err)
	}

	var out pipelineClassification
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return pipelineClassification{}, fmt.Errorf("coordinator: classify: malformed response: %w", err)
	}
	return out, nil
}

func (c *Coordinator) pipelineGather(ctx context.Context, classification pipelineClassification) ([]notification.Notification, error) {
	completions := make(chan operator.CompletionEvent, len(classification.Skills))
	spawned := 0

	for _, skillID := range classification.Skills {
		op, err := c.factory(skillID)
		if err != nil {
			c.telemetry.Event("coordinator.pipeline.spawn_error", map[string]any{"skill": skillID, "reason": err.Error()})
			continue
		}

		opCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.running[skillID] = &operatorHandle{skillID: skillID, startedAt: time.Now(), cancel: cancel}
		c.mu.Unlock()

		op.RunAsync(opCtx, classification.OperatorContext, func(ev operator.CompletionEvent) {
			completions <- ev
		})
		spawned++
	}

	var gathered []notification.Notification
	remaining := spawned
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-ctx.Done():
			c.cancelAllOperators()
			return gathered, ctx.Err()
		case ev := <-completions:
			c.mu.Lock()
			delete(c.running, ev.SkillID)
			c.mu.Unlock()
			if ev.Err != nil {
				c.telemetry.Event("coordinator.pipeline.operator_crashed", map[string]any{"skill": ev.SkillID, "reason": ev.Err.Error()})
			} else {
				gathered = append(gathered, ev.Result.Notifications...)
			}
			remaining--
		case <-ticker.C:
			// fixed-interval poll; nothing to do besides loop back around
			// and re-check the completions channel and deadline.
		}
	}

	return gathered, nil
}

func (c *Coordinator) pipelineSynthesize(ctx context.Context, runContext string, gathered []notification.Notification) (string, error) {
	payload, _ := json.Marshal(gathered)
	messages := []llm.Message{
		{Role: "system", Content: pipelineSynthesizePrompt},
		{Role: "user", Content: fmt.Sprintf("query: %s\noperator_data: %s", runContext, payload)},
	}

	var resp llm.Response
	err := c.breaker.Guard(ctx, "coordinator.pipeline.synthesize", func(ctx context.Context) error {
		var genErr error
		resp, genErr = c.client.Generate(ctx, messages, nil)
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("coordinator: synthesize: %w", err)
	}

	var out pipelineSynthesis
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		// Synthesis is allowed to reply in plain prose; fall back to the
		// raw content rather than failing the run over a schema mismatch.
		return resp.Content, nil
	}
	return out.Answer, nil
}

func notificationIDs(notifications []notification.Notification) []string {
	ids := make([]string, len(notifications))
	for i, n := range notifications {
		ids[i] = n.ID
	}
	return ids
}

const pipelineClassifyPrompt = `Classify the incoming request. Reply with JSON only: {"intent": "question"|"investigation", "skills": ["..."], "operator_context": "..."}.`

const pipelineSynthesizePrompt = `Given the query and gathered operator_data, reply with JSON only: {"answer": "..."}.`
