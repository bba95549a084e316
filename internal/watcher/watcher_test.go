package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/skill"
	"github.com/beamlens/beamlens/internal/tool"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return llm.Response{}, nil
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}
func (c *scriptedClient) ModelName() string { return "scripted" }
func (c *scriptedClient) Close() error      { return nil }

type sliceSink struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (s *sliceSink) Push(n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}
func (s *sliceSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// testSkill adds the Snapshot method that skill.Base leaves to concrete
// skills, so it satisfies skill.Skill.
type testSkill struct {
	*skill.Base
}

func (s *testSkill) Snapshot(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"memory_used": 1}, nil
}

func newTestSkill() skill.Skill {
	return &testSkill{Base: skill.NewBase("vm", "vm", "vm", "", "")}
}

func toolCallResp(name string, args map[string]any) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: name, Arguments: args}}}
}

func TestWatcherSkipsClassificationBelowMinimumObservations(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResp(tool.WReportAnomaly, map[string]any{"anomaly_type": "memory_high", "severity": "warning", "summary": "leak"}),
	}}
	sink := &sliceSink{}
	w := New(Config{MinRequiredObservations: 3}, newTestSkill(), client, sink, NewCooldownTable(), observability.NewBus(nil, nil, nil), nil)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	require.NoError(t, w.Tick(context.Background(), time.Now()))
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 0, client.calls, "classification must not run below min_required_observations")
}

func TestWatcherReportAnomalyEmitsNotification(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResp(tool.WReportAnomaly, map[string]any{
			"anomaly_type": "memory_high",
			"severity":     "warning",
			"summary":      "memory leak suspected",
			"confidence":   "high",
		}),
	}}
	sink := &sliceSink{}
	w := New(Config{MinRequiredObservations: 1}, newTestSkill(), client, sink, NewCooldownTable(), observability.NewBus(nil, nil, nil), nil)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, "memory_high", sink.sent[0].AnomalyType)
}

// TestWatcherCooldownSuppressesRepeatedCategory covers invariant 8: a second
// anomaly in the same category within the cooldown window is suppressed.
func TestWatcherCooldownSuppressesRepeatedCategory(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResp(tool.WReportAnomaly, map[string]any{
			"anomaly_type":     "memory_high",
			"severity":         "warning",
			"summary":          "first",
			"confidence":       "high",
			"cooldown_minutes": 5,
		}),
		toolCallResp(tool.WReportAnomaly, map[string]any{
			"anomaly_type": "memory_low",
			"severity":     "warning",
			"summary":      "second, same category",
			"confidence":   "high",
		}),
	}}
	sink := &sliceSink{}
	cooldowns := NewCooldownTable()
	w := New(Config{MinRequiredObservations: 1}, newTestSkill(), client, sink, cooldowns, observability.NewBus(nil, nil, nil), nil)

	now := time.Now()
	require.NoError(t, w.Tick(context.Background(), now))
	require.Equal(t, 1, sink.Len())

	require.NoError(t, w.Tick(context.Background(), now.Add(time.Minute)))
	assert.Equal(t, 1, sink.Len(), "same-category anomaly within cooldown must be suppressed")

	// After cooldown expires, a new anomaly in the category fires again.
	client.mu.Lock()
	client.responses = append(client.responses, toolCallResp(tool.WReportAnomaly, map[string]any{
		"anomaly_type": "memory_high",
		"severity":     "warning",
		"summary":      "third, after cooldown",
		"confidence":   "high",
	}))
	client.mu.Unlock()
	require.NoError(t, w.Tick(context.Background(), now.Add(10*time.Minute)))
	assert.Equal(t, 2, sink.Len())
}

func TestWatcherReportHealthyClearsNotes(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResp(tool.WContinueObserving, map[string]any{"notes": "keep an eye", "confidence": "low"}),
		toolCallResp(tool.WReportHealthy, map[string]any{"summary": "all clear", "confidence": "medium"}),
	}}
	sink := &sliceSink{}
	w := New(Config{MinRequiredObservations: 1}, newTestSkill(), client, sink, NewCooldownTable(), observability.NewBus(nil, nil, nil), nil)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	assert.Equal(t, "keep an eye", w.notes)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	assert.Equal(t, "", w.notes)
	assert.Equal(t, 0, sink.Len())
}
