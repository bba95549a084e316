package operator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/notification"
	"github.com/beamlens/beamlens/internal/observability"
	"github.com/beamlens/beamlens/internal/skill"
)

// scriptedClient replays a fixed sequence of responses, one per Generate
// call, so tests can drive the operator loop deterministically.
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

func newTestSkill() *skill.Base {
	b := skill.NewBase("vm", "VM", "vm metrics", "watch vm metrics", "no callbacks")
	return b
}

type fakeSkill struct {
	*skill.Base
}

func (f *fakeSkill) Snapshot(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"cpu": 42}, nil
}

func toolCallResp(name string, args map[string]any) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: name, Arguments: args}}}
}

func TestOperatorRunFinishesOnFinishTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResp("TakeSnapshot", nil),
		toolCallResp("SendNotification", map[string]any{
			"anomaly_type": "memory_high",
			"severity":     "warning",
			"context":      "ctx",
			"observation":  "obs",
		}),
		toolCallResp("Finish", nil),
	}}

	b := breaker.New(breaker.Config{}, observability.NewBus(nil, nil, nil))
	sink := &sliceSink{}
	op := New(Config{MaxIterations: 10}, &fakeSkill{Base: newTestSkill()}, client, b, sink, observability.NewBus(nil, nil, nil))

	result, err := op.Run(context.Background(), "investigate")
	require.NoError(t, err)
	require.Len(t, result.Notifications, 1)
	assert.Equal(t, "memory_high", result.Notifications[0].AnomalyType)
	assert.Len(t, sink.sent, 1)
}

func TestOperatorRunStopsAtMaxIterationsWithoutError(t *testing.T) {
	// Client never returns Finish -- always Think.
	responses := make([]llm.Response, 0)
	for i := 0; i < 20; i++ {
		responses = append(responses, toolCallResp("Think", map[string]any{"thought": "still looking"}))
	}
	client := &scriptedClient{responses: responses}

	b := breaker.New(breaker.Config{}, observability.NewBus(nil, nil, nil))
	op := New(Config{MaxIterations: 3}, &fakeSkill{Base: newTestSkill()}, client, b, nil, observability.NewBus(nil, nil, nil))

	result, err := op.Run(context.Background(), "investigate")
	require.NoError(t, err, "reaching max_iterations is not an error")
	assert.Empty(t, result.Notifications)
	assert.Equal(t, 3, client.calls)
}

func TestOperatorRunRespectsCancellation(t *testing.T) {
	responses := make([]llm.Response, 0)
	for i := 0; i < 20; i++ {
		responses = append(responses, toolCallResp("Wait", map[string]any{"ms": 50}))
	}
	client := &scriptedClient{responses: responses}
	b := breaker.New(breaker.Config{}, observability.NewBus(nil, nil, nil))
	op := New(Config{MaxIterations: 20}, &fakeSkill{Base: newTestSkill()}, client, b, nil, observability.NewBus(nil, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := op.Run(ctx, "investigate")
	assert.Error(t, err)
}

func TestOperatorMessageDoesNotRunToolLoop(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Content: "short answer"}}}
	b := breaker.New(breaker.Config{}, observability.NewBus(nil, nil, nil))
	op := New(Config{}, &fakeSkill{Base: newTestSkill()}, client, b, nil, observability.NewBus(nil, nil, nil))

	reply, err := op.Message(context.Background(), "what's going on?")
	require.NoError(t, err)
	assert.Equal(t, "short answer", reply)
	assert.Equal(t, 1, client.calls)
}
