package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/bus"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/observability"
)

func jsonResp(content string) llm.Response {
	return llm.Response{Content: content}
}

func TestPipelineQuestionIntentSkipsGatheringAndProducesNoInsight(t *testing.T) {
	telemetry := observability.NewBus(nil, nil, nil)
	b := breaker.New(breaker.Config{}, telemetry)
	alertBus := bus.New(telemetry)

	client := &scriptedClient{responses: []llm.Response{
		jsonResp(`{"intent": "question", "skills": [], "operator_context": ""}`),
		jsonResp(`{"answer": "nothing is wrong"}`),
	}}
	c := New(client, b, alertBus, instantOperatorFactory(telemetry), telemetry)

	result, err := c.RunPipeline(context.Background(), "is everything ok?", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Insights)
	assert.Equal(t, "nothing is wrong", result.Warning)
}

func TestPipelineInvestigationGathersAndProducesSymptomaticInsight(t *testing.T) {
	telemetry := observability.NewBus(nil, nil, nil)
	b := breaker.New(breaker.Config{}, telemetry)
	alertBus := bus.New(telemetry)

	client := &scriptedClient{responses: []llm.Response{
		jsonResp(`{"intent": "investigation", "skills": ["vm"], "operator_context": "go check"}`),
		jsonResp(`{"answer": "cpu is high on vm"}`),
	}}
	c := New(client, b, alertBus, instantOperatorFactory(telemetry), telemetry)

	result, err := c.RunPipeline(context.Background(), "what's wrong?", RunOptions{Deadline: 3 * time.Second})
	require.NoError(t, err)
	require.Len(t, result.Insights, 1)
	assert.False(t, result.Insights[0].HypothesisGrounded, "pipeline-synthesized insights are never hypothesis_grounded")
	assert.Equal(t, "cpu is high on vm", result.Insights[0].Summary)
	assert.Equal(t, "cpu is high on vm", result.Warning)
}

func TestPipelineMalformedClassificationErrors(t *testing.T) {
	telemetry := observability.NewBus(nil, nil, nil)
	b := breaker.New(breaker.Config{}, telemetry)
	alertBus := bus.New(telemetry)

	client := &scriptedClient{responses: []llm.Response{
		jsonResp(`not json`),
	}}
	c := New(client, b, alertBus, instantOperatorFactory(telemetry), telemetry)

	_, err := c.RunPipeline(context.Background(), "huh?", RunOptions{})
	assert.Error(t, err)
}
