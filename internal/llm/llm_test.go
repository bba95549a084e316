package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	name string
}

func (m *mockClient) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	return Response{Content: "ok"}, nil
}
func (m *mockClient) ModelName() string { return m.name }
func (m *mockClient) Close() error      { return nil }

func TestRegistryBuildFromConfigPicksPrimary(t *testing.T) {
	cfg := RegistryConfig{
		Primary: "fast",
		Clients: []ProviderConfig{
			{Name: "fast", Provider: "mock"},
			{Name: "slow", Provider: "mock"},
		},
	}

	reg, err := BuildFromConfig(cfg, func(pc ProviderConfig) (Client, error) {
		return &mockClient{name: pc.Name}, nil
	})
	require.NoError(t, err)

	primary, err := reg.Primary()
	require.NoError(t, err)
	assert.Equal(t, "fast", primary.ModelName())
	assert.Equal(t, 2, reg.Count())
}

func TestRegistryBuildFromConfigDefaultsPrimaryToFirst(t *testing.T) {
	cfg := RegistryConfig{
		Clients: []ProviderConfig{{Name: "only", Provider: "mock"}},
	}
	reg, err := BuildFromConfig(cfg, func(pc ProviderConfig) (Client, error) {
		return &mockClient{name: pc.Name}, nil
	})
	require.NoError(t, err)

	primary, err := reg.Primary()
	require.NoError(t, err)
	assert.Equal(t, "only", primary.ModelName())
}

func TestRegistryBuildFromConfigRejectsUnknownPrimary(t *testing.T) {
	cfg := RegistryConfig{
		Primary: "missing",
		Clients: []ProviderConfig{{Name: "only", Provider: "mock"}},
	}
	_, err := BuildFromConfig(cfg, func(pc ProviderConfig) (Client, error) {
		return &mockClient{name: pc.Name}, nil
	})
	assert.Error(t, err)
}

func TestCompactorLeavesShortHistoryUntouched(t *testing.T) {
	c, err := NewCompactor("gpt-4", 8000, 4)
	require.NoError(t, err)

	messages := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	out := c.Compact(messages, func(dropped []Message) string { return "summary" })
	assert.Equal(t, messages, out)
}

func TestCompactorCollapsesOldMessagesAboveBudget(t *testing.T) {
	c, err := NewCompactor("gpt-4", 50, 2)
	require.NoError(t, err)

	var messages []Message
	for i := 0; i < 50; i++ {
		messages = append(messages, Message{Role: "user", Content: strings.Repeat("word ", 20)})
	}

	out := c.Compact(messages, func(dropped []Message) string {
		return "compacted summary of earlier turns"
	})

	require.Len(t, out, 3) // 1 summary + keepRecent(2)
	assert.Equal(t, "compacted summary of earlier turns", out[0].Content)
	assert.Equal(t, messages[len(messages)-2], out[1])
	assert.Equal(t, messages[len(messages)-1], out[2])
}
