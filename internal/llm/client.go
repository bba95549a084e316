// Package llm defines the provider-agnostic LLM transport contract used by
// operators, watchers, and the coordinator: a universal tool-calling
// message format (grounded on hector's pkg/llms/types.go), a registry of
// named clients, a genai-backed concrete provider, and token-aware context
// compaction. The LLM transport itself is out of spec scope (spec.md §1);
// this package only pins down the interface every caller programs against.
package llm

import "context"

// Message is one turn in a tool-calling conversation — the universal
// format shared across every concrete provider.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition describes one callable tool, presented to the LLM as a
// JSON Schema function declaration.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a single tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	RawArgs   string                 `json:"raw_args"`
}

// Response is what a single Generate call returns: either free text, or one
// or more requested tool calls (never both populated meaningfully at once
// in practice, but callers should handle either).
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Client is the uniform interface every concrete LLM transport satisfies.
// All operator/coordinator/watcher call sites program against this, never
// against a concrete provider type.
type Client interface {
	// Generate sends messages plus the available tools and returns the
	// model's next turn.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error)

	// ModelName returns the configured model identifier, for telemetry.
	ModelName() string

	// Close releases provider resources.
	Close() error
}
