package tool

import (
	"fmt"

	"github.com/beamlens/beamlens/internal/llm"
)

// Operator tool names — the closed set the per-skill agent loop may choose
// from (spec.md §4.6).
const (
	OpTakeSnapshot     = "TakeSnapshot"
	OpRunCallback      = "RunCallback"
	OpSendNotification = "SendNotification"
	OpThink            = "Think"
	OpWait             = "Wait"
	OpFinish           = "Finish"
)

// TakeSnapshotArgs takes no arguments; the tool always snapshots the
// operator's bound skill.
type TakeSnapshotArgs struct{}

// RunCallbackArgs invokes one named read-only callback on the operator's
// skill.
type RunCallbackArgs struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// SendNotificationArgs appends a notification to the operator's result and,
// when running under run_async, delivers it immediately.
type SendNotificationArgs struct {
	AnomalyType string `json:"anomaly_type"`
	Severity    string `json:"severity"` // info | warning | critical
	Context     string `json:"context"`
	Observation string `json:"observation"`
	Hypothesis  string `json:"hypothesis,omitempty"`
}

// ThinkArgs records a chain-of-thought note; it performs no action beyond
// being appended to context.
type ThinkArgs struct {
	Thought string `json:"thought"`
}

// WaitArgs pauses the loop for the given duration before re-entering.
type WaitArgs struct {
	MS int `json:"ms"`
}

// FinishArgs takes no arguments; it ends the current run.
type FinishArgs struct{}

// OperatorDefinitions returns the ToolDefinition set presented to the LLM
// for the operator loop, in the stable order spec.md §4.6 lists them.
func OperatorDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: OpTakeSnapshot, Description: "Take a fresh metric snapshot of the bound skill.", Parameters: SchemaFor(TakeSnapshotArgs{})},
		{Name: OpRunCallback, Description: "Invoke one named read-only callback on the bound skill.", Parameters: SchemaFor(RunCallbackArgs{})},
		{Name: OpSendNotification, Description: "Report a detected anomaly as a structured notification.", Parameters: SchemaFor(SendNotificationArgs{})},
		{Name: OpThink, Description: "Record a reasoning note without taking any other action.", Parameters: SchemaFor(ThinkArgs{})},
		{Name: OpWait, Description: "Pause for a number of milliseconds before continuing the investigation.", Parameters: SchemaFor(WaitArgs{})},
		{Name: OpFinish, Description: "End the investigation and return accumulated notifications.", Parameters: SchemaFor(FinishArgs{})},
	}
}

// DecodeOperatorCall decodes a raw tool call into its typed argument
// struct, failing closed on an unrecognized tool name.
func DecodeOperatorCall(name string, raw map[string]any) (any, error) {
	switch name {
	case OpTakeSnapshot:
		var a TakeSnapshotArgs
		return a, Decode(raw, &a)
	case OpRunCallback:
		var a RunCallbackArgs
		return a, Decode(raw, &a)
	case OpSendNotification:
		var a SendNotificationArgs
		return a, Decode(raw, &a)
	case OpThink:
		var a ThinkArgs
		return a, Decode(raw, &a)
	case OpWait:
		var a WaitArgs
		return a, Decode(raw, &a)
	case OpFinish:
		var a FinishArgs
		return a, Decode(raw, &a)
	default:
		return nil, fmt.Errorf("tool: unknown operator tool %q", name)
	}
}
