package tool

import (
	"fmt"

	"github.com/beamlens/beamlens/internal/llm"
)

// Coordinator tool names — the closed set the AgentLoop strategy may choose
// from (spec.md §4.7.1).
const (
	CoGetNotifications          = "GetNotifications"
	CoUpdateNotificationStatuses = "UpdateNotificationStatuses"
	CoProduceInsight            = "ProduceInsight"
	CoThink                     = "Think"
	CoInvokeOperators           = "InvokeOperators"
	CoMessageOperator           = "MessageOperator"
	CoGetOperatorStatuses       = "GetOperatorStatuses"
	CoSchedule                  = "Schedule"
	CoWait                      = "Wait"
	CoDone                      = "Done"
)

// GetNotificationsArgs optionally filters by status.
type GetNotificationsArgs struct {
	Status string `json:"status,omitempty"`
}

// UpdateNotificationStatusesArgs transitions status for the given ids;
// missing ids are silently skipped per spec.md §4.7.1.
type UpdateNotificationStatusesArgs struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
}

// ProduceInsightArgs creates a new Insight; cited notifications are
// automatically marked resolved by the coordinator after this tool runs.
type ProduceInsightArgs struct {
	NotificationIDs     []string `json:"notification_ids"`
	CorrelationType     string   `json:"correlation_type"`
	Summary             string   `json:"summary"`
	RootCauseHypothesis string   `json:"root_cause_hypothesis,omitempty"`
	MatchedObservations []string `json:"matched_observations"`
	HypothesisGrounded  bool     `json:"hypothesis_grounded"`
	Confidence          string   `json:"confidence"`
}

// CoordinatorThinkArgs records reasoning in the coordinator's context.
type CoordinatorThinkArgs struct {
	Thought string `json:"thought"`
}

// InvokeOperatorsArgs spawns each named operator asynchronously.
type InvokeOperatorsArgs struct {
	Skills  []string `json:"skills"`
	Context string   `json:"context,omitempty"`
}

// MessageOperatorArgs synchronously queries an already-running operator.
type MessageOperatorArgs struct {
	Skill   string `json:"skill"`
	Message string `json:"message"`
}

// GetOperatorStatusesArgs takes no arguments.
type GetOperatorStatusesArgs struct{}

// ScheduleArgs finishes the current run and reinvokes the coordinator after
// ms with reason; rejected (as a tool-result error, not a tool failure) if
// operators are still running.
type ScheduleArgs struct {
	MS     int    `json:"ms"`
	Reason string `json:"reason,omitempty"`
}

// CoordinatorWaitArgs pauses the loop for ms, resumed by a single timer
// message.
type CoordinatorWaitArgs struct {
	MS int `json:"ms"`
}

// DoneArgs takes no arguments; rejected if operators are still running.
type DoneArgs struct{}

// CoordinatorDefinitions returns the ToolDefinition set presented to the
// LLM for the AgentLoop coordinator strategy, in the stable order spec.md
// §4.7.1 lists them.
func CoordinatorDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: CoGetNotifications, Description: "Return current notifications, optionally filtered by status.", Parameters: SchemaFor(GetNotificationsArgs{})},
		{Name: CoUpdateNotificationStatuses, Description: "Transition the status of the given notification ids.", Parameters: SchemaFor(UpdateNotificationStatusesArgs{})},
		{Name: CoProduceInsight, Description: "Create a new correlated insight from one or more notifications.", Parameters: SchemaFor(ProduceInsightArgs{})},
		{Name: CoThink, Description: "Record a reasoning note without taking any other action.", Parameters: SchemaFor(CoordinatorThinkArgs{})},
		{Name: CoInvokeOperators, Description: "Spawn the named operators asynchronously and merge their results as they arrive.", Parameters: SchemaFor(InvokeOperatorsArgs{})},
		{Name: CoMessageOperator, Description: "Synchronously query an already-running operator.", Parameters: SchemaFor(MessageOperatorArgs{})},
		{Name: CoGetOperatorStatuses, Description: "Return status, skill, and start time for each running operator.", Parameters: SchemaFor(GetOperatorStatusesArgs{})},
		{Name: CoSchedule, Description: "Finish this run and reinvoke the coordinator after a delay.", Parameters: SchemaFor(ScheduleArgs{})},
		{Name: CoWait, Description: "Pause the loop for a number of milliseconds.", Parameters: SchemaFor(CoordinatorWaitArgs{})},
		{Name: CoDone, Description: "Finish the run. Rejected while operators are still running.", Parameters: SchemaFor(DoneArgs{})},
	}
}

// DecodeCoordinatorCall decodes a raw tool call into its typed argument
// struct, failing closed on an unrecognized tool name.
func DecodeCoordinatorCall(name string, raw map[string]any) (any, error) {
	switch name {
	case CoGetNotifications:
		var a GetNotificationsArgs
		return a, Decode(raw, &a)
	case CoUpdateNotificationStatuses:
		var a UpdateNotificationStatusesArgs
		return a, Decode(raw, &a)
	case CoProduceInsight:
		var a ProduceInsightArgs
		return a, Decode(raw, &a)
	case CoThink:
		var a CoordinatorThinkArgs
		return a, Decode(raw, &a)
	case CoInvokeOperators:
		var a InvokeOperatorsArgs
		return a, Decode(raw, &a)
	case CoMessageOperator:
		var a MessageOperatorArgs
		return a, Decode(raw, &a)
	case CoGetOperatorStatuses:
		var a GetOperatorStatusesArgs
		return a, Decode(raw, &a)
	case CoSchedule:
		var a ScheduleArgs
		return a, Decode(raw, &a)
	case CoWait:
		var a CoordinatorWaitArgs
		return a, Decode(raw, &a)
	case CoDone:
		var a DoneArgs
		return a, Decode(raw, &a)
	default:
		return nil, fmt.Errorf("tool: unknown coordinator tool %q", name)
	}
}
