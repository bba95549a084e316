package tool

import (
	"fmt"

	"github.com/beamlens/beamlens/internal/llm"
)

// Watcher tool names — the closed set the AnalyzeBaseline classification
// chooses exactly one from (spec.md §4.5).
const (
	WContinueObserving = "ContinueObserving"
	WReportAnomaly     = "ReportAnomaly"
	WReportHealthy     = "ReportHealthy"
)

// ContinueObservingArgs records notes for the next tick without taking
// action.
type ContinueObservingArgs struct {
	Notes      string `json:"notes,omitempty"`
	Confidence string `json:"confidence"` // low | medium
}

// ReportAnomalyArgs flags a detected anomaly, subject to category cooldown.
type ReportAnomalyArgs struct {
	AnomalyType     string   `json:"anomaly_type"`
	Severity        string   `json:"severity"`
	Summary         string   `json:"summary"`
	Evidence        []string `json:"evidence,omitempty"`
	Confidence      string   `json:"confidence"` // medium | high
	CooldownMinutes int      `json:"cooldown_minutes,omitempty"`
}

// ReportHealthyArgs clears accumulated context after a healthy read.
type ReportHealthyArgs struct {
	Summary    string `json:"summary"`
	Confidence string `json:"confidence"` // medium | high
}

// WatcherDefinitions returns the ToolDefinition set presented to the LLM
// for AnalyzeBaseline classification, in the order spec.md §4.5 lists them.
func WatcherDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: WContinueObserving, Description: "No action needed yet; carry notes forward to the next tick.", Parameters: SchemaFor(ContinueObservingArgs{})},
		{Name: WReportAnomaly, Description: "Report a detected anomaly, subject to category cooldown suppression.", Parameters: SchemaFor(ReportAnomalyArgs{})},
		{Name: WReportHealthy, Description: "Report the window as healthy and trim accumulated context.", Parameters: SchemaFor(ReportHealthyArgs{})},
	}
}

// DecodeWatcherCall decodes a raw tool call into its typed argument struct,
// failing closed on an unrecognized tool name.
func DecodeWatcherCall(name string, raw map[string]any) (any, error) {
	switch name {
	case WContinueObserving:
		var a ContinueObservingArgs
		return a, Decode(raw, &a)
	case WReportAnomaly:
		var a ReportAnomalyArgs
		return a, Decode(raw, &a)
	case WReportHealthy:
		var a ReportHealthyArgs
		return a, Decode(raw, &a)
	default:
		return nil, fmt.Errorf("tool: unknown watcher tool %q", name)
	}
}
