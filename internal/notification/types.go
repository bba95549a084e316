// Package notification defines the data shared between operators, the
// coordinator, and the alert bus: notifications, their coordinator-side
// entries, and the insights the coordinator derives from them.
package notification

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Severity is the operator-assigned urgency of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the coordinator-side lifecycle of a notification.
// Transitions are monotonic toward Resolved.
type Status string

const (
	StatusUnread       Status = "unread"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// statusRank gives the monotonic ordering used to reject backwards transitions.
var statusRank = map[Status]int{
	StatusUnread:       0,
	StatusAcknowledged: 1,
	StatusResolved:     2,
}

// CanTransition reports whether moving from 'from' to 'to' respects the
// monotonic-toward-resolved invariant.
func CanTransition(from, to Status) bool {
	return statusRank[to] >= statusRank[from]
}

// Snapshot is a single named metric reading, copied verbatim from a skill's
// snapshot() call at the time the notification was produced.
type Snapshot struct {
	Skill     string             `json:"skill"`
	Values    map[string]float64 `json:"values"`
	CapturedAt time.Time         `json:"captured_at"`
}

// Notification is produced by an operator (or a watcher) and pushed onto the
// alert bus. It is immutable once created.
type Notification struct {
	ID           string     `json:"id"`
	Operator     string     `json:"operator"`
	AnomalyType  string     `json:"anomaly_type"`
	Severity     Severity   `json:"severity"`
	Context      string     `json:"context"`
	Observation  string     `json:"observation"`
	Hypothesis   string     `json:"hypothesis,omitempty"`
	Snapshots    []Snapshot `json:"snapshots,omitempty"`
	DetectedAt   time.Time  `json:"detected_at"`
	Node         string     `json:"node"`

	// Findings holds the structured narrative a bounded investigation loop
	// produced for this notification (baseline-LLM watcher path only).
	Findings *WatcherFindings `json:"findings,omitempty"`
}

// WatcherFindings is the structured payload a watcher's bounded
// investigation loop attaches to a report_anomaly notification (spec.md
// §4.5).
type WatcherFindings struct {
	Summary       string   `json:"summary"`
	Evidence      []string `json:"evidence,omitempty"`
	Notifications int      `json:"notifications_raised"`
}

// NewID generates the 16 lowercase hex character notification id the spec
// requires. Insight ids use google/uuid instead since the spec leaves their
// shape open; notifications pin it.
func NewID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on *rand.Reader never returns an error on any
		// platform Go supports; if it ever does there is nothing sane to
		// do but fall back to a fixed-width zero id rather than panic.
		return strings.Repeat("0", 16)
	}
	return hex.EncodeToString(buf[:])
}

// Category derives the cooldown-table category from an anomaly type: the
// prefix before the first underscore (e.g. "memory_high" -> "memory").
// Shared by the statistical detector and the baseline-LLM watcher so both
// anomaly pathways suppress consistently (see SPEC_FULL.md §10).
func Category(anomalyType string) string {
	if idx := strings.IndexByte(anomalyType, '_'); idx >= 0 {
		return anomalyType[:idx]
	}
	return anomalyType
}

// Entry wraps a Notification with coordinator-side mutable status.
type Entry struct {
	Notification Notification `json:"notification"`
	Status       Status       `json:"status"`
}

// NewEntry creates an Entry defaulted to StatusUnread, per the spec's
// ingestion invariant.
func NewEntry(n Notification) Entry {
	return Entry{Notification: n, Status: StatusUnread}
}

// Correlation describes how the notifications cited by an Insight relate.
type Correlation string

const (
	CorrelationCausal      Correlation = "causal"
	CorrelationTemporal    Correlation = "temporal"
	CorrelationSymptomatic Correlation = "symptomatic"
)

// Confidence is the coordinator's self-assessed confidence in an Insight.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Insight is the coordinator's correlated explanation of one or more
// notifications.
type Insight struct {
	ID                    string      `json:"id"`
	NotificationIDs       []string    `json:"notification_ids"`
	CorrelationType       Correlation `json:"correlation_type"`
	Summary               string      `json:"summary"`
	RootCauseHypothesis   string      `json:"root_cause_hypothesis,omitempty"`
	MatchedObservations   []string    `json:"matched_observations"`
	HypothesisGrounded    bool        `json:"hypothesis_grounded"`
	Confidence            Confidence  `json:"confidence"`
	CreatedAt             time.Time   `json:"created_at"`
}
