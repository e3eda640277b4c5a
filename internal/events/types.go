// Package events distributes audit progress events to subscribers such as
// the CLI progress printer.
package events

import (
	"time"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// EventType identifies what happened.
type EventType string

// Run lifecycle
const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunCancelled EventType = "run.cancelled"
)

// Finding progress
const (
	EventFindingStage    EventType = "finding.stage"
	EventFindingTerminal EventType = "finding.terminal"
	EventFindingError    EventType = "finding.error"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one progress notification.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     types.ID  `json:"run_id,omitempty"`
	FindingID string    `json:"finding_id,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// Payload holds one of the *Payload structs below.
	Payload any `json:"payload,omitempty"`
}

// Filter selects events for a subscription. Empty fields match everything.
type Filter struct {
	Types     []EventType `json:"types,omitempty"`
	RunID     types.ID    `json:"run_id,omitempty"`
	FindingID string      `json:"finding_id,omitempty"`
}

// Matches reports whether event satisfies every non-empty field of f.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.RunID != "" && event.RunID != f.RunID {
		return false
	}
	if f.FindingID != "" && event.FindingID != f.FindingID {
		return false
	}
	return true
}

// RunStartedPayload is carried by run.started.
type RunStartedPayload struct {
	Findings     int                      `json:"findings"`
	Architecture finding.ArchitectureMode `json:"architecture"`
	Workers      int                      `json:"workers"`
}

// RunCompletedPayload is carried by run.completed and run.cancelled.
type RunCompletedPayload struct {
	Counts     map[finding.Status]int `json:"counts"`
	ModelCalls int                    `json:"model_calls"`
	Duration   time.Duration          `json:"duration"`
}

// StagePayload is carried by finding.stage.
type StagePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TerminalPayload is carried by finding.terminal.
type TerminalPayload struct {
	Status     finding.Status        `json:"status"`
	Confidence int                   `json:"confidence,omitempty"`
	RuleID     string                `json:"rule_id,omitempty"`
	Exploit    finding.ExploitStatus `json:"exploit,omitempty"`
}

// ErrorPayload is carried by finding.error.
type ErrorPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}
