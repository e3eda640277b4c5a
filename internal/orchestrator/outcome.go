package orchestrator

import (
	"fmt"
	"time"

	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// Outcome is the pipeline result for one finding.
type Outcome struct {
	Finding       finding.Finding             `json:"finding"`
	Status        finding.Status              `json:"status"`
	Exclusion     *exclusion.Decision         `json:"exclusion,omitempty"`
	Verified      *finding.VerifiedFinding    `json:"verified,omitempty"`
	Escalated     bool                        `json:"escalated,omitempty"`
	Exploit       *finding.ExploitChainResult `json:"exploit,omitempty"`
	ExploitStatus finding.ExploitStatus       `json:"exploit_status"`
	Coverage      *finding.SpecCoverageResult `json:"coverage,omitempty"`
	Trail         []Stage                     `json:"trail"`
	Errors        []string                    `json:"errors,omitempty"`
	Duration      time.Duration               `json:"duration"`

	machine *machine
}

func newOutcome(f finding.Finding) *Outcome {
	f.Status = finding.StatusRaw
	m := newMachine()
	return &Outcome{
		Finding:       f,
		Status:        finding.StatusRaw,
		ExploitStatus: finding.ExploitNotApplicable,
		Trail:         m.trail,
		machine:       m,
	}
}

func (o *Outcome) advance(to Stage) error {
	if err := o.machine.advance(to); err != nil {
		return err
	}
	o.Trail = o.machine.trail
	return nil
}

func (o *Outcome) addError(stage string, err error) {
	o.Errors = append(o.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// Stage returns the current stage. Outcomes decoded from a report have no
// live state machine and report the last stage of their trail.
func (o *Outcome) Stage() Stage {
	if o.machine != nil {
		return o.machine.stage
	}
	if len(o.Trail) == 0 {
		return StageRaw
	}
	return o.Trail[len(o.Trail)-1]
}

// Tally summarises a run.
type Tally struct {
	Statuses      map[finding.Status]int `json:"statuses"`
	ModelCalls    map[string]int         `json:"model_calls"`
	Escalations   int                    `json:"escalations"`
	Overrides     int                    `json:"overrides"`
	ExploitChecks int                    `json:"exploit_checks"`
	Exclusions    map[string]int         `json:"exclusions"`
}

// TotalModelCalls sums the calls of every role.
func (t Tally) TotalModelCalls() int {
	total := 0
	for _, n := range t.ModelCalls {
		total += n
	}
	return total
}

// Report is the result of one pipeline run. Outcomes are in input order.
type Report struct {
	RunID        types.ID                 `json:"run_id"`
	Architecture finding.ArchitectureMode `json:"architecture"`
	StartedAt    time.Time                `json:"started_at"`
	Duration     time.Duration            `json:"duration"`
	Cancelled    bool                     `json:"cancelled,omitempty"`
	Outcomes     []*Outcome               `json:"outcomes"`
	Tally        Tally                    `json:"tally"`
	Risk         []coverage.ModuleRisk    `json:"risk,omitempty"`
}

// buildTally derives everything but the model-call counts from outcomes.
func buildTally(outcomes []*Outcome, modelCalls map[string]int) Tally {
	t := Tally{
		Statuses:   make(map[finding.Status]int, len(finding.TerminalStatuses)),
		ModelCalls: modelCalls,
		Exclusions: make(map[string]int),
	}
	for _, s := range finding.TerminalStatuses {
		t.Statuses[s] = 0
	}
	for _, o := range outcomes {
		t.Statuses[o.Status]++
		if o.Exclusion != nil {
			t.Exclusions[o.Exclusion.RuleID]++
		}
		if o.Escalated {
			t.Escalations++
		}
		if o.Verified != nil && o.Verified.Override != nil {
			t.Overrides++
		}
		if o.Exploit != nil {
			t.ExploitChecks++
		}
	}
	return t
}
