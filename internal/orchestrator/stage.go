package orchestrator

import (
	"fmt"

	"github.com/zero-day-ai/verdict/internal/types"
)

// Stage is a position in the per-finding state machine.
type Stage string

const (
	StageRaw            Stage = "raw"
	StageExcluded       Stage = "excluded"
	StageCandidate      Stage = "candidate"
	StageVerified       Stage = "verified"
	StageAdjudicated    Stage = "adjudicated"
	StageExploitChecked Stage = "exploit_checked"
	StageTerminal       Stage = "terminal"
)

// transitions lists the legal successors of each stage. Every non-terminal
// stage may jump to terminal so that failures, budget exhaustion and
// cancellation can end a finding wherever it is.
var transitions = map[Stage][]Stage{
	StageRaw:            {StageExcluded, StageCandidate, StageTerminal},
	StageExcluded:       {StageTerminal},
	StageCandidate:      {StageVerified, StageTerminal},
	StageVerified:       {StageAdjudicated, StageExploitChecked, StageTerminal},
	StageAdjudicated:    {StageExploitChecked, StageTerminal},
	StageExploitChecked: {StageTerminal},
	StageTerminal:       nil,
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one finding's stage and the path it took.
type machine struct {
	stage Stage
	trail []Stage
}

func newMachine() *machine {
	return &machine{stage: StageRaw, trail: []Stage{StageRaw}}
}

func (m *machine) advance(to Stage) error {
	if !CanTransition(m.stage, to) {
		return types.NewError(types.PIPELINE_INVALID_TRANSITION,
			fmt.Sprintf("illegal transition %s -> %s", m.stage, to))
	}
	m.stage = to
	m.trail = append(m.trail, to)
	return nil
}

func (m *machine) terminal() bool {
	return m.stage == StageTerminal
}
