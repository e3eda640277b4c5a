package agent

import (
	"context"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
)

// PerspectiveAnalyst runs one legacy perspective per call.
type PerspectiveAnalyst struct {
	base
}

// NewPerspectiveAnalyst creates an analyst. Each perspective calls the
// binding named after its kind.
func NewPerspectiveAnalyst(caller llm.Caller, opts ...Option) *PerspectiveAnalyst {
	return &PerspectiveAnalyst{base: newBase(caller, "", opts)}
}

// Analyze returns the verdict of one perspective.
func (a *PerspectiveAnalyst) Analyze(ctx context.Context, kind finding.PerspectiveKind, f *finding.Finding, code finding.CodeContext) (*PerspectiveResult, error) {
	role := PerspectiveRole(kind)
	content, err := a.complete(ctx, role, f, PerspectiveSystemPrompt(kind), BuildFindingPrompt(f, code))
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse[assessmentResponse](role, content)
	if err != nil {
		return nil, err
	}
	return &PerspectiveResult{
		Kind:       kind,
		Verdict:    finding.ParseVerdict(resp.Verdict),
		Confidence: int(resp.Confidence),
		Rationale:  resp.reasoning(),
	}, nil
}
