package agent

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
)

// Verifier assesses a finding with a single model call that blends the
// pattern, type-system and economics perspectives.
type Verifier struct {
	base
}

// NewVerifier creates a Verifier calling the verifier role binding.
func NewVerifier(caller llm.Caller, opts ...Option) *Verifier {
	return &Verifier{base: newBase(caller, RoleVerifier, opts)}
}

// Assess returns the unified verdict for f.
//
// A false_positive whose only basis is a function-name mismatch is turned
// into needs_review with confidence below the escalation threshold, so the
// Manager always looks at it.
func (v *Verifier) Assess(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	content, err := v.complete(ctx, v.role, f, VerifierSystemPrompt, BuildFindingPrompt(f, code))
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse[assessmentResponse](v.role, content)
	if err != nil {
		return nil, err
	}

	out := &finding.VerifiedFinding{
		FindingID:    f.ID,
		Verdict:      finding.ParseVerdict(resp.Verdict),
		Confidence:   int(resp.Confidence),
		Rationale:    resp.reasoning(),
		Architecture: finding.ArchitectureSimplified,
		Perspectives: finding.Perspectives{
			Pattern:    resp.Perspectives.Pattern,
			TypeSystem: resp.Perspectives.TypeSystem,
			Economics:  resp.Perspectives.Economics,
		},
	}

	if out.Verdict == finding.VerdictFalsePositive && resp.RejectionBasis == RejectionNaming {
		out.Verdict = finding.VerdictNeedsReview
		if out.Confidence >= v.threshold {
			out.Confidence = v.threshold - 1
		}
		out.Rationale = fmt.Sprintf("rejection rested on a naming mismatch only; %s", out.Rationale)
		v.logger.InfoContext(ctx, "naming-only rejection sent to review",
			"finding_id", f.ID,
		)
	}

	out.Normalize()
	return out, nil
}
