package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
)

// Manager adjudicates low-confidence verdicts and, in legacy mode, merges the
// three perspective results.
type Manager struct {
	base
}

// NewManager creates a Manager calling the manager role binding.
func NewManager(caller llm.Caller, opts ...Option) *Manager {
	return &Manager{base: newBase(caller, RoleManager, opts)}
}

// Adjudicate independently reviews prior. The result keeps prior's
// assessment in Original and records an override when the verdict changes.
func (m *Manager) Adjudicate(ctx context.Context, f *finding.Finding, prior *finding.VerifiedFinding, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	content, err := m.complete(ctx, m.role, f, ManagerSystemPrompt, buildAdjudicationPrompt(f, prior, code))
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse[assessmentResponse](m.role, content)
	if err != nil {
		return nil, err
	}
	return applyDecision(prior.Clone(), prior.Assessment(), resp), nil
}

// Merge combines the legacy perspective results into one verdict. The
// deterministic majority of the views is kept as the original assessment.
func (m *Manager) Merge(ctx context.Context, f *finding.Finding, views []PerspectiveResult, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	majority := MajorityMerge(f.ID, views)

	content, err := m.complete(ctx, m.role, f, MergeSystemPrompt, buildMergePrompt(f, views, code))
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse[assessmentResponse](m.role, content)
	if err != nil {
		return nil, err
	}
	return applyDecision(majority.Clone(), majority.Assessment(), resp), nil
}

// applyDecision writes the Manager's decision onto out.
func applyDecision(out *finding.VerifiedFinding, original finding.Assessment, resp *assessmentResponse) *finding.VerifiedFinding {
	decided := finding.ParseVerdict(resp.Verdict)
	conf := int(resp.Confidence)
	justification := resp.reasoning()

	out.Original = &original
	out.Override = nil
	out.Adjudicated = true
	if decided != original.Verdict {
		out.Override = &finding.ManagerOverride{
			OriginalVerdict:    original.Verdict,
			OriginalConfidence: original.Confidence,
			NewVerdict:         decided,
			NewConfidence:      conf,
			Justification:      justification,
		}
	}
	out.Verdict = decided
	out.Confidence = conf
	if justification != "" {
		out.Rationale = justification
	}
	out.Normalize()
	return out
}

// MajorityMerge combines perspective results without a model call. A verdict
// backed by at least two views wins; otherwise the result is needs_review.
// Confidence is the mean of the winning views.
func MajorityMerge(findingID string, views []PerspectiveResult) *finding.VerifiedFinding {
	out := &finding.VerifiedFinding{
		FindingID:    findingID,
		Verdict:      finding.VerdictNeedsReview,
		Architecture: finding.ArchitectureLegacy,
	}

	votes := make(map[finding.Verdict][]int)
	var rationale []string
	for _, v := range views {
		votes[v.Verdict] = append(votes[v.Verdict], v.Confidence)
		out.Perspectives.Set(v.Kind, v.Rationale)
		if v.Rationale != "" {
			rationale = append(rationale, fmt.Sprintf("[%s] %s", v.Kind, v.Rationale))
		}
	}
	out.Rationale = strings.Join(rationale, "\n")

	winners := votes[finding.VerdictNeedsReview]
	for _, verdict := range []finding.Verdict{finding.VerdictConfirmed, finding.VerdictFalsePositive} {
		if len(votes[verdict]) >= 2 {
			out.Verdict = verdict
			winners = votes[verdict]
			break
		}
	}
	if len(winners) == 0 {
		for _, v := range views {
			winners = append(winners, v.Confidence)
		}
	}
	if len(winners) > 0 {
		sum := 0
		for _, c := range winners {
			sum += c
		}
		out.Confidence = sum / len(winners)
	}
	out.Normalize()
	return out
}
