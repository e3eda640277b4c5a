package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// verifyLegacy runs the three perspective analysts and has the Manager merge
// their views unconditionally. A failed perspective is dropped; if the merge
// fails the deterministic majority is used with the verdict set to
// needs_review.
func (p *Pipeline) verifyLegacy(ctx context.Context, rs *runState, f *finding.Finding, code finding.CodeContext, out *Outcome) (*finding.VerifiedFinding, error) {
	views := make([]agent.PerspectiveResult, 0, len(finding.AllPerspectives))
	var errs []error
	for _, kind := range finding.AllPerspectives {
		var view *agent.PerspectiveResult
		err := p.call(ctx, rs, agent.PerspectiveRole(kind), func(ctx context.Context) error {
			var err error
			view, err = p.analyst.Analyze(ctx, kind, f, code)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			p.recordError(ctx, out, string(kind), err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		views = append(views, *view)
	}
	if len(views) == 0 {
		return nil, types.WrapError(types.AGENT_CALL_FAILED, "every perspective analysis failed", errors.Join(errs...))
	}

	var merged *finding.VerifiedFinding
	err := p.call(ctx, rs, agent.RoleManager, func(ctx context.Context) error {
		var err error
		merged, err = p.manager.Merge(ctx, f, views, code)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		p.recordError(ctx, out, "merge", err)
		merged = agent.MajorityMerge(f.ID, views)
		original := merged.Assessment()
		merged.Original = &original
		merged.Verdict = finding.VerdictNeedsReview
	}
	return merged, nil
}
