package agent

import (
	"context"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
)

// WhiteHat attempts to build an exploit chain for a confirmed finding.
type WhiteHat struct {
	base
}

// NewWhiteHat creates a WhiteHat calling the whitehat role binding.
func NewWhiteHat(caller llm.Caller, opts ...Option) *WhiteHat {
	return &WhiteHat{base: newBase(caller, RoleWhiteHat, opts)}
}

// ConfirmExploit returns the chain the model produced. Verified is set only
// when the model claims success and the chain is internally consistent.
func (w *WhiteHat) ConfirmExploit(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.ExploitChainResult, error) {
	content, err := w.complete(ctx, w.role, f, WhiteHatSystemPrompt, BuildFindingPrompt(f, code))
	if err != nil {
		return nil, err
	}
	resp, err := parseResponse[exploitResponse](w.role, content)
	if err != nil {
		return nil, err
	}

	result := &finding.ExploitChainResult{
		FindingID:  f.ID,
		EntryPoint: resp.EntryPoint,
		Steps:      resp.Steps,
		Impact:     resp.Impact,
		Proof:      resp.Proof,
	}
	if resp.Verified {
		ok, reason := result.CheckConsistency()
		result.Verified = ok
		result.Inconsistency = reason
		if !ok {
			w.logger.InfoContext(ctx, "exploit chain rejected as inconsistent",
				"finding_id", f.ID,
				"reason", reason,
			)
		}
	}
	return result, nil
}
