package coverage

import (
	"context"
	"fmt"
	"strings"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

// RoleCoverageJudge is the binding name used by LLMJudge.
const RoleCoverageJudge = "coverage_judge"

// JudgeSystemPrompt asks whether the verified clauses rule out the defect.
const JudgeSystemPrompt = `You are a formal-verification reviewer. A confirmed vulnerability is
compared against clauses of a machine-checked specification of its module.
Decide how completely the clauses constrain the defect.

- "fully_covered": a clause explicitly forbids the described behaviour.
- "partially_covered": clauses address some aspects but leave the defect
  reachable.
- "not_covered": no clause constrains the defect.

Respond with a single JSON object and nothing else:
{
  "level": "fully_covered" | "partially_covered" | "not_covered",
  "rationale": "<one or two sentences>"
}`

// LLMJudge classifies coverage with one model call.
type LLMJudge struct {
	caller llm.Caller
	role   string
}

// NewLLMJudge creates a judge calling role, or RoleCoverageJudge when role
// is empty.
func NewLLMJudge(caller llm.Caller, role string) *LLMJudge {
	if role == "" {
		role = RoleCoverageJudge
	}
	return &LLMJudge{caller: caller, role: role}
}

type judgeResponse struct {
	Level     string `json:"level"`
	Rationale string `json:"rationale"`
}

// JudgeCoverage implements Judge.
func (j *LLMJudge) JudgeCoverage(ctx context.Context, f *finding.Finding, clauses []Clause) (finding.CoverageLevel, error) {
	ctx = contextkeys.WithFindingID(ctx, f.ID)
	ctx = contextkeys.WithRole(ctx, j.role)

	resp, err := j.caller.Complete(ctx, j.role, []llm.Message{
		llm.NewSystemMessage(JudgeSystemPrompt),
		llm.NewUserMessage(buildJudgePrompt(f, clauses)),
	}, llm.WithMetadataOption("finding_id", f.ID))
	if err != nil {
		return "", err
	}

	out, err := llm.ExtractJSONAs[judgeResponse](resp.Message.Content)
	if err != nil {
		return "", types.WrapError(types.AGENT_INVALID_RESPONSE, "coverage judge response is not valid JSON", err)
	}
	level := finding.CoverageLevel(strings.ToLower(strings.TrimSpace(out.Level)))
	if !level.IsValid() {
		return "", types.NewError(types.AGENT_INVALID_RESPONSE,
			fmt.Sprintf("coverage judge returned unknown level %q", out.Level))
	}
	return level, nil
}

func buildJudgePrompt(f *finding.Finding, clauses []Clause) string {
	var sb strings.Builder
	sb.WriteString("# Finding\n\n")
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", f.Title))
	sb.WriteString(fmt.Sprintf("**Severity**: %s\n", f.Severity))
	if loc := f.Location.String(); loc != "" {
		sb.WriteString(fmt.Sprintf("**Location**: %s\n", loc))
	}
	sb.WriteString("\n")
	sb.WriteString(f.Description)
	sb.WriteString("\n\n# Specification Clauses\n\n")
	for _, c := range clauses {
		sb.WriteString(fmt.Sprintf("- %s\n", c))
	}
	return sb.String()
}
