package agent

import (
	"fmt"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
)

// maxCodeChars bounds the code context placed in a prompt.
const maxCodeChars = 24000

// VerifierSystemPrompt asks for one verdict reasoned from three perspectives.
const VerifierSystemPrompt = `You are a senior smart-contract security auditor verifying a candidate
vulnerability reported by an automated scanner. Decide whether it is real.

## Reason from three perspectives at once
1. **Pattern matching**: does the code match a known vulnerability pattern or
   violate an established best practice?
2. **Type system and language guarantees**: does the language, the bytecode
   verifier or the framework already prevent the issue (abort on overflow,
   linear resources, capability objects, package visibility)?
3. **Attacker economics**: can a rational attacker profit, and what would the
   attack cost?

## Judge behaviour, not names
Scanner descriptions often name functions that differ from the code. A naming
mismatch alone is never grounds for rejection. If the described behaviour (for
example "no refund on repay") exists under a different function name, judge
the behaviour you find. Only reject when the behaviour itself is absent or
prevented.

## Output
Respond with a single JSON object and nothing else:
{
  "verdict": "confirmed" | "false_positive" | "needs_review",
  "confidence": <integer 0-100>,
  "rationale": "<merged reasoning>",
  "perspectives": {
    "pattern": "<pattern-matching view>",
    "type_system": "<language-guarantee view>",
    "economics": "<attacker cost-benefit view>"
  },
  "rejection_basis": "behavior" | "language_guarantee" | "naming" | "insufficient_context" | ""
}
Set rejection_basis only for false_positive verdicts.`

// ManagerSystemPrompt asks for an independent second opinion.
const ManagerSystemPrompt = `You are the lead auditor adjudicating a verdict another auditor was not
confident about. Assess the finding independently against the code. You may
confirm or overturn the previous verdict. Judge behaviour rather than function
names.

Respond with a single JSON object and nothing else:
{
  "verdict": "confirmed" | "false_positive" | "needs_review",
  "confidence": <integer 0-100>,
  "justification": "<why you agree with or overturn the previous verdict>"
}`

// MergeSystemPrompt asks the Manager to merge three specialist opinions.
const MergeSystemPrompt = `You are the lead auditor. Three specialists (a pattern matcher, a
type-system expert and a business analyst) assessed the same finding. Weigh
their views against the code and produce the final verdict. Judge behaviour
rather than function names.

Respond with a single JSON object and nothing else:
{
  "verdict": "confirmed" | "false_positive" | "needs_review",
  "confidence": <integer 0-100>,
  "justification": "<merged reasoning>"
}`

// WhiteHatSystemPrompt asks for an end-to-end exploit chain.
const WhiteHatSystemPrompt = `You are a white-hat security researcher. The finding below has been
confirmed. Construct a concrete exploit chain from a publicly reachable entry
point to the stated impact, or say that you cannot.

Respond with a single JSON object and nothing else:
{
  "entry_point": "<module::function an attacker calls first>",
  "steps": ["<ordered attack steps, each naming the function it calls>"],
  "impact": "<what the attacker gains or breaks>",
  "proof": "<narrative or transaction sketch>",
  "verified": true | false
}
Set verified to true only if every step follows from the code.`

var perspectivePrompts = map[finding.PerspectiveKind]string{
	finding.PerspectivePattern: `You are a pattern-matching specialist. Decide whether the code matches a
known smart-contract vulnerability pattern or violates an established best
practice. Ignore function-name mismatches; judge behaviour.`,
	finding.PerspectiveTypeSystem: `You are a Move type-system expert. Decide whether the language, the
bytecode verifier or the framework already prevents the reported issue
(abort on overflow, linear resources, abilities, capabilities, visibility).`,
	finding.PerspectiveEconomics: `You are a business analyst assessing attacker economics. Decide whether a
rational attacker could profit from the reported issue and at what cost.`,
}

const perspectiveOutput = `

Respond with a single JSON object and nothing else:
{
  "verdict": "confirmed" | "false_positive" | "needs_review",
  "confidence": <integer 0-100>,
  "rationale": "<your reasoning>"
}`

// PerspectiveSystemPrompt returns the system prompt of a legacy analyst.
func PerspectiveSystemPrompt(kind finding.PerspectiveKind) string {
	return perspectivePrompts[kind] + perspectiveOutput
}

// BuildFindingPrompt renders the finding and its code as the user message.
func BuildFindingPrompt(f *finding.Finding, code finding.CodeContext) string {
	var sb strings.Builder

	sb.WriteString("# Finding\n\n")
	sb.WriteString(fmt.Sprintf("**ID**: %s\n", f.ID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", f.Title))
	sb.WriteString(fmt.Sprintf("**Severity**: %s\n", f.Severity))
	if len(f.Categories) > 0 {
		sb.WriteString(fmt.Sprintf("**Categories**: %s\n", strings.Join(f.Categories, ", ")))
	}
	if loc := f.Location.String(); loc != "" {
		sb.WriteString(fmt.Sprintf("**Location**: %s\n", loc))
	}
	sb.WriteString("\n## Description\n")
	sb.WriteString(f.Description)
	sb.WriteString("\n")

	if len(f.DetectionCues) > 0 {
		sb.WriteString("\n## Detection Cues\n")
		for _, cue := range f.DetectionCues {
			sb.WriteString(fmt.Sprintf("- %s\n", cue))
		}
	}

	src := code.Source(f)
	sb.WriteString("\n## Code\n")
	if strings.TrimSpace(src) == "" {
		sb.WriteString("No code context was provided.\n")
		return sb.String()
	}
	if len(src) > maxCodeChars {
		src = src[:maxCodeChars] + "\n// ... truncated"
	}
	lang := code.Language
	if lang == "" {
		lang = "move"
	}
	if code.File != "" {
		sb.WriteString(fmt.Sprintf("File: %s\n", code.File))
	}
	sb.WriteString(fmt.Sprintf("```%s\n%s\n```\n", lang, src))
	return sb.String()
}

// buildAdjudicationPrompt adds the prior verdict to the finding prompt.
func buildAdjudicationPrompt(f *finding.Finding, prior *finding.VerifiedFinding, code finding.CodeContext) string {
	var sb strings.Builder
	sb.WriteString(BuildFindingPrompt(f, code))
	sb.WriteString("\n# Previous Verdict\n\n")
	sb.WriteString(fmt.Sprintf("**Verdict**: %s\n", prior.Verdict))
	sb.WriteString(fmt.Sprintf("**Confidence**: %d\n", prior.Confidence))
	if prior.Rationale != "" {
		sb.WriteString(fmt.Sprintf("**Rationale**: %s\n", prior.Rationale))
	}
	writePerspectives(&sb, prior.Perspectives)
	return sb.String()
}

// buildMergePrompt adds the specialist views to the finding prompt.
func buildMergePrompt(f *finding.Finding, views []PerspectiveResult, code finding.CodeContext) string {
	var sb strings.Builder
	sb.WriteString(BuildFindingPrompt(f, code))
	sb.WriteString("\n# Specialist Assessments\n")
	for _, v := range views {
		sb.WriteString(fmt.Sprintf("\n## %s\n", v.Kind))
		sb.WriteString(fmt.Sprintf("**Verdict**: %s (confidence %d)\n", v.Verdict, v.Confidence))
		sb.WriteString(v.Rationale)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writePerspectives(sb *strings.Builder, p finding.Perspectives) {
	for _, kind := range finding.AllPerspectives {
		if text := p.Get(kind); text != "" {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", kind, text))
		}
	}
}
