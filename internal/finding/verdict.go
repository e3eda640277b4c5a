package finding

import (
	"strings"
)

// Verdict is the classification reached by the verification agents.
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictFalsePositive Verdict = "false_positive"
	VerdictNeedsReview   Verdict = "needs_review"
)

// String returns the string representation of Verdict
func (v Verdict) String() string {
	return string(v)
}

// IsValid checks if the verdict is one of the three known values
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictConfirmed, VerdictFalsePositive, VerdictNeedsReview:
		return true
	default:
		return false
	}
}

// Status maps the verdict to the matching terminal status.
func (v Verdict) Status() Status {
	switch v {
	case VerdictConfirmed:
		return StatusConfirmed
	case VerdictFalsePositive:
		return StatusFalsePositive
	default:
		return StatusNeedsReview
	}
}

// ParseVerdict normalises model output into a Verdict. Unknown values map to
// needs_review.
func ParseVerdict(s string) Verdict {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	switch v {
	case "confirmed", "true_positive", "valid", "vulnerable":
		return VerdictConfirmed
	case "false_positive", "fp", "invalid", "not_vulnerable":
		return VerdictFalsePositive
	default:
		return VerdictNeedsReview
	}
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// ArchitectureMode selects the agent topology.
type ArchitectureMode string

const (
	// ArchitectureSimplified runs one Verifier call with conditional Manager
	// escalation.
	ArchitectureSimplified ArchitectureMode = "simplified"

	// ArchitectureLegacy runs three perspective calls merged unconditionally by
	// the Manager.
	ArchitectureLegacy ArchitectureMode = "legacy"
)

// IsValid checks if the mode is known
func (m ArchitectureMode) IsValid() bool {
	return m == ArchitectureSimplified || m == ArchitectureLegacy
}

// PerspectiveKind names one of the three analysis angles.
type PerspectiveKind string

const (
	PerspectivePattern    PerspectiveKind = "pattern_matcher"
	PerspectiveTypeSystem PerspectiveKind = "type_system_expert"
	PerspectiveEconomics  PerspectiveKind = "business_analyst"
)

// AllPerspectives lists the perspectives in the order legacy mode calls them.
var AllPerspectives = []PerspectiveKind{
	PerspectivePattern,
	PerspectiveTypeSystem,
	PerspectiveEconomics,
}

// Perspectives holds the per-angle rationale that was merged into a verdict.
type Perspectives struct {
	Pattern    string `json:"pattern,omitempty"`
	TypeSystem string `json:"type_system,omitempty"`
	Economics  string `json:"economics,omitempty"`
}

// Set stores text under kind.
func (p *Perspectives) Set(kind PerspectiveKind, text string) {
	switch kind {
	case PerspectivePattern:
		p.Pattern = text
	case PerspectiveTypeSystem:
		p.TypeSystem = text
	case PerspectiveEconomics:
		p.Economics = text
	}
}

// Get returns the text stored under kind.
func (p Perspectives) Get(kind PerspectiveKind) string {
	switch kind {
	case PerspectivePattern:
		return p.Pattern
	case PerspectiveTypeSystem:
		return p.TypeSystem
	case PerspectiveEconomics:
		return p.Economics
	default:
		return ""
	}
}

// Assessment is a single verdict with its confidence, as produced by one agent.
type Assessment struct {
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ManagerOverride records a Manager decision that changed the verdict.
type ManagerOverride struct {
	OriginalVerdict    Verdict `json:"original_verdict"`
	OriginalConfidence int     `json:"original_confidence"`
	NewVerdict         Verdict `json:"new_verdict"`
	NewConfidence      int     `json:"new_confidence"`
	Justification      string  `json:"justification"`
}

// VerifiedFinding is the verification outcome for one finding. Both
// architecture modes produce the same shape.
type VerifiedFinding struct {
	FindingID    string           `json:"finding_id"`
	Verdict      Verdict          `json:"verdict"`
	Confidence   int              `json:"confidence"`
	Rationale    string           `json:"rationale"`
	Perspectives Perspectives     `json:"perspectives"`
	Architecture ArchitectureMode `json:"architecture"`

	// Original holds the first-pass assessment whenever the Manager ran.
	Original *Assessment `json:"original,omitempty"`

	// Override is set only when the Manager changed the verdict.
	Override *ManagerOverride `json:"override,omitempty"`

	// Adjudicated is true when a Manager result, not a fallback, produced
	// the verdict.
	Adjudicated bool `json:"adjudicated"`
}

// Assessment returns the current verdict as an Assessment value.
func (v *VerifiedFinding) Assessment() Assessment {
	return Assessment{Verdict: v.Verdict, Confidence: v.Confidence, Rationale: v.Rationale}
}

// Clone returns a deep copy.
func (v *VerifiedFinding) Clone() *VerifiedFinding {
	if v == nil {
		return nil
	}
	out := *v
	if v.Original != nil {
		orig := *v.Original
		out.Original = &orig
	}
	if v.Override != nil {
		ov := *v.Override
		out.Override = &ov
	}
	return &out
}

// Normalize clamps the confidence and replaces an unknown verdict with
// needs_review.
func (v *VerifiedFinding) Normalize() {
	v.Confidence = ClampConfidence(v.Confidence)
	if !v.Verdict.IsValid() {
		v.Verdict = VerdictNeedsReview
	}
}
