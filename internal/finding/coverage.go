package finding

// CoverageLevel states how completely a verified specification addresses a
// finding's defect.
type CoverageLevel string

const (
	CoverageFull    CoverageLevel = "fully_covered"
	CoveragePartial CoverageLevel = "partially_covered"
	CoverageNone    CoverageLevel = "not_covered"
)

// Multiplier is the factor applied to the base severity score.
func (c CoverageLevel) Multiplier() float64 {
	switch c {
	case CoverageFull:
		return 0.1
	case CoveragePartial:
		return 0.5
	default:
		return 1.0
	}
}

// IsValid checks if the level is known
func (c CoverageLevel) IsValid() bool {
	switch c {
	case CoverageFull, CoveragePartial, CoverageNone:
		return true
	default:
		return false
	}
}

// SpecCoverageResult is the coverage classification of one confirmed finding.
type SpecCoverageResult struct {
	FindingID      string        `json:"finding_id"`
	Level          CoverageLevel `json:"level"`
	BaseScore      float64       `json:"base_score"`
	Multiplier     float64       `json:"multiplier"`
	AdjustedScore  float64       `json:"adjusted_score"`
	MatchedClauses []string      `json:"matched_clauses,omitempty"`
	Method         string        `json:"method,omitempty"`
}

// NewSpecCoverageResult scores severity at the given coverage level.
func NewSpecCoverageResult(findingID string, severity Severity, level CoverageLevel) SpecCoverageResult {
	base := severity.BaseScore()
	mult := level.Multiplier()
	return SpecCoverageResult{
		FindingID:     findingID,
		Level:         level,
		BaseScore:     base,
		Multiplier:    mult,
		AdjustedScore: base * mult,
	}
}
