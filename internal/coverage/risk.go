package coverage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// RiskLevel is the module-level risk label.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "Minimal"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// ParseRiskLevel accepts any casing of the five labels.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, l := range []RiskLevel{RiskMinimal, RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if strings.EqualFold(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Bucket maps aggregate scores below Below to Level. Below of zero marks the
// open-ended top bucket.
type Bucket struct {
	Level RiskLevel `json:"level" yaml:"level" mapstructure:"level"`
	Below float64   `json:"below,omitempty" yaml:"below,omitempty" mapstructure:"below"`
}

// RiskPolicy is an ordered bucket table.
type RiskPolicy struct {
	Buckets []Bucket `json:"buckets" yaml:"buckets" mapstructure:"buckets"`
}

// DefaultRiskPolicy returns Minimal <5, Low <20, Medium <50, High <100,
// Critical otherwise.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{Buckets: []Bucket{
		{Level: RiskMinimal, Below: 5},
		{Level: RiskLow, Below: 20},
		{Level: RiskMedium, Below: 50},
		{Level: RiskHigh, Below: 100},
		{Level: RiskCritical},
	}}
}

// Validate checks that bounds increase strictly and only the last bucket is
// open-ended.
func (p RiskPolicy) Validate() error {
	if len(p.Buckets) == 0 {
		return types.NewError(types.COVERAGE_INVALID_POLICY, "risk policy has no buckets")
	}
	prev := 0.0
	for i, b := range p.Buckets {
		if _, err := ParseRiskLevel(string(b.Level)); err != nil {
			return types.WrapError(types.COVERAGE_INVALID_POLICY, fmt.Sprintf("bucket %d", i), err)
		}
		last := i == len(p.Buckets)-1
		switch {
		case last && b.Below != 0:
			return types.NewError(types.COVERAGE_INVALID_POLICY, "last bucket must be open-ended")
		case !last && b.Below <= prev:
			return types.NewError(types.COVERAGE_INVALID_POLICY,
				fmt.Sprintf("bucket %d bound %.2f must exceed %.2f", i, b.Below, prev))
		}
		prev = b.Below
	}
	return nil
}

// Level maps an aggregate score to its bucket.
func (p RiskPolicy) Level(total float64) RiskLevel {
	for _, b := range p.Buckets {
		if b.Below == 0 || total < b.Below {
			return b.Level
		}
	}
	return RiskCritical
}

// ModuleRisk is the aggregated risk of one module.
type ModuleRisk struct {
	Module   string                       `json:"module"`
	Total    float64                      `json:"total_score"`
	Level    RiskLevel                    `json:"level"`
	Findings int                          `json:"findings"`
	ByLevel  map[finding.CoverageLevel]int `json:"by_coverage,omitempty"`
}

// Aggregator sums adjusted scores and labels the total.
type Aggregator struct {
	policy RiskPolicy
}

// NewAggregator validates policy and returns an Aggregator.
func NewAggregator(policy RiskPolicy) (*Aggregator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{policy: policy}, nil
}

// Aggregate computes the risk of one module.
func (a *Aggregator) Aggregate(module string, results []finding.SpecCoverageResult) ModuleRisk {
	risk := ModuleRisk{
		Module:  module,
		ByLevel: make(map[finding.CoverageLevel]int),
	}
	for _, r := range results {
		risk.Total += r.AdjustedScore
		risk.Findings++
		risk.ByLevel[r.Level]++
	}
	risk.Level = a.policy.Level(risk.Total)
	return risk
}

// AggregateByModule groups results by the module of their finding and
// returns one ModuleRisk per module, sorted by name.
func (a *Aggregator) AggregateByModule(results []finding.SpecCoverageResult, moduleOf map[string]string) []ModuleRisk {
	grouped := make(map[string][]finding.SpecCoverageResult)
	for _, r := range results {
		m := moduleOf[r.FindingID]
		grouped[m] = append(grouped[m], r)
	}
	modules := make([]string, 0, len(grouped))
	for m := range grouped {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	out := make([]ModuleRisk, 0, len(modules))
	for _, m := range modules {
		out = append(out, a.Aggregate(m, grouped[m]))
	}
	return out
}
