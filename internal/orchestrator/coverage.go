package orchestrator

import (
	"context"

	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/finding"
)

// ApplyCoverage scores the confirmed outcomes of report against specs with
// the pipeline's analyzer and aggregator.
func (p *Pipeline) ApplyCoverage(ctx context.Context, report *Report, specs coverage.Specs) {
	ScoreCoverage(ctx, report, specs, p.analyzer, p.aggregator)
}

// ScoreCoverage classifies every confirmed outcome, sets its Coverage and
// replaces report.Risk with the per-module aggregate. Other outcomes are left
// untouched.
func ScoreCoverage(ctx context.Context, report *Report, specs coverage.Specs, analyzer *coverage.Analyzer, aggregator *coverage.Aggregator) {
	var results []finding.SpecCoverageResult
	moduleOf := make(map[string]string)
	for _, o := range report.Outcomes {
		if o.Status != finding.StatusConfirmed {
			continue
		}
		spec, _ := specs.For(o.Finding.Location.Module)
		res := analyzer.Classify(ctx, &o.Finding, spec)
		o.Coverage = &res
		results = append(results, res)
		moduleOf[o.Finding.ID] = o.Finding.Location.Module
	}
	report.Risk = aggregator.AggregateByModule(results, moduleOf)
}
