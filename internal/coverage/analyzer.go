package coverage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/tokenize"
)

// DefaultFullCoverageRatio is the share of a finding's aspects that must be
// addressed by specification clauses for the finding to count as fully
// covered.
const DefaultFullCoverageRatio = 0.8

// Classification methods recorded on SpecCoverageResult.Method.
const (
	MethodHeuristic = "heuristic"
	MethodJudge     = "judge"
	MethodNoSpec    = "no_spec"
)

// Judge refines a partially covered classification, usually with a model
// call.
type Judge interface {
	JudgeCoverage(ctx context.Context, f *finding.Finding, clauses []Clause) (finding.CoverageLevel, error)
}

// Analyzer classifies confirmed findings by how completely a verified
// specification constrains the underlying defect.
type Analyzer struct {
	judge     Judge
	fullRatio float64
	logger    *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithJudge enables model refinement of partially covered findings.
func WithJudge(j Judge) AnalyzerOption {
	return func(a *Analyzer) {
		a.judge = j
	}
}

// WithFullCoverageRatio overrides DefaultFullCoverageRatio.
func WithFullCoverageRatio(r float64) AnalyzerOption {
	return func(a *Analyzer) {
		if r > 0 && r <= 1 {
			a.fullRatio = r
		}
	}
}

// WithAnalyzerLogger sets the analyzer logger.
func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		fullRatio: DefaultFullCoverageRatio,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aspects returns the normalised terms describing the defect of f: the
// function name, identifier-like tokens of the title and description, and
// the content words of the title.
func Aspects(f *finding.Finding) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(term string) {
		term = stem(strings.ToLower(term))
		if len(term) < tokenize.MinIdentifierLength {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	if fn := strings.TrimSpace(f.Location.Function); fn != "" {
		add(fn)
	}
	for _, id := range tokenize.Identifiers(f.Title + "\n" + f.Description) {
		add(id)
	}
	for _, w := range tokenize.Words(f.Title) {
		add(w)
	}
	return out
}

// Classify scores f against spec. A nil spec yields not_covered.
func (a *Analyzer) Classify(ctx context.Context, f *finding.Finding, spec *ModuleSpec) finding.SpecCoverageResult {
	if spec == nil {
		res := finding.NewSpecCoverageResult(f.ID, f.Severity, finding.CoverageNone)
		res.Method = MethodNoSpec
		return res
	}

	clauses := spec.Clauses()
	level, matched := a.heuristic(f, clauses)
	method := MethodHeuristic

	if level == finding.CoveragePartial && a.judge != nil {
		judged, err := a.judge.JudgeCoverage(ctx, f, relevantClauses(clauses, matched))
		switch {
		case err != nil:
			a.logger.WarnContext(ctx, "coverage judge failed, keeping heuristic level",
				"finding_id", f.ID,
				"error", err,
			)
		case judged.IsValid():
			level = judged
			method = MethodJudge
		}
	}

	res := finding.NewSpecCoverageResult(f.ID, f.Severity, level)
	res.Method = method
	for _, i := range matched {
		res.MatchedClauses = append(res.MatchedClauses, clauses[i].String())
	}
	return res
}

// heuristic returns the coverage level and the indexes of the clauses that
// address at least one aspect.
func (a *Analyzer) heuristic(f *finding.Finding, clauses []Clause) (finding.CoverageLevel, []int) {
	aspects := Aspects(f)
	if len(aspects) == 0 || len(clauses) == 0 {
		return finding.CoverageNone, nil
	}

	covered := make(map[string]struct{})
	var matched []int
	for i, c := range clauses {
		terms := clauseTerms(c.Text)
		hit := false
		for _, asp := range aspects {
			if _, ok := terms[asp]; ok {
				covered[asp] = struct{}{}
				hit = true
			}
		}
		if hit {
			matched = append(matched, i)
		}
	}

	ratio := float64(len(covered)) / float64(len(aspects))
	switch {
	case ratio >= a.fullRatio:
		return finding.CoverageFull, matched
	case ratio > 0:
		return finding.CoveragePartial, matched
	default:
		return finding.CoverageNone, nil
	}
}

// clauseTerms returns the stemmed whole identifiers and words of a clause.
func clauseTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for tok := range tokenize.CodeTokens(text) {
		terms[stem(tok)] = struct{}{}
	}
	for _, w := range tokenize.Words(text) {
		terms[stem(w)] = struct{}{}
	}
	return terms
}

func relevantClauses(clauses []Clause, idx []int) []Clause {
	out := make([]Clause, 0, len(idx))
	for _, i := range idx {
		out = append(out, clauses[i])
	}
	return out
}

// stem strips a common English inflection so that "refunded" and "refund"
// compare equal. Identifiers containing underscores are left alone.
func stem(w string) string {
	if strings.Contains(w, "_") || len(w) <= 5 {
		return w
	}
	for _, suffix := range []string{"ing", "ed", "s"} {
		if strings.HasSuffix(w, suffix) {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}
