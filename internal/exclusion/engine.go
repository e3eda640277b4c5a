package exclusion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/tokenize"
	"github.com/zero-day-ai/verdict/internal/types"
)

// EvalOptions controls a single evaluation.
type EvalOptions struct {
	// DryRun evaluates without touching trigger counters.
	DryRun bool
}

// Stats is a snapshot of trigger counters.
type Stats struct {
	Overlap int64            `json:"identifier_overlap"`
	Rules   map[string]int64 `json:"rules"`
}

// Total returns the sum of every counter.
func (s Stats) Total() int64 {
	total := s.Overlap
	for _, n := range s.Rules {
		total += n
	}
	return total
}

// Engine evaluates findings against the identifier-overlap pre-filter and
// the enabled exclusion rules. It is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules []*Rule
	byID  map[string]*Rule

	threshold float64
	chain     string
	project   string
	logger    *slog.Logger

	overlapTotal atomic.Int64
	overlapFresh atomic.Int64
	fresh        sync.Map // rule id -> *atomic.Int64
	seen         sync.Map // rule id + finding id
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOverlapThreshold sets the missing-identifier ratio that triggers the
// pre-filter. A negative value disables the pre-filter.
func WithOverlapThreshold(threshold float64) EngineOption {
	return func(e *Engine) {
		if threshold != 0 {
			e.threshold = threshold
		}
	}
}

// WithScope sets the chain and project of the run; scoped custom exclusions
// for other chains or projects are skipped.
func WithScope(chain, project string) EngineOption {
	return func(e *Engine) {
		e.chain = chain
		e.project = project
	}
}

// WithLogger sets the logger used for rule failures.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRules registers additional rules alongside the built-ins.
func WithRules(rules ...*Rule) EngineOption {
	return func(e *Engine) {
		for _, r := range rules {
			e.byID[r.ID] = r
		}
	}
}

// NewEngine creates an engine loaded with the built-in catalogue.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		byID:      make(map[string]*Rule),
		threshold: DefaultOverlapThreshold,
		logger:    slog.Default(),
	}
	for _, r := range BuiltinRules() {
		e.byID[r.ID] = r
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resort()
	return e
}

// resort rebuilds the evaluation order. Caller holds mu or owns e.
func (e *Engine) resort() {
	rules := make([]*Rule, 0, len(e.byID))
	for _, r := range e.byID {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	e.rules = rules
}

// Evaluate runs the pre-filter and then the rules against f. It returns nil
// when nothing matches.
func (e *Engine) Evaluate(ctx context.Context, f *finding.Finding, code finding.CodeContext, opts EvalOptions) (*Decision, error) {
	if f == nil {
		return nil, types.NewError(types.PIPELINE_INVALID_INPUT, "nil finding")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d := e.checkOverlap(f, code, opts); d != nil {
		return d, nil
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.Enabled() {
			continue
		}
		if r.Source == SourceCustom && !r.Scope.Allows(e.chain, e.project) {
			continue
		}

		matched, err := e.safeMatch(r, f, code)
		if err != nil {
			e.logger.WarnContext(ctx, "exclusion rule failed, treating as non-matching",
				"rule_id", r.ID,
				"finding_id", f.ID,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		if !opts.DryRun && e.markSeen(r.ID, f.ID) {
			r.triggers.Add(1)
			e.freshCounter(r.ID).Add(1)
		}
		return &Decision{
			FindingID: f.ID,
			Layer:     LayerRule,
			RuleID:    r.ID,
			RuleName:  r.Name,
			Source:    r.Source,
			Reason:    r.Name,
			DryRun:    opts.DryRun,
		}, nil
	}
	return nil, nil
}

func (e *Engine) checkOverlap(f *finding.Finding, code finding.CodeContext, opts EvalOptions) *Decision {
	if e.threshold <= 0 {
		return nil
	}
	src := code.Source(f)
	if src == "" {
		return nil
	}
	ov := tokenize.CompareWithCode(f.Description, src).Without(renamedFunction(f, src)...)
	if ov.Empty() || ov.MissingRatio < e.threshold {
		return nil
	}
	if !opts.DryRun && e.markSeen(OverlapRuleID, f.ID) {
		e.overlapTotal.Add(1)
		e.overlapFresh.Add(1)
	}
	return &Decision{
		FindingID:          f.ID,
		Layer:              LayerIdentifierOverlap,
		RuleID:             OverlapRuleID,
		Source:             SourceBuiltin,
		Reason:             ReasonLikelyFalsePositive,
		MissingRatio:       ov.MissingRatio,
		MissingIdentifiers: ov.Missing,
		DryRun:             opts.DryRun,
	}
}

// renamedFunction returns the reported function and its name parts when the
// code does not declare it but declares a function sharing one of those
// parts, e.g. repay_loan reported against settle_loan.
func renamedFunction(f *finding.Finding, src string) []string {
	name := f.Location.Function
	if name == "" || findFunction(src, name).Found {
		return nil
	}
	parts := make(map[string]struct{})
	for _, p := range tokenize.SplitIdentifier(name) {
		if len(p) >= tokenize.MinIdentifierLength {
			parts[strings.ToLower(p)] = struct{}{}
		}
	}
	for _, declared := range declaredFunctions(src) {
		for _, p := range tokenize.SplitIdentifier(declared) {
			if _, ok := parts[strings.ToLower(p)]; ok {
				names := []string{name}
				for part := range parts {
					names = append(names, part)
				}
				return names
			}
		}
	}
	return nil
}

// safeMatch runs the rule predicate, converting a panic into an error.
func (e *Engine) safeMatch(r *Rule, f *finding.Finding, code finding.CodeContext) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = false
			err = types.NewError(types.EXCLUSION_RULE_FAILED, fmt.Sprintf("rule %s panicked: %v", r.ID, p))
		}
	}()
	if r.match == nil {
		return false, nil
	}
	matched, err = r.match(f, code)
	if err != nil {
		return false, types.WrapError(types.EXCLUSION_RULE_FAILED, fmt.Sprintf("rule %s", r.ID), err)
	}
	return matched, nil
}

// markSeen records the (rule, finding) pair and reports whether it is new.
func (e *Engine) markSeen(ruleID, findingID string) bool {
	_, loaded := e.seen.LoadOrStore(ruleID+"\x00"+findingID, struct{}{})
	return !loaded
}

func (e *Engine) freshCounter(ruleID string) *atomic.Int64 {
	v, _ := e.fresh.LoadOrStore(ruleID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// AddCustom compiles c and adds it, replacing a custom exclusion with the
// same id.
func (e *Engine) AddCustom(c CustomExclusion) error {
	r, err := c.Rule()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.byID[c.ID]; ok && existing.Source != SourceCustom {
		return types.NewError(types.EXCLUSION_INVALID_RULE,
			fmt.Sprintf("id %s is reserved by a built-in rule", c.ID))
	}
	e.byID[c.ID] = r
	e.resort()
	return nil
}

// RemoveCustom removes a custom exclusion.
func (e *Engine) RemoveCustom(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byID[id]
	if !ok || r.Source != SourceCustom {
		return types.NewError(types.EXCLUSION_NOT_FOUND, fmt.Sprintf("custom exclusion %s not found", id))
	}
	delete(e.byID, id)
	e.resort()
	return nil
}

// SetEnabled enables or disables a rule by id.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.RLock()
	r, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return types.NewError(types.EXCLUSION_NOT_FOUND, fmt.Sprintf("rule %s not found", id))
	}
	r.enabled.Store(enabled)
	return nil
}

// Rule returns the rule with the given id.
func (e *Engine) Rule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byID[id]
	return r, ok
}

// Catalogue lists every rule in evaluation order.
func (e *Engine) Catalogue() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleInfo, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Info())
	}
	return out
}

// Stats returns cumulative trigger counters, including restored ones.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{Overlap: e.overlapTotal.Load(), Rules: make(map[string]int64, len(e.rules))}
	for _, r := range e.rules {
		s.Rules[r.ID] = r.Triggers()
	}
	return s
}

// SessionCounts returns the triggers recorded by this engine since it was
// created, keyed by rule id. Only non-zero counters are included.
func (e *Engine) SessionCounts() map[string]int64 {
	out := make(map[string]int64)
	if n := e.overlapFresh.Load(); n > 0 {
		out[OverlapRuleID] = n
	}
	e.fresh.Range(func(k, v any) bool {
		if n := v.(*atomic.Int64).Load(); n > 0 {
			out[k.(string)] = n
		}
		return true
	})
	return out
}

// RestoreCounts seeds cumulative counters from persisted values.
func (e *Engine) RestoreCounts(counts map[string]int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, n := range counts {
		if id == OverlapRuleID {
			e.overlapTotal.Store(n)
			continue
		}
		if r, ok := e.byID[id]; ok {
			r.triggers.Store(n)
		}
	}
}
