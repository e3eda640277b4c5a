package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/verdict/internal/types"
)

// UsageScope identifies what a model call is charged to: a run, optionally
// narrowed to one agent role.
type UsageScope struct {
	RunID types.ID
	Role  string
}

// String returns a string representation of the scope
func (s UsageScope) String() string {
	if s.Role != "" {
		return fmt.Sprintf("run:%s/role:%s", s.RunID, s.Role)
	}
	return fmt.Sprintf("run:%s", s.RunID)
}

// Key returns a unique key for this scope for map lookups
func (s UsageScope) Key() string {
	return s.String()
}

// Parent returns the run-level scope.
func (s UsageScope) Parent() UsageScope {
	return UsageScope{RunID: s.RunID}
}

// UsageRecord accumulates model usage for a scope.
type UsageRecord struct {
	Scope        UsageScope `json:"-"`
	Calls        int        `json:"calls"`
	Attempts     int        `json:"attempts"`
	Failures     int        `json:"failures"`
	Fallbacks    int        `json:"fallbacks"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
}

// Budget limits usage for a scope. Zero fields are unlimited.
type Budget struct {
	MaxCalls       int
	MaxTotalTokens int
}

// TokenTracker records model usage and enforces budgets.
type TokenTracker interface {
	// Reserve claims one call against the scope's budget and its run budget.
	// It returns an ErrBudgetExceeded error when no calls remain.
	Reserve(scope UsageScope) error

	// RecordUsage records a completed call.
	RecordUsage(scope UsageScope, resp *CompletionResponse)

	// RecordFailure records a call that exhausted every attempt.
	RecordFailure(scope UsageScope, attempts int)

	// GetUsage returns usage for the scope; the zero record if none.
	GetUsage(scope UsageScope) UsageRecord

	// SetBudget sets a budget for the scope.
	SetBudget(scope UsageScope, budget Budget)

	// Roles returns role-level records for a run, sorted by role.
	Roles(runID types.ID) []UsageRecord
}

// DefaultTokenTracker implements TokenTracker with thread-safe operations.
type DefaultTokenTracker struct {
	mu       sync.Mutex
	usage    map[string]*UsageRecord
	budgets  map[string]Budget
	reserved map[string]int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *DefaultTokenTracker {
	return &DefaultTokenTracker{
		usage:    make(map[string]*UsageRecord),
		budgets:  make(map[string]Budget),
		reserved: make(map[string]int),
	}
}

// SetBudget sets a budget for the scope.
func (t *DefaultTokenTracker) SetBudget(scope UsageScope, budget Budget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets[scope.Key()] = budget
}

// Reserve claims one call. Role and run budgets are checked together so a
// rejected reservation leaves both counters untouched.
func (t *DefaultTokenTracker) Reserve(scope UsageScope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	scopes := []UsageScope{scope}
	if scope.Role != "" {
		scopes = append(scopes, scope.Parent())
	}
	for _, s := range scopes {
		if err := t.checkLocked(s); err != nil {
			return err
		}
	}
	for _, s := range scopes {
		t.reserved[s.Key()]++
	}
	return nil
}

func (t *DefaultTokenTracker) checkLocked(scope UsageScope) error {
	key := scope.Key()
	budget, ok := t.budgets[key]
	if !ok {
		return nil
	}
	if budget.MaxCalls > 0 && t.reserved[key] >= budget.MaxCalls {
		return types.NewError(ErrBudgetExceeded,
			fmt.Sprintf("call budget exhausted: limit=%d, scope=%s", budget.MaxCalls, scope))
	}
	if budget.MaxTotalTokens > 0 {
		if rec, ok := t.usage[key]; ok && rec.InputTokens+rec.OutputTokens >= budget.MaxTotalTokens {
			return types.NewError(ErrBudgetExceeded,
				fmt.Sprintf("token budget exhausted: limit=%d, scope=%s", budget.MaxTotalTokens, scope))
		}
	}
	return nil
}

// RecordUsage records a completed call at role and run level.
func (t *DefaultTokenTracker) RecordUsage(scope UsageScope, resp *CompletionResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.eachLevel(scope, func(rec *UsageRecord) {
		rec.Calls++
		if resp == nil {
			return
		}
		rec.Attempts += max(resp.Attempts, 1)
		rec.InputTokens += resp.Usage.PromptTokens
		rec.OutputTokens += resp.Usage.CompletionTokens
		if resp.Fallback {
			rec.Fallbacks++
		}
	})
}

// RecordFailure records a call that returned no response.
func (t *DefaultTokenTracker) RecordFailure(scope UsageScope, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.eachLevel(scope, func(rec *UsageRecord) {
		rec.Calls++
		rec.Failures++
		rec.Attempts += attempts
	})
}

func (t *DefaultTokenTracker) eachLevel(scope UsageScope, fn func(*UsageRecord)) {
	scopes := []UsageScope{scope}
	if scope.Role != "" {
		scopes = append(scopes, scope.Parent())
	}
	for _, s := range scopes {
		rec, ok := t.usage[s.Key()]
		if !ok {
			rec = &UsageRecord{Scope: s}
			t.usage[s.Key()] = rec
		}
		fn(rec)
	}
}

// GetUsage returns a copy of the scope's record.
func (t *DefaultTokenTracker) GetUsage(scope UsageScope) UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.usage[scope.Key()]; ok {
		return *rec
	}
	return UsageRecord{Scope: scope}
}

// Roles returns the role-level records of a run, sorted by role.
func (t *DefaultTokenTracker) Roles(runID types.ID) []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []UsageRecord
	for _, rec := range t.usage {
		if rec.Scope.RunID == runID && rec.Scope.Role != "" {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.Role < out[j].Scope.Role })
	return out
}
