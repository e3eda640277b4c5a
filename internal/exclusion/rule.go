package exclusion

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// Source distinguishes code-expressed rules from user-authored ones.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceCustom  Source = "custom"
)

// Group classifies built-in rules.
type Group string

const (
	GroupLanguageGuarantee Group = "language_guarantee"
	GroupAccessControl     Group = "access_control"
	GroupNonSecurity       Group = "non_security"
	GroupAllowlist         Group = "production_allowlist"
	GroupCustom            Group = "custom"
)

// Layer names the evaluation layer that produced a decision.
type Layer string

const (
	LayerIdentifierOverlap Layer = "identifier_overlap"
	LayerRule              Layer = "rule"
)

const (
	// OverlapRuleID is recorded for pre-filter decisions.
	OverlapRuleID = "identifier-overlap"

	// ReasonLikelyFalsePositive is the pre-filter decision reason.
	ReasonLikelyFalsePositive = "likely_false_positive"

	// DefaultOverlapThreshold is the missing-identifier ratio at which the
	// pre-filter flags a finding.
	DefaultOverlapThreshold = 0.70

	// DefaultCustomPriority ranks custom exclusions above every built-in.
	DefaultCustomPriority = 100
)

// Predicate reports whether a rule applies to a finding given its code.
type Predicate func(f *finding.Finding, code finding.CodeContext) (bool, error)

// Rule is an evaluable exclusion rule with mutable enable flag and trigger
// counter.
type Rule struct {
	ID          string
	Name        string
	Description string
	Source      Source
	Group       Group
	Priority    int
	Scope       Scope

	match    Predicate
	enabled  atomic.Bool
	triggers atomic.Int64
}

// NewRule creates an enabled rule.
func NewRule(id, name string, group Group, priority int, match Predicate) *Rule {
	r := &Rule{
		ID:       id,
		Name:     name,
		Source:   SourceBuiltin,
		Group:    group,
		Priority: priority,
		match:    match,
	}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether the rule takes part in evaluation.
func (r *Rule) Enabled() bool { return r.enabled.Load() }

// Triggers returns the trigger count.
func (r *Rule) Triggers() int64 { return r.triggers.Load() }

// Info returns a snapshot of the rule for inspection.
func (r *Rule) Info() RuleInfo {
	return RuleInfo{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Source:      r.Source,
		Group:       r.Group,
		Priority:    r.Priority,
		Enabled:     r.Enabled(),
		Triggers:    r.Triggers(),
		Scope:       r.Scope,
	}
}

// RuleInfo is a read-only view of a rule.
type RuleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      Source `json:"source"`
	Group       Group  `json:"group"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Triggers    int64  `json:"triggers"`
	Scope       Scope  `json:"scope,omitempty"`
}

// Scope restricts a custom exclusion to one chain and/or project.
type Scope struct {
	Chain   string `json:"chain,omitempty" yaml:"chain,omitempty" mapstructure:"chain"`
	Project string `json:"project,omitempty" yaml:"project,omitempty" mapstructure:"project"`
}

// Allows reports whether a run for chain and project is inside the scope.
// Empty scope fields are wildcards.
func (s Scope) Allows(chain, project string) bool {
	if s.Chain != "" && !strings.EqualFold(s.Chain, chain) {
		return false
	}
	if s.Project != "" && !strings.EqualFold(s.Project, project) {
		return false
	}
	return true
}

// CustomExclusion is a user-authored exclusion rule.
type CustomExclusion struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Match        MatchConfig `json:"match" yaml:"match"`
	Scope        Scope       `json:"scope,omitempty" yaml:"scope,omitempty"`
	Enabled      bool        `json:"enabled" yaml:"enabled"`
	Priority     int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	TriggerCount int64       `json:"trigger_count" yaml:"-"`
	CreatedAt    time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"-"`
}

// Validate checks the exclusion has an id, a name and a valid match config.
func (c *CustomExclusion) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return types.NewError(types.EXCLUSION_INVALID_RULE, "custom exclusion id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return types.NewError(types.EXCLUSION_INVALID_RULE,
			fmt.Sprintf("custom exclusion %s: name is required", c.ID))
	}
	if err := c.Match.Validate(); err != nil {
		return types.WrapError(types.EXCLUSION_INVALID_RULE,
			fmt.Sprintf("custom exclusion %s", c.ID), err)
	}
	return nil
}

// Rule compiles the exclusion into an evaluable rule.
func (c *CustomExclusion) Rule() (*Rule, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m, err := c.Match.Compile()
	if err != nil {
		return nil, err
	}
	priority := c.Priority
	if priority == 0 {
		priority = DefaultCustomPriority
	}
	r := NewRule(c.ID, c.Name, GroupCustom, priority, func(f *finding.Finding, code finding.CodeContext) (bool, error) {
		return m.Match(f, code.File), nil
	})
	r.Source = SourceCustom
	r.Description = c.Description
	r.Scope = c.Scope
	r.enabled.Store(c.Enabled)
	r.triggers.Store(c.TriggerCount)
	return r, nil
}

// Decision records why a finding was excluded.
type Decision struct {
	FindingID          string   `json:"finding_id"`
	Layer              Layer    `json:"layer"`
	RuleID             string   `json:"rule_id"`
	RuleName           string   `json:"rule_name,omitempty"`
	Source             Source   `json:"source,omitempty"`
	Reason             string   `json:"reason"`
	MissingRatio       float64  `json:"missing_ratio,omitempty"`
	MissingIdentifiers []string `json:"missing_identifiers,omitempty"`
	DryRun             bool     `json:"dry_run,omitempty"`
}
