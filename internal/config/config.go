// Package config loads and validates the verdict configuration: the audit
// pipeline settings, model providers, per-role bindings, the exclusion store
// and the observability stack.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/observability"
	"github.com/zero-day-ai/verdict/internal/types"
	"github.com/zero-day-ai/verdict/internal/util"
)

// Config is the root configuration structure.
type Config struct {
	Audit      AuditConfig                   `mapstructure:"audit" yaml:"audit"`
	Providers  map[string]llm.ProviderConfig `mapstructure:"providers" yaml:"providers" validate:"dive"`
	Roles      map[string]RoleConfig         `mapstructure:"roles" yaml:"roles" validate:"dive"`
	Exclusions ExclusionConfig               `mapstructure:"exclusions" yaml:"exclusions"`
	Coverage   CoverageConfig                `mapstructure:"coverage" yaml:"coverage"`
	Logging    observability.LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing    observability.TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Metrics    observability.MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// AuditConfig controls the verification pipeline.
type AuditConfig struct {
	Architecture        finding.ArchitectureMode `mapstructure:"architecture" yaml:"architecture" validate:"required,oneof=simplified legacy"`
	EscalationThreshold int                      `mapstructure:"escalation_threshold" yaml:"escalation_threshold" validate:"min=0,max=100"`
	ExploitSeverityGate []string                 `mapstructure:"exploit_severity_gate" yaml:"exploit_severity_gate"`
	Workers             int                      `mapstructure:"workers" yaml:"workers" validate:"min=1,max=256"`

	// MaxModelCalls bounds the model calls of one run. Zero means unlimited.
	MaxModelCalls int             `mapstructure:"max_model_calls" yaml:"max_model_calls" validate:"min=0"`
	CallTimeout   time.Duration   `mapstructure:"call_timeout" yaml:"call_timeout"`
	Retry         llm.RetryPolicy `mapstructure:"retry" yaml:"retry"`

	Chain   string `mapstructure:"chain" yaml:"chain"`
	Project string `mapstructure:"project" yaml:"project"`

	// OverlapThreshold is the missing-identifier ratio at which the
	// pre-filter excludes a finding. Negative disables the pre-filter.
	OverlapThreshold float64 `mapstructure:"overlap_threshold" yaml:"overlap_threshold" validate:"min=-1,max=1"`
}

// SeverityGate parses ExploitSeverityGate.
func (a AuditConfig) SeverityGate() (finding.SeveritySet, error) {
	set := finding.NewSeveritySet()
	for _, name := range a.ExploitSeverityGate {
		s, err := finding.ParseSeverity(name)
		if err != nil {
			return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "invalid audit.exploit_severity_gate", err)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// RoleConfig binds an agent role to a provider and model with an optional
// fallback.
type RoleConfig struct {
	llm.Binding `mapstructure:",squash" yaml:",inline"`
	Fallback    *llm.Binding `mapstructure:"fallback" yaml:"fallback,omitempty"`
}

// RoleBinding converts the role configuration into a client binding.
func (r RoleConfig) RoleBinding() llm.RoleBinding {
	rb := llm.RoleBinding{Primary: r.Binding}
	if r.Fallback != nil && !r.Fallback.IsZero() {
		fb := *r.Fallback
		rb.Fallback = &fb
	}
	return rb
}

// ExclusionConfig locates the exclusion store and the custom rule file.
type ExclusionConfig struct {
	Database   string `mapstructure:"database" yaml:"database"`
	CustomFile string `mapstructure:"custom_file" yaml:"custom_file"`

	// Disabled lists built-in rule IDs switched off for every run.
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// CoverageConfig controls spec coverage scoring.
type CoverageConfig struct {
	FullRatio float64             `mapstructure:"full_ratio" yaml:"full_ratio" validate:"min=0,max=1"`
	Judge     bool                `mapstructure:"judge" yaml:"judge"`
	Risk      coverage.RiskPolicy `mapstructure:"risk" yaml:"risk"`
}

// Bindings resolves the role table into client bindings. Perspective
// analysts default to the verifier binding and the coverage judge to the
// manager binding when they are not configured explicitly.
func (c *Config) Bindings() map[string]llm.RoleBinding {
	out := make(map[string]llm.RoleBinding, len(c.Roles)+len(finding.AllPerspectives)+1)
	for name, rc := range c.Roles {
		out[strings.ToLower(name)] = rc.RoleBinding()
	}
	if verifier, ok := out[agent.RoleVerifier]; ok {
		for _, kind := range finding.AllPerspectives {
			role := agent.PerspectiveRole(kind)
			if _, ok := out[role]; !ok {
				out[role] = verifier
			}
		}
	}
	if manager, ok := out[agent.RoleManager]; ok {
		if _, ok := out[coverage.RoleCoverageJudge]; !ok {
			out[coverage.RoleCoverageJudge] = manager
		}
	}
	return out
}

// RequiredRoles lists the roles the configured architecture calls.
func (c *Config) RequiredRoles() []string {
	roles := []string{agent.RoleManager, agent.RoleWhiteHat}
	if c.Audit.Architecture == finding.ArchitectureLegacy {
		for _, kind := range finding.AllPerspectives {
			roles = append(roles, agent.PerspectiveRole(kind))
		}
	} else {
		roles = append(roles, agent.RoleVerifier)
	}
	if c.Coverage.Judge {
		roles = append(roles, coverage.RoleCoverageJudge)
	}
	sort.Strings(roles)
	return roles
}

// ProvidersInUse returns the configured providers with credentials that are
// referenced by a binding of a required role, sorted.
func (c *Config) ProvidersInUse() []string {
	bindings := c.Bindings()
	seen := make(map[string]bool)
	for _, role := range c.RequiredRoles() {
		for _, b := range bindings[role].Attempts() {
			if pc, ok := c.Providers[b.Provider]; ok && pc.HasCredentials() {
				seen[b.Provider] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandPaths resolves ~ and environment variables in file locations.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Exclusions.Database, &c.Exclusions.CustomFile, &c.Logging.Output} {
		expanded, err := util.ExpandPath(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
