package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/observability"
)

// Defaults applied when a key is absent from the config file.
const (
	DefaultWorkers     = 4
	DefaultCallTimeout = 2 * time.Minute
	EnvPrefix          = "VERDICT"
)

// DefaultHomeDir returns ~/.verdict, or .verdict when the home directory is
// unknown.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verdict"
	}
	return filepath.Join(home, ".verdict")
}

// DefaultConfigPath returns the config file location under the home dir.
func DefaultConfigPath() string {
	return filepath.Join(DefaultHomeDir(), "config.yaml")
}

// DefaultDatabasePath returns the exclusion store location under the home dir.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultHomeDir(), "verdict.db")
}

// DefaultConfig returns a configuration that runs the simplified
// architecture against Anthropic with an OpenAI fallback for every role.
func DefaultConfig() *Config {
	fallback := &llm.Binding{Provider: "openai", Model: "gpt-4o"}
	role := func(temperature float64) RoleConfig {
		return RoleConfig{
			Binding:  llm.Binding{Provider: "anthropic", Model: "claude-3-5-sonnet-latest", Temperature: temperature},
			Fallback: fallback,
		}
	}

	return &Config{
		Audit: AuditConfig{
			Architecture:        finding.ArchitectureSimplified,
			EscalationThreshold: agent.DefaultEscalationThreshold,
			ExploitSeverityGate: []string{string(finding.SeverityHigh), string(finding.SeverityCritical)},
			Workers:             DefaultWorkers,
			CallTimeout:         DefaultCallTimeout,
			Retry:               llm.DefaultRetryPolicy(),
			OverlapThreshold:    exclusion.DefaultOverlapThreshold,
		},
		Providers: map[string]llm.ProviderConfig{
			"anthropic": {Type: llm.ProviderAnthropic},
			"openai":    {Type: llm.ProviderOpenAI},
		},
		Roles: map[string]RoleConfig{
			agent.RoleVerifier: role(0),
			agent.RoleManager:  role(0),
			agent.RoleWhiteHat: role(0.2),
		},
		Exclusions: ExclusionConfig{
			Database: DefaultDatabasePath(),
		},
		Coverage: CoverageConfig{
			FullRatio: coverage.DefaultFullCoverageRatio,
			Risk:      coverage.DefaultRiskPolicy(),
		},
		Logging: observability.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracing: observability.TracingConfig{
			Provider:    "otlp",
			ServiceName: "verdict",
			SampleRate:  1.0,
		},
		Metrics: observability.MetricsConfig{
			Provider: "prometheus",
			Listen:   ":9464",
		},
	}
}
