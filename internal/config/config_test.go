package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, NewValidator().Validate(cfg))

	assert.Equal(t, finding.ArchitectureSimplified, cfg.Audit.Architecture)
	assert.Equal(t, 80, cfg.Audit.EscalationThreshold)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Audit.CallTimeout)
	assert.InDelta(t, 0.70, cfg.Audit.OverlapThreshold, 1e-9)

	gate, err := cfg.Audit.SeverityGate()
	require.NoError(t, err)
	assert.True(t, gate.Contains(finding.SeverityHigh))
	assert.True(t, gate.Contains(finding.SeverityCritical))
	assert.False(t, gate.Contains(finding.SeverityMedium))
}

func TestLoad(t *testing.T) {
	t.Setenv("VERDICT_TEST_ANTHROPIC_KEY", "sk-test")
	t.Setenv("VERDICT_TEST_RULES_DIR", "/etc/verdict")
	path := writeConfig(t, `
audit:
  architecture: legacy
  escalation_threshold: 75
  exploit_severity_gate: [critical]
  call_timeout: 90s
  chain: sui
  project: lending
providers:
  anthropic:
    type: anthropic
    api_key: ${VERDICT_TEST_ANTHROPIC_KEY}
  local:
    type: ollama
    base_url: http://localhost:11434
roles:
  verifier:
    provider: anthropic
    model: claude-3-5-sonnet-latest
    fallback:
      provider: local
      model: llama3
  manager:
    provider: anthropic
  whitehat:
    provider: local
    temperature: 0.3
exclusions:
  custom_file: ${VERDICT_TEST_RULES_DIR}/rules.yaml
`)

	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, finding.ArchitectureLegacy, cfg.Audit.Architecture)
	assert.Equal(t, 75, cfg.Audit.EscalationThreshold)
	assert.Equal(t, 90*time.Second, cfg.Audit.CallTimeout)
	assert.Equal(t, DefaultWorkers, cfg.Audit.Workers)
	assert.Equal(t, llm.DefaultRetryPolicy(), cfg.Audit.Retry)
	assert.Equal(t, "sui", cfg.Audit.Chain)
	assert.Equal(t, "sk-test", cfg.Providers["anthropic"].APIKey)

	gate, err := cfg.Audit.SeverityGate()
	require.NoError(t, err)
	assert.True(t, gate.Contains(finding.SeverityCritical))
	assert.False(t, gate.Contains(finding.SeverityHigh))

	verifier := cfg.Roles["verifier"]
	assert.Equal(t, "anthropic", verifier.Provider)
	require.NotNil(t, verifier.Fallback)
	assert.Equal(t, "local", verifier.Fallback.Provider)
	assert.InDelta(t, 0.3, cfg.Roles["whitehat"].Temperature, 1e-9)

	assert.Equal(t, coverage.DefaultRiskPolicy(), cfg.Coverage.Risk)
	assert.Equal(t, "/etc/verdict/rules.yaml", cfg.Exclusions.CustomFile)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VERDICT_AUDIT_WORKERS", "8")
	path := writeConfig(t, "audit:\n  architecture: simplified\n")

	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Audit.Workers)
	assert.Equal(t, DefaultConfig().Providers, cfg.Providers)
}

func TestLoad_DecodeHooks(t *testing.T) {
	t.Setenv("VERDICT_AUDIT_EXPLOIT_SEVERITY_GATE", "CRITICAL,HIGH,MEDIUM")
	path := writeConfig(t, `
audit:
  architecture: " Legacy "
  call_timeout: 45s
`)
	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, finding.ArchitectureLegacy, cfg.Audit.Architecture)
	assert.Equal(t, 45*time.Second, cfg.Audit.CallTimeout)
	assert.Equal(t, []string{"CRITICAL", "HIGH", "MEDIUM"}, cfg.Audit.ExploitSeverityGate)

	gate, err := cfg.Audit.SeverityGate()
	require.NoError(t, err)
	assert.True(t, gate.Contains(finding.SeverityMedium))
}

func TestLoad_UnresolvedKeyIsNotACredential(t *testing.T) {
	path := writeConfig(t, `
providers:
  anthropic:
    type: anthropic
    api_key: ${VERDICT_TEST_UNSET_KEY}
`)
	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers["anthropic"].APIKey)
}

func TestLoad_Errors(t *testing.T) {
	loader := NewConfigLoader(NewValidator())

	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, types.HasCode(err, types.CONFIG_NOT_FOUND))

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"workers", "audit:\n  workers: 0\n", "audit.workers must be at least 1"},
		{"architecture", "audit:\n  architecture: hybrid\n", "audit.architecture must be one of"},
		{"threshold", "audit:\n  escalation_threshold: 120\n", "audit.escalation_threshold must be at most 100"},
		{"gate", "audit:\n  exploit_severity_gate: [severe]\n", "audit.exploit_severity_gate"},
		{"provider type", "providers:\n  p:\n    type: bedrock\n", "providers[p].type must be one of"},
		{"risk", "coverage:\n  risk:\n    buckets:\n      - level: low\n        below: 10\n", "coverage.risk"},
		{"logging", "logging:\n  format: xml\n", "logging:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, types.HasCode(err, types.CONFIG_VALIDATION_FAILED), err.Error())
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadWithDefaults_MissingFile(t *testing.T) {
	cfg, err := NewConfigLoader(NewValidator()).LoadWithDefaults(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Audit, cfg.Audit)
	assert.Len(t, cfg.Roles, 3)
}

func TestBindings_Fallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles[agent.PerspectiveRole(finding.PerspectiveEconomics)] = RoleConfig{
		Binding: llm.Binding{Provider: "openai", Model: "gpt-4o-mini"},
	}

	bindings := cfg.Bindings()
	verifier := bindings[agent.RoleVerifier]
	assert.Equal(t, verifier, bindings[agent.PerspectiveRole(finding.PerspectivePattern)])
	assert.Equal(t, verifier, bindings[agent.PerspectiveRole(finding.PerspectiveTypeSystem)])
	assert.Equal(t, "gpt-4o-mini", bindings[agent.PerspectiveRole(finding.PerspectiveEconomics)].Primary.Model)
	assert.Nil(t, bindings[agent.PerspectiveRole(finding.PerspectiveEconomics)].Fallback)
	assert.Equal(t, bindings[agent.RoleManager], bindings[coverage.RoleCoverageJudge])
}

func TestRequiredRoles(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"manager", "verifier", "whitehat"}, cfg.RequiredRoles())

	cfg.Audit.Architecture = finding.ArchitectureLegacy
	cfg.Coverage.Judge = true
	assert.Equal(t, []string{
		"business_analyst", "coverage_judge", "manager",
		"pattern_matcher", "type_system_expert", "whitehat",
	}, cfg.RequiredRoles())
}

func TestPreflight(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	providers := map[string]llm.ProviderConfig{
		"anthropic": {Type: llm.ProviderAnthropic},
		"keyed":     {Type: llm.ProviderOpenAI, APIKey: "sk-live"},
		"openai":    {Type: llm.ProviderOpenAI},
		"local":     {Type: llm.ProviderOllama},
	}
	bind := func(primary string, fallback string) map[string]RoleConfig {
		rc := RoleConfig{Binding: llm.Binding{Provider: primary}}
		if fallback != "" {
			rc.Fallback = &llm.Binding{Provider: fallback}
		}
		return map[string]RoleConfig{
			agent.RoleVerifier: rc,
			agent.RoleManager:  {Binding: llm.Binding{Provider: "local"}},
			agent.RoleWhiteHat: {Binding: llm.Binding{Provider: "local"}},
		}
	}

	tests := []struct {
		name  string
		roles map[string]RoleConfig
		code  types.ErrorCode
	}{
		{"credentials present", bind("keyed", ""), ""},
		{"keyless provider", bind("local", ""), ""},
		{"usable fallback", bind("anthropic", "local"), ""},
		{"no fallback", bind("anthropic", ""), types.CONFIG_NO_FALLBACK},
		{"fallback without credentials", bind("anthropic", "openai"), types.CONFIG_NO_CREDENTIALS},
		{"unknown provider", bind("bedrock", ""), types.CONFIG_VALIDATION_FAILED},
		{"unknown fallback", bind("keyed", "bedrock"), types.CONFIG_VALIDATION_FAILED},
		{"unbound", map[string]RoleConfig{}, types.CONFIG_VALIDATION_FAILED},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Providers = providers
			cfg.Roles = tt.roles

			err := Preflight(cfg)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestProvidersInUse(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-a")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	cfg.Providers["unused"] = llm.ProviderConfig{Type: llm.ProviderOllama}
	assert.Equal(t, []string{"anthropic"}, cfg.ProvidersInUse())
}

func TestFormatFieldPath(t *testing.T) {
	assert.Equal(t, "audit.escalation_threshold", formatFieldPath("Config.Audit.EscalationThreshold"))
	assert.Equal(t, "roles[verifier].temperature", formatFieldPath("Config.Roles[verifier].Binding.Temperature"))
	assert.Equal(t, "Config", formatFieldPath("Config"))
}
