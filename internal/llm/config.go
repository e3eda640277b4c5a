package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zero-day-ai/verdict/internal/types"
)

// ProviderType identifies the backend implementation of a provider.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGoogle    ProviderType = "google"
	ProviderOllama    ProviderType = "ollama"
	ProviderMock      ProviderType = "mock"
)

// ProviderConfig configures one named provider.
type ProviderConfig struct {
	Type         ProviderType   `mapstructure:"type" yaml:"type" validate:"required,oneof=anthropic openai google ollama mock"`
	APIKey       string         `mapstructure:"api_key" yaml:"api_key"`
	BaseURL      string         `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	DefaultModel string         `mapstructure:"default_model" yaml:"default_model"`
	Options      map[string]any `mapstructure:"options" yaml:"options"`

	// RequestsPerMinute caps calls to this provider across all workers.
	// Zero disables the limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" validate:"min=0"`
	Burst             int `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

// apiKeyEnv lists the environment variables consulted when api_key is empty.
var apiKeyEnv = map[ProviderType][]string{
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderGoogle:    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

// RequiresAPIKey reports whether the provider type needs a credential.
func (p *ProviderConfig) RequiresAPIKey() bool {
	_, ok := apiKeyEnv[p.Type]
	return ok
}

// ResolveAPIKey returns the configured key or the first non-empty
// environment fallback.
func (p *ProviderConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	for _, env := range apiKeyEnv[p.Type] {
		if key := strings.TrimSpace(os.Getenv(env)); key != "" {
			return key
		}
	}
	return ""
}

// HasCredentials reports whether the provider can authenticate.
func (p *ProviderConfig) HasCredentials() bool {
	return !p.RequiresAPIKey() || p.ResolveAPIKey() != ""
}

// Validate checks the provider configuration.
func (p *ProviderConfig) Validate() error {
	switch p.Type {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, ProviderMock:
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("invalid provider type '%s', must be one of: anthropic, openai, google, ollama, mock", p.Type))
	}
	if p.RequestsPerMinute < 0 || p.Burst < 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "requests_per_minute and burst must be non-negative")
	}
	return nil
}

// Binding selects the provider and model one agent role calls.
type Binding struct {
	Provider    string  `mapstructure:"provider" yaml:"provider" json:"provider"`
	Model       string  `mapstructure:"model" yaml:"model" json:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature,omitempty" validate:"min=0,max=1"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens,omitempty" validate:"min=0"`
}

// IsZero reports whether no provider is set.
func (b Binding) IsZero() bool {
	return strings.TrimSpace(b.Provider) == ""
}

func (b Binding) String() string {
	if b.Model == "" {
		return b.Provider
	}
	return b.Provider + "/" + b.Model
}

// RoleBinding is the primary binding of a role plus an optional fallback.
type RoleBinding struct {
	Primary  Binding  `json:"primary"`
	Fallback *Binding `json:"fallback,omitempty"`
}

// Attempts returns the bindings in the order they should be tried.
func (r RoleBinding) Attempts() []Binding {
	out := []Binding{r.Primary}
	if r.Fallback != nil && !r.Fallback.IsZero() {
		out = append(out, *r.Fallback)
	}
	return out
}

// RetryPolicy controls retries against a single binding.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries" validate:"min=0,max=10"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryPolicy returns two retries starting at 500ms, capped at 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Backoff returns the delay before retry number attempt (0-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}
