package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/zero-day-ai/verdict/internal/llm"
)

// NewProvider creates the provider named name from its configuration.
func NewProvider(ctx context.Context, name string, cfg llm.ProviderConfig) (llm.LLMProvider, error) {
	switch cfg.Type {
	case llm.ProviderAnthropic:
		return NewAnthropicProvider(name, cfg)
	case llm.ProviderOpenAI:
		return NewOpenAIProvider(name, cfg)
	case llm.ProviderGoogle:
		return NewGoogleProvider(ctx, name, cfg)
	case llm.ProviderOllama:
		return NewOllamaProvider(name, cfg)
	case llm.ProviderMock:
		responses := []string{`{"verdict":"needs_review","confidence":0,"rationale":"mock provider"}`}
		if configured, ok := cfg.Options["responses"].([]any); ok && len(configured) > 0 {
			responses = responses[:0]
			for _, r := range configured {
				responses = append(responses, fmt.Sprint(r))
			}
		}
		return NewMockProvider(name, responses...), nil
	default:
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("unknown provider type: %s", cfg.Type))
	}
}

// NewRegistry builds a registry holding the named providers. Only names in
// use are constructed, so unused providers without credentials are harmless.
func NewRegistry(ctx context.Context, configs map[string]llm.ProviderConfig, use []string) (*llm.DefaultLLMRegistry, error) {
	registry := llm.NewLLMRegistry()

	names := append([]string(nil), use...)
	sort.Strings(names)
	for _, name := range names {
		if _, err := registry.GetProvider(name); err == nil {
			continue
		}
		cfg, ok := configs[name]
		if !ok {
			return nil, llm.NewProviderNotFoundError(name)
		}
		provider, err := NewProvider(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if err := registry.RegisterProvider(name, provider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
