package providers

import (
	"context"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

// LangchainProvider adapts any langchaingo llms.Model to llm.LLMProvider.
type LangchainProvider struct {
	name         string
	model        llms.Model
	defaultModel string
}

// NewLangchainProvider wraps model under the given provider name.
func NewLangchainProvider(name string, model llms.Model, defaultModel string) *LangchainProvider {
	return &LangchainProvider{name: name, model: model, defaultModel: defaultModel}
}

// Name returns the provider name
func (p *LangchainProvider) Name() string {
	return p.name
}

// Complete sends a completion request
func (p *LangchainProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.model.GenerateContent(ctx, toMessageContent(req.Messages), callOptions(req, p.defaultModel)...)
	if err != nil {
		return nil, llm.TranslateError(p.name, err)
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	return fromContentResponse(resp, p.name, model), nil
}

// Health sends a one-token request.
func (p *LangchainProvider) Health(ctx context.Context) types.HealthStatus {
	_, err := p.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{llm.NewUserMessage("ping")},
		MaxTokens: 1,
	})
	if err != nil {
		return types.Unhealthy(err.Error())
	}
	return types.Healthy("")
}

// NewAnthropicProvider creates a provider for Anthropic's Claude models.
func NewAnthropicProvider(name string, cfg llm.ProviderConfig) (*LangchainProvider, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, llm.NewAuthError(name, nil)
	}

	opts := []anthropic.Option{anthropic.WithToken(apiKey)}
	if cfg.DefaultModel != "" {
		opts = append(opts, anthropic.WithModel(cfg.DefaultModel))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	client, err := anthropic.New(opts...)
	if err != nil {
		return nil, types.WrapError(llm.ErrProviderInitFailed, "anthropic client", err)
	}
	return NewLangchainProvider(name, client, cfg.DefaultModel), nil
}

// NewOpenAIProvider creates a provider for OpenAI or any compatible endpoint.
func NewOpenAIProvider(name string, cfg llm.ProviderConfig) (*LangchainProvider, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, llm.NewAuthError(name, nil)
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.DefaultModel != "" {
		opts = append(opts, openai.WithModel(cfg.DefaultModel))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if org, ok := cfg.Options["organization"].(string); ok && org != "" {
		opts = append(opts, openai.WithOrganization(org))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, types.WrapError(llm.ErrProviderInitFailed, "openai client", err)
	}
	return NewLangchainProvider(name, client, cfg.DefaultModel), nil
}

// NewGoogleProvider creates a provider for Google's Gemini models.
func NewGoogleProvider(ctx context.Context, name string, cfg llm.ProviderConfig) (*LangchainProvider, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, llm.NewAuthError(name, nil)
	}

	opts := []googleai.Option{googleai.WithAPIKey(apiKey)}
	if cfg.DefaultModel != "" {
		opts = append(opts, googleai.WithDefaultModel(cfg.DefaultModel))
	}

	client, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, types.WrapError(llm.ErrProviderInitFailed, "google client", err)
	}
	return NewLangchainProvider(name, client, cfg.DefaultModel), nil
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(name string, cfg llm.ProviderConfig) (*LangchainProvider, error) {
	serverURL := cfg.BaseURL
	if serverURL == "" {
		serverURL = os.Getenv("OLLAMA_HOST")
	}
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}

	opts := []ollama.Option{ollama.WithServerURL(serverURL)}
	if cfg.DefaultModel != "" {
		opts = append(opts, ollama.WithModel(cfg.DefaultModel))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, types.WrapError(llm.ErrProviderInitFailed, "ollama client", err)
	}
	return NewLangchainProvider(name, client, cfg.DefaultModel), nil
}
