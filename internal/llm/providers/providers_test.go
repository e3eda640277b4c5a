package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

func TestToMessageContent(t *testing.T) {
	out := toMessageContent([]llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("user"),
		llm.NewAssistantMessage("ai"),
	})
	require.Len(t, out, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, out[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, out[2].Role)
}

func TestFromContentResponse(t *testing.T) {
	resp := fromContentResponse(&llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        `{"verdict":"confirmed"}`,
			StopReason:     "max_tokens",
			GenerationInfo: map[string]any{"InputTokens": 120, "OutputTokens": 30},
		}},
	}, "anthropic", "claude")

	assert.Equal(t, `{"verdict":"confirmed"}`, resp.Message.Content)
	assert.Equal(t, llm.FinishReasonLength, resp.FinishReason)
	assert.Equal(t, 120, resp.Usage.PromptTokens)
	assert.Equal(t, 30, resp.Usage.CompletionTokens)
	assert.Equal(t, 150, resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic", resp.Provider)

	empty := fromContentResponse(nil, "openai", "gpt")
	assert.Empty(t, empty.Message.Content)
	assert.Equal(t, llm.FinishReasonStop, empty.FinishReason)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider("local", "first", "second")
	p.QueueError(errors.New("boom"))

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	assert.EqualError(t, err, "boom")

	r1, err := p.Complete(context.Background(), llm.CompletionRequest{Model: "m"})
	require.NoError(t, err)
	r2, err := p.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	r3, err := p.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	assert.Equal(t, "first", r1.Message.Content)
	assert.Equal(t, "m", r1.Model)
	assert.Equal(t, "second", r2.Message.Content)
	assert.Equal(t, "first", r3.Message.Content)
	assert.Len(t, p.GetCalls(), 4)
}

func TestNewRegistry(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	configs := map[string]llm.ProviderConfig{
		"local":  {Type: llm.ProviderMock, Options: map[string]any{"responses": []any{"canned"}}},
		"claude": {Type: llm.ProviderAnthropic},
	}

	reg, err := NewRegistry(context.Background(), configs, []string{"local", "local"})
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, reg.ListProviders())

	p, err := reg.GetProvider("local")
	require.NoError(t, err)
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "canned", resp.Message.Content)

	_, err = NewRegistry(context.Background(), configs, []string{"claude"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, llm.ErrProviderUnauthorized))

	_, err = NewRegistry(context.Background(), configs, []string{"missing"})
	assert.True(t, types.HasCode(err, llm.ErrProviderNotFound))
}

type downProvider struct{ *MockProvider }

func (downProvider) Health(context.Context) types.HealthStatus {
	return types.Unhealthy("connection refused")
}

func TestRegistryProbe(t *testing.T) {
	reg := llm.NewLLMRegistry()
	assert.Equal(t, types.HealthStateUnhealthy, reg.Health(context.Background()).State)

	require.NoError(t, reg.RegisterProvider("up", NewMockProvider("up", "ok")))
	assert.True(t, reg.Health(context.Background()).IsHealthy())

	require.NoError(t, reg.RegisterProvider("down", downProvider{NewMockProvider("down")}))
	results := reg.Probe(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results["up"].IsHealthy())
	assert.Equal(t, "connection refused", results["down"].Message)
	assert.False(t, results["down"].CheckedAt.IsZero())

	assert.Equal(t, types.HealthStateDegraded, reg.Health(context.Background()).State)
}
