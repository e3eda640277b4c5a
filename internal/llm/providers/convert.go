package providers

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/zero-day-ai/verdict/internal/llm"
)

// toMessageContent converts messages to langchaingo MessageContent.
func toMessageContent(messages []llm.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case llm.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case llm.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}

// callOptions converts request parameters to langchaingo call options.
func callOptions(req llm.CompletionRequest, defaultModel string) []llms.CallOption {
	var opts []llms.CallOption

	model := req.Model
	if model == "" {
		model = defaultModel
	}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.TopP > 0 {
		opts = append(opts, llms.WithTopP(req.TopP))
	}
	if req.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}
	return opts
}

// fromContentResponse converts a langchaingo response.
func fromContentResponse(resp *llms.ContentResponse, provider, model string) *llm.CompletionResponse {
	out := &llm.CompletionResponse{
		ID:           uuid.New().String(),
		Provider:     provider,
		Model:        model,
		Message:      llm.Message{Role: llm.RoleAssistant},
		FinishReason: llm.FinishReasonStop,
	}
	if resp == nil || len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Message.Content = choice.Content
	switch strings.ToLower(choice.StopReason) {
	case "length", "max_tokens":
		out.FinishReason = llm.FinishReasonLength
	case "content_filter", "safety":
		out.FinishReason = llm.FinishReasonContentFilter
	}
	out.Usage = usageFromGenerationInfo(choice.GenerationInfo)
	return out
}

// Providers report token counts under different GenerationInfo keys.
var (
	promptTokenKeys     = []string{"PromptTokens", "InputTokens", "input_tokens", "prompt_tokens"}
	completionTokenKeys = []string{"CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens"}
)

func usageFromGenerationInfo(info map[string]any) llm.CompletionTokenUsage {
	usage := llm.CompletionTokenUsage{
		PromptTokens:     firstInt(info, promptTokenKeys),
		CompletionTokens: firstInt(info, completionTokenKeys),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

func firstInt(info map[string]any, keys []string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
