package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

// MockCall is a recorded call to the mock provider.
type MockCall struct {
	Request llm.CompletionRequest
}

// MockProvider replays canned responses round-robin. Queued errors are
// returned first, one per call.
type MockProvider struct {
	mu            sync.Mutex
	name          string
	responses     []string
	responseIndex int
	errs          []error
	calls         []MockCall
}

// NewMockProvider creates a mock provider.
func NewMockProvider(name string, responses ...string) *MockProvider {
	return &MockProvider{name: name, responses: responses}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return p.name
}

// Complete returns the next queued error or canned response.
func (p *MockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, MockCall{Request: req})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	if len(p.responses) == 0 {
		return nil, llm.NewProviderUnavailableError(p.name, fmt.Errorf("no responses configured"))
	}

	content := p.responses[p.responseIndex%len(p.responses)]
	p.responseIndex++

	return &llm.CompletionResponse{
		ID:           uuid.New().String(),
		Provider:     p.name,
		Model:        req.Model,
		Message:      llm.NewAssistantMessage(content),
		FinishReason: llm.FinishReasonStop,
		Usage: llm.CompletionTokenUsage{
			PromptTokens:     10,
			CompletionTokens: len(content) / 4,
			TotalTokens:      10 + len(content)/4,
		},
	}, nil
}

// Health always reports healthy.
func (p *MockProvider) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("mock")
}

// QueueError makes the next call fail with err.
func (p *MockProvider) QueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

// GetCalls returns all recorded calls.
func (p *MockProvider) GetCalls() []MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]MockCall, len(p.calls))
	copy(calls, p.calls)
	return calls
}

// SetResponses replaces all responses.
func (p *MockProvider) SetResponses(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = responses
	p.responseIndex = 0
}
