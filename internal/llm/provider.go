package llm

import (
	"context"

	"github.com/zero-day-ai/verdict/internal/types"
)

// LLMProvider is the interface every model backend implements. Agents never
// talk to a provider directly; they go through Client, which adds rate
// limiting, retries and failover.
type LLMProvider interface {
	// Name returns the provider name as configured (e.g. "anthropic", "local").
	Name() string

	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Health checks connectivity to the provider.
	Health(ctx context.Context) types.HealthStatus
}
