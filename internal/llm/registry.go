package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/verdict/internal/types"
)

// LLMRegistry holds the named providers available to a run.
type LLMRegistry interface {
	// RegisterProvider registers a provider under name.
	RegisterProvider(name string, provider LLMProvider) error

	// GetProvider retrieves a provider by configured name.
	GetProvider(name string) (LLMProvider, error)

	// ListProviders returns the registered names, sorted.
	ListProviders() []string

	// Health aggregates provider health:
	// healthy if all are healthy, degraded if some are, unhealthy otherwise.
	Health(ctx context.Context) types.HealthStatus
}

// DefaultLLMRegistry implements LLMRegistry with thread-safe operations.
type DefaultLLMRegistry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

// NewLLMRegistry creates an empty registry.
func NewLLMRegistry() *DefaultLLMRegistry {
	return &DefaultLLMRegistry{providers: make(map[string]LLMProvider)}
}

// RegisterProvider registers provider under name. Names must be unique.
func (r *DefaultLLMRegistry) RegisterProvider(name string, provider LLMProvider) error {
	if provider == nil {
		return NewInvalidRequestError("provider cannot be nil")
	}
	if name == "" {
		return NewInvalidRequestError("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return types.NewError(ErrProviderExists, fmt.Sprintf("provider %q already registered", name))
	}
	r.providers[name] = provider
	return nil
}

// GetProvider retrieves a provider by name.
func (r *DefaultLLMRegistry) GetProvider(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, NewProviderNotFoundError(name)
	}
	return provider, nil
}

// ListProviders returns the registered names, sorted.
func (r *DefaultLLMRegistry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Probe checks every provider concurrently and returns the result per name.
func (r *DefaultLLMRegistry) Probe(ctx context.Context) map[string]types.HealthStatus {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.RUnlock()

	var (
		mu  sync.Mutex
		out = make(map[string]types.HealthStatus, len(providers))
		g   errgroup.Group
	)
	for name, p := range providers {
		g.Go(func() error {
			h := types.Timed(func() types.HealthStatus { return p.Health(ctx) })
			mu.Lock()
			out[name] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Health folds Probe into one status: healthy when every provider is,
// degraded when some are, unhealthy otherwise.
func (r *DefaultLLMRegistry) Health(ctx context.Context) types.HealthStatus {
	results := r.Probe(ctx)
	total := len(results)
	if total == 0 {
		return types.Unhealthy("no providers registered")
	}

	healthy := 0
	for _, h := range results {
		if h.IsHealthy() {
			healthy++
		}
	}
	switch healthy {
	case total:
		return types.Healthy(fmt.Sprintf("all %d providers healthy", total))
	case 0:
		return types.Unhealthy(fmt.Sprintf("all %d providers unhealthy", total))
	default:
		return types.Degraded(fmt.Sprintf("%d/%d providers healthy", healthy, total))
	}
}
