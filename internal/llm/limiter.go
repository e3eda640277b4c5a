package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimits throttles calls per provider. Providers without a configured
// limit are not throttled.
type RateLimits struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimits builds limiters from the provider configuration.
func NewRateLimits(providers map[string]ProviderConfig) *RateLimits {
	rl := &RateLimits{limiters: make(map[string]*rate.Limiter)}
	for name, cfg := range providers {
		rl.Set(name, cfg.RequestsPerMinute, cfg.Burst)
	}
	return rl
}

// Set installs or replaces the limit for provider. perMinute <= 0 removes it.
func (r *RateLimits) Set(provider string, perMinute, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if perMinute <= 0 {
		delete(r.limiters, provider)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	perSecond := float64(perMinute) / time.Minute.Seconds()
	r.limiters[provider] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks until provider may be called or ctx is done.
func (r *RateLimits) Wait(ctx context.Context, provider string) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	limiter, ok := r.limiters[provider]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
