package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/types"
)

// Caller is what agents depend on: one logical model call for a role.
type Caller interface {
	Complete(ctx context.Context, role string, messages []Message, opts ...CompletionOption) (*CompletionResponse, error)
}

// Client resolves a role to its provider binding and performs the call with
// rate limiting, a per-call timeout, retries with exponential backoff, a
// per-provider circuit breaker and failover to the role's fallback binding.
type Client struct {
	registry    LLMRegistry
	bindings    map[string]RoleBinding
	limits      *RateLimits
	retry       RetryPolicy
	callTimeout time.Duration
	tracker     TokenTracker
	logger      *slog.Logger
	tracer      trace.Tracer

	guardFailures int
	guardCooldown time.Duration
	guardsMu      sync.Mutex
	guards        map[string]*Guard

	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy sets the per-binding retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithCallTimeout bounds every individual provider call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithRateLimits installs per-provider rate limits.
func WithRateLimits(l *RateLimits) ClientOption {
	return func(c *Client) { c.limits = l }
}

// WithTracker records usage and enforces budgets. The run scope is read from
// the context (contextkeys.RunID).
func WithTracker(t TokenTracker) ClientOption {
	return func(c *Client) { c.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithCircuitBreaker opens a provider's circuit after maxFailures consecutive
// exhausted calls, for cooldown.
func WithCircuitBreaker(maxFailures int, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		c.guardFailures = maxFailures
		c.guardCooldown = cooldown
	}
}

// NewClient creates a client over registry with the given role bindings.
func NewClient(registry LLMRegistry, bindings map[string]RoleBinding, opts ...ClientOption) *Client {
	c := &Client{
		registry:      registry,
		bindings:      bindings,
		retry:         DefaultRetryPolicy(),
		callTimeout:   2 * time.Minute,
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/zero-day-ai/verdict/internal/llm"),
		guardFailures: 5,
		guardCooldown: 30 * time.Second,
		guards:        make(map[string]*Guard),
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Binding returns the binding configured for role.
func (c *Client) Binding(role string) (RoleBinding, bool) {
	rb, ok := c.bindings[role]
	return rb, ok
}

// Complete performs one logical model call for role.
func (c *Client) Complete(ctx context.Context, role string, messages []Message, opts ...CompletionOption) (*CompletionResponse, error) {
	rb, ok := c.bindings[role]
	if !ok || rb.Primary.IsZero() {
		return nil, types.NewError(ErrRoleNotBound, "no provider bound to role "+role)
	}

	scope := UsageScope{RunID: types.ID(contextkeys.GetRunID(ctx)), Role: role}
	if c.tracker != nil {
		if err := c.tracker.Reserve(scope); err != nil {
			return nil, err
		}
	}

	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("verdict.role", role),
		attribute.String("verdict.finding_id", contextkeys.GetFindingID(ctx)),
	))
	defer span.End()

	var (
		lastErr  error
		attempts int
	)
	for i, binding := range rb.Attempts() {
		resp, n, err := c.tryBinding(ctx, role, binding, messages, opts)
		attempts += n
		if err == nil {
			resp.Attempts = attempts
			resp.Fallback = i > 0
			if c.tracker != nil {
				c.tracker.RecordUsage(scope, resp)
			}
			span.SetAttributes(
				attribute.String("llm.provider", binding.Provider),
				attribute.String("llm.model", resp.Model),
				attribute.Int("llm.attempts", attempts),
				attribute.Bool("llm.fallback", resp.Fallback),
			)
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil || !IsFailoverable(err) {
			break
		}
		if i == 0 && rb.Fallback != nil && !rb.Fallback.IsZero() {
			c.logger.WarnContext(ctx, "primary binding failed, failing over",
				"role", role,
				"primary", binding.String(),
				"fallback", rb.Fallback.String(),
				"error", err,
			)
		}
	}

	if c.tracker != nil {
		c.tracker.RecordFailure(scope, attempts)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all attempts failed")
	return nil, types.WrapError(ErrAllAttemptsFailed,
		fmt.Sprintf("role %s: model call failed after %d attempts", role, attempts), lastErr)
}

// tryBinding calls one binding with retries. It returns the number of
// provider calls made.
func (c *Client) tryBinding(ctx context.Context, role string, b Binding, messages []Message, opts []CompletionOption) (*CompletionResponse, int, error) {
	provider, err := c.registry.GetProvider(b.Provider)
	if err != nil {
		return nil, 0, err
	}

	guard := c.guard(b.Provider)
	if !guard.Allow() {
		return nil, 0, types.NewError(ErrCircuitOpen,
			fmt.Sprintf("provider %s disabled until %s", b.Provider, guard.DisabledUntil().Format(time.RFC3339)))
	}

	req := CompletionRequest{
		Model:       b.Model,
		Messages:    messages,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
	}
	ApplyOptions(&req, opts...)
	if err := req.Validate(); err != nil {
		return nil, 0, NewInvalidRequestError(err.Error())
	}

	var lastErr error
	calls := 0
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.Backoff(attempt - 1)
			c.logger.DebugContext(ctx, "retrying model call",
				"role", role,
				"binding", b.String(),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, calls, TranslateError(b.Provider, err)
			}
		}

		if err := c.limits.Wait(ctx, b.Provider); err != nil {
			return nil, calls, TranslateError(b.Provider, err)
		}

		calls++
		resp, err := c.call(ctx, provider, req)
		if err == nil {
			guard.RecordSuccess()
			if resp.Provider == "" {
				resp.Provider = b.Provider
			}
			return resp, calls, nil
		}

		lastErr = TranslateError(b.Provider, err)
		if ctx.Err() != nil || !IsRetryable(lastErr) {
			break
		}
	}

	if IsRetryable(lastErr) {
		guard.RecordFailure()
	}
	return nil, calls, lastErr
}

func (c *Client) call(ctx context.Context, provider LLMProvider, req CompletionRequest) (*CompletionResponse, error) {
	if c.callTimeout <= 0 {
		return provider.Complete(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := provider.Complete(callCtx, req)
	if err != nil && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
		return nil, NewTimeoutError(fmt.Sprintf("%s call exceeded %s", provider.Name(), c.callTimeout))
	}
	return resp, err
}

func (c *Client) guard(provider string) *Guard {
	c.guardsMu.Lock()
	defer c.guardsMu.Unlock()
	g, ok := c.guards[provider]
	if !ok {
		g = NewGuard(c.guardFailures, c.guardCooldown)
		c.guards[provider] = g
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
