package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/types"
)

// scriptedProvider returns queued results in order, then repeats the last.
type scriptedProvider struct {
	mu      sync.Mutex
	name    string
	results []scriptedResult
	calls   []CompletionRequest
}

type scriptedResult struct {
	content string
	err     error
	block   bool
}

func newScripted(name string, results ...scriptedResult) *scriptedProvider {
	return &scriptedProvider{name: name, results: results}
}

func ok(content string) scriptedResult { return scriptedResult{content: content} }
func fail(err error) scriptedResult    { return scriptedResult{err: err} }

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	idx := len(p.calls) - 1
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	r := p.results[idx]
	p.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &CompletionResponse{
		Model:   req.Model,
		Message: NewAssistantMessage(r.content),
		Usage:   CompletionTokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func (p *scriptedProvider) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("")
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestClient(t *testing.T, bindings map[string]RoleBinding, provs ...LLMProvider) *Client {
	t.Helper()
	reg := NewLLMRegistry()
	for _, p := range provs {
		require.NoError(t, reg.RegisterProvider(p.Name(), p))
	}
	c := NewClient(reg, bindings,
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}),
		WithCallTimeout(time.Second),
	)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

var userMsg = []Message{NewSystemMessage("be terse"), NewUserMessage("assess F-1")}

func TestClient_Complete_Success(t *testing.T) {
	primary := newScripted("primary", ok(`{"verdict":"confirmed"}`))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary", Model: "m1", Temperature: 0.1}},
	}, primary)

	resp, err := c.Complete(context.Background(), "verifier", userMsg, WithMaxTokens(512))
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"confirmed"}`, resp.Message.Content)
	assert.Equal(t, "primary", resp.Provider)
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Fallback)

	require.Len(t, primary.calls, 1)
	assert.Equal(t, "m1", primary.calls[0].Model)
	assert.Equal(t, 0.1, primary.calls[0].Temperature)
	assert.Equal(t, 512, primary.calls[0].MaxTokens)
}

func TestClient_Complete_RetriesTransientErrors(t *testing.T) {
	primary := newScripted("primary",
		fail(errors.New("429 too many requests")),
		fail(errors.New("connection reset by peer")),
		ok("done"),
	)
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}},
	}, primary)

	resp, err := c.Complete(context.Background(), "verifier", userMsg)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message.Content)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 3, primary.callCount())
}

func TestClient_Complete_FailsOverAfterRetries(t *testing.T) {
	primary := newScripted("primary", fail(errors.New("503 service overloaded")))
	fallback := newScripted("fallback", ok("from fallback"))
	c := newTestClient(t, map[string]RoleBinding{
		"manager": {
			Primary:  Binding{Provider: "primary", Model: "big"},
			Fallback: &Binding{Provider: "fallback", Model: "small"},
		},
	}, primary, fallback)

	resp, err := c.Complete(context.Background(), "manager", userMsg)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Message.Content)
	assert.True(t, resp.Fallback)
	assert.Equal(t, 4, resp.Attempts)
	assert.Equal(t, 3, primary.callCount())
	assert.Equal(t, "small", fallback.calls[0].Model)
}

func TestClient_Complete_AuthErrorSkipsRetriesButFailsOver(t *testing.T) {
	primary := newScripted("primary", fail(errors.New("401 unauthorized: invalid api key")))
	fallback := newScripted("fallback", ok("ok"))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}, Fallback: &Binding{Provider: "fallback"}},
	}, primary, fallback)

	resp, err := c.Complete(context.Background(), "verifier", userMsg)
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Equal(t, 1, primary.callCount())
}

func TestClient_Complete_AllAttemptsFail(t *testing.T) {
	primary := newScripted("primary", fail(errors.New("network unreachable")))
	c := newTestClient(t, map[string]RoleBinding{
		"whitehat": {Primary: Binding{Provider: "primary"}},
	}, primary)

	_, err := c.Complete(context.Background(), "whitehat", userMsg)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, ErrAllAttemptsFailed))
	assert.True(t, types.HasCode(err, ErrNetworkFailed))
	assert.Equal(t, 3, primary.callCount())
}

func TestClient_Complete_TimeoutIsTransient(t *testing.T) {
	primary := newScripted("primary", scriptedResult{block: true}, ok("late but fine"))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}},
	}, primary)
	c.callTimeout = 10 * time.Millisecond

	resp, err := c.Complete(context.Background(), "verifier", userMsg)
	require.NoError(t, err)
	assert.Equal(t, "late but fine", resp.Message.Content)
	assert.Equal(t, 2, resp.Attempts)
}

func TestClient_Complete_CanceledContextStops(t *testing.T) {
	primary := newScripted("primary", ok("never"))
	fallback := newScripted("fallback", ok("never"))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}, Fallback: &Binding{Provider: "fallback"}},
	}, primary, fallback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary.results = []scriptedResult{{block: true}}

	_, err := c.Complete(ctx, "verifier", userMsg)
	require.Error(t, err)
	assert.Equal(t, 0, fallback.callCount())
}

func TestClient_Complete_UnboundRole(t *testing.T) {
	c := newTestClient(t, map[string]RoleBinding{})
	_, err := c.Complete(context.Background(), "verifier", userMsg)
	assert.True(t, types.HasCode(err, ErrRoleNotBound))
}

func TestClient_Complete_BudgetAndTracking(t *testing.T) {
	primary := newScripted("primary", ok("x"))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}},
	}, primary)
	tracker := NewTokenTracker()
	c.tracker = tracker

	runID := types.NewID()
	tracker.SetBudget(UsageScope{RunID: runID}, Budget{MaxCalls: 2})
	ctx := contextkeys.WithRunID(context.Background(), runID.String())

	for i := 0; i < 2; i++ {
		_, err := c.Complete(ctx, "verifier", userMsg)
		require.NoError(t, err)
	}
	_, err := c.Complete(ctx, "verifier", userMsg)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, ErrBudgetExceeded))
	assert.Equal(t, 2, primary.callCount())

	usage := tracker.GetUsage(UsageScope{RunID: runID, Role: "verifier"})
	assert.Equal(t, 2, usage.Calls)
	assert.Equal(t, 200, usage.InputTokens)
	assert.Equal(t, 40, usage.OutputTokens)
}

func TestClient_CircuitBreakerSkipsDeadPrimary(t *testing.T) {
	primary := newScripted("primary", fail(errors.New("503 unavailable")))
	fallback := newScripted("fallback", ok("ok"))
	c := newTestClient(t, map[string]RoleBinding{
		"verifier": {Primary: Binding{Provider: "primary"}, Fallback: &Binding{Provider: "fallback"}},
	}, primary, fallback)
	c.guardFailures = 1
	c.guardCooldown = time.Hour

	_, err := c.Complete(context.Background(), "verifier", userMsg)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.callCount())

	_, err = c.Complete(context.Background(), "verifier", userMsg)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.callCount(), "open circuit must skip the primary")
	assert.Equal(t, 2, fallback.callCount())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(3))
}
