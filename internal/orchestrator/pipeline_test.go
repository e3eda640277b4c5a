package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/events"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

const lendingSource = `module lending::flash {
    public fun borrow(pool: &mut Pool, amount: u64): (Coin<SUI>, Receipt) {
        let c = coin::take(&mut pool.balance, amount);
        (c, Receipt { amount })
    }

    public fun settle_loan(pool: &mut Pool, c: Coin<SUI>, r: Receipt) {
        let Receipt { amount } = r;
        coin::put(&mut pool.balance, c);
    }
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func input(id string, sev finding.Severity) finding.Input {
	return finding.Input{
		Finding: finding.Finding{
			ID:          id,
			Title:       "Flash loan issue",
			Severity:    sev,
			Description: "`settle_loan` never checks that `amount` was repaid with a fee.",
			Location:    finding.Location{Module: "flash", Function: "settle_loan"},
		},
		Context: finding.CodeContext{Code: lendingSource, Language: "move"},
	}
}

type excludeFunc func(f *finding.Finding) (*exclusion.Decision, error)

func (fn excludeFunc) Evaluate(ctx context.Context, f *finding.Finding, code finding.CodeContext, opts exclusion.EvalOptions) (*exclusion.Decision, error) {
	return fn(f)
}

var passThrough = excludeFunc(func(*finding.Finding) (*exclusion.Decision, error) { return nil, nil })

// fakeAgents plays every role. Nil function fields fall back to an
// agreeable default.
type fakeAgents struct {
	assess     func(ctx context.Context, f *finding.Finding) (*finding.VerifiedFinding, error)
	adjudicate func(ctx context.Context, f *finding.Finding, prior *finding.VerifiedFinding) (*finding.VerifiedFinding, error)
	merge      func(ctx context.Context, f *finding.Finding, views []agent.PerspectiveResult) (*finding.VerifiedFinding, error)
	exploit    func(ctx context.Context, f *finding.Finding) (*finding.ExploitChainResult, error)
	analyze    func(ctx context.Context, kind finding.PerspectiveKind, f *finding.Finding) (*agent.PerspectiveResult, error)

	mu    sync.Mutex
	calls map[string]int
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{calls: make(map[string]int)}
}

func (fa *fakeAgents) count(role string) {
	fa.mu.Lock()
	fa.calls[role]++
	fa.mu.Unlock()
}

func (fa *fakeAgents) callsTo(role string) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.calls[role]
}

func (fa *fakeAgents) Assess(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	fa.count(agent.RoleVerifier)
	if fa.assess != nil {
		return fa.assess(ctx, f)
	}
	return assessed(finding.VerdictConfirmed, 90)(ctx, f)
}

func (fa *fakeAgents) Adjudicate(ctx context.Context, f *finding.Finding, prior *finding.VerifiedFinding, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	fa.count(agent.RoleManager)
	if fa.adjudicate != nil {
		return fa.adjudicate(ctx, f, prior)
	}
	return overrule(prior.Verdict, prior.Confidence)(ctx, f, prior)
}

func (fa *fakeAgents) Merge(ctx context.Context, f *finding.Finding, views []agent.PerspectiveResult, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	fa.count(agent.RoleManager)
	if fa.merge != nil {
		return fa.merge(ctx, f, views)
	}
	vf := agent.MajorityMerge(f.ID, views)
	original := vf.Assessment()
	vf.Original = &original
	vf.Adjudicated = true
	return vf, nil
}

func (fa *fakeAgents) ConfirmExploit(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.ExploitChainResult, error) {
	fa.count(agent.RoleWhiteHat)
	if fa.exploit != nil {
		return fa.exploit(ctx, f)
	}
	return &finding.ExploitChainResult{
		FindingID:  f.ID,
		EntryPoint: "flash::settle_loan",
		Steps:      []string{"borrow 100 SUI", "call settle_loan with 1 SUI"},
		Impact:     "pool drained",
		Verified:   true,
	}, nil
}

func (fa *fakeAgents) Analyze(ctx context.Context, kind finding.PerspectiveKind, f *finding.Finding, code finding.CodeContext) (*agent.PerspectiveResult, error) {
	fa.count(agent.PerspectiveRole(kind))
	if fa.analyze != nil {
		return fa.analyze(ctx, kind, f)
	}
	return &agent.PerspectiveResult{Kind: kind, Verdict: finding.VerdictConfirmed, Confidence: 85, Rationale: string(kind) + " agrees"}, nil
}

func assessed(v finding.Verdict, conf int) func(context.Context, *finding.Finding) (*finding.VerifiedFinding, error) {
	return func(_ context.Context, f *finding.Finding) (*finding.VerifiedFinding, error) {
		return &finding.VerifiedFinding{
			FindingID:    f.ID,
			Verdict:      v,
			Confidence:   conf,
			Rationale:    "assessed",
			Architecture: finding.ArchitectureSimplified,
		}, nil
	}
}

func overrule(v finding.Verdict, conf int) func(context.Context, *finding.Finding, *finding.VerifiedFinding) (*finding.VerifiedFinding, error) {
	return func(_ context.Context, _ *finding.Finding, prior *finding.VerifiedFinding) (*finding.VerifiedFinding, error) {
		out := prior.Clone()
		original := prior.Assessment()
		out.Original = &original
		out.Adjudicated = true
		if v != prior.Verdict {
			out.Override = &finding.ManagerOverride{
				OriginalVerdict:    prior.Verdict,
				OriginalConfidence: prior.Confidence,
				NewVerdict:         v,
				NewConfidence:      conf,
				Justification:      "manager disagrees",
			}
		}
		out.Verdict = v
		out.Confidence = conf
		return out, nil
	}
}

func newTestPipeline(t *testing.T, fa *fakeAgents, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithExcluder(passThrough),
		WithAssessor(fa),
		WithAdjudicator(fa),
		WithExploitConfirmer(fa),
		WithAnalyst(fa),
		WithLogger(quietLogger()),
	}
	p, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func runOne(t *testing.T, p *Pipeline, in finding.Input) (*Report, *Outcome) {
	t.Helper()
	report, err := p.Run(context.Background(), []finding.Input{in})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	return report, report.Outcomes[0]
}

func TestNew_Validation(t *testing.T) {
	fa := newFakeAgents()
	full := []Option{WithExcluder(passThrough), WithAssessor(fa), WithAdjudicator(fa), WithExploitConfirmer(fa)}

	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown architecture", append([]Option{WithArchitecture("hybrid")}, full...)},
		{"no excluder", []Option{WithAssessor(fa), WithAdjudicator(fa), WithExploitConfirmer(fa)}},
		{"no manager", []Option{WithExcluder(passThrough), WithAssessor(fa), WithExploitConfirmer(fa)}},
		{"no whitehat", []Option{WithExcluder(passThrough), WithAssessor(fa), WithAdjudicator(fa)}},
		{"simplified without verifier", []Option{WithExcluder(passThrough), WithAdjudicator(fa), WithExploitConfirmer(fa)}},
		{"legacy without analyst", append([]Option{WithArchitecture(finding.ArchitectureLegacy)}, full...)},
		{"threshold above 100", append([]Option{WithEscalationThreshold(101)}, full...)},
		{"negative threshold", append([]Option{WithEscalationThreshold(-1)}, full...)},
		{"zero workers", append([]Option{WithWorkers(0)}, full...)},
		{"negative budget", append([]Option{WithMaxModelCalls(-1)}, full...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.Error(t, err)
			assert.True(t, types.HasCode(err, types.CONFIG_VALIDATION_FAILED))
		})
	}

	p, err := New(full...)
	require.NoError(t, err)
	assert.Equal(t, finding.ArchitectureSimplified, p.Architecture())
}

func TestRun_ExcludedBeforeAnyModelCall(t *testing.T) {
	fa := newFakeAgents()
	p := newTestPipeline(t, fa, WithExcluder(exclusion.NewEngine()))

	in := input("F-1", finding.SeverityHigh)
	in.Finding.Description = "The `set_flash_loan_fee` function lets the admin raise fees without limit."
	report, out := runOne(t, p, in)

	assert.Equal(t, finding.StatusExcluded, out.Status)
	assert.Equal(t, finding.StatusExcluded, out.Finding.Status)
	require.NotNil(t, out.Exclusion)
	assert.Equal(t, exclusion.OverlapRuleID, out.Exclusion.RuleID)
	assert.Equal(t, exclusion.LayerIdentifierOverlap, out.Exclusion.Layer)
	assert.Nil(t, out.Verified)
	assert.Equal(t, finding.ExploitNotApplicable, out.ExploitStatus)
	assert.Equal(t, []Stage{StageRaw, StageExcluded, StageTerminal}, out.Trail)

	assert.Zero(t, report.Tally.TotalModelCalls())
	assert.Equal(t, 1, report.Tally.Exclusions[exclusion.OverlapRuleID])
	assert.Equal(t, 1, report.Tally.Statuses[finding.StatusExcluded])
	assert.Zero(t, fa.callsTo(agent.RoleVerifier))
}

func TestRun_NameMismatchStillVerified(t *testing.T) {
	tests := []struct {
		name     string
		desc     string
		function string
	}{
		{name: "behaviour wording", desc: "No refund on repay.", function: "settle_loan"},
		{name: "renamed function", desc: "repay_loan keeps the excess payment instead of refunding it to the borrower.", function: "repay_loan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgents()
			fa.assess = assessed(finding.VerdictConfirmed, 88)
			p := newTestPipeline(t, fa, WithExcluder(exclusion.NewEngine(exclusion.WithLogger(quietLogger()))))

			in := input("F-B", finding.SeverityHigh)
			in.Finding.Title = "No refund on repay"
			in.Finding.Description = tt.desc
			in.Finding.Location.Function = tt.function
			report, out := runOne(t, p, in)

			assert.Nil(t, out.Exclusion)
			assert.Equal(t, finding.StatusConfirmed, out.Status)
			require.NotNil(t, out.Verified)
			assert.Equal(t, 88, out.Verified.Confidence)
			assert.Equal(t, 1, fa.callsTo(agent.RoleVerifier))
			assert.Zero(t, report.Tally.Statuses[finding.StatusExcluded])
		})
	}
}

func TestRun_ConfidentConfirmationWithExploit(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = assessed(finding.VerdictConfirmed, 88)
	p := newTestPipeline(t, fa)

	report, out := runOne(t, p, input("F-1", finding.SeverityHigh))

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.False(t, out.Escalated)
	require.NotNil(t, out.Verified)
	assert.Equal(t, 88, out.Verified.Confidence)
	require.NotNil(t, out.Exploit)
	assert.Equal(t, finding.ExploitVerified, out.ExploitStatus)
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageExploitChecked, StageTerminal}, out.Trail)
	assert.Empty(t, out.Errors)

	assert.Equal(t, map[string]int{agent.RoleVerifier: 1, agent.RoleWhiteHat: 1}, report.Tally.ModelCalls)
	assert.Equal(t, 1, report.Tally.ExploitChecks)
	assert.Zero(t, report.Tally.Escalations)
}

func TestRun_SeverityGateSkipsWhiteHat(t *testing.T) {
	fa := newFakeAgents()
	p := newTestPipeline(t, fa)

	_, out := runOne(t, p, input("F-1", finding.SeverityMedium))

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.Equal(t, finding.ExploitNeedsReview, out.ExploitStatus)
	assert.Nil(t, out.Exploit)
	assert.Zero(t, fa.callsTo(agent.RoleWhiteHat))
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageTerminal}, out.Trail)
}

func TestRun_ManagerOverrideKeepsOriginal(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = assessed(finding.VerdictFalsePositive, 60)
	fa.adjudicate = overrule(finding.VerdictConfirmed, 85)
	p := newTestPipeline(t, fa)

	report, out := runOne(t, p, input("F-1", finding.SeverityCritical))

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.True(t, out.Escalated)
	require.NotNil(t, out.Verified)
	require.NotNil(t, out.Verified.Original)
	assert.Equal(t, finding.VerdictFalsePositive, out.Verified.Original.Verdict)
	assert.Equal(t, 60, out.Verified.Original.Confidence)
	require.NotNil(t, out.Verified.Override)
	assert.Equal(t, finding.VerdictConfirmed, out.Verified.Override.NewVerdict)
	assert.Equal(t, finding.ExploitVerified, out.ExploitStatus)
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageAdjudicated, StageExploitChecked, StageTerminal}, out.Trail)

	assert.Equal(t, 1, report.Tally.Escalations)
	assert.Equal(t, 1, report.Tally.Overrides)
	assert.Equal(t, 1, fa.callsTo(agent.RoleManager))
}

func TestRun_EscalationRule(t *testing.T) {
	tests := []struct {
		name      string
		verdict   finding.Verdict
		conf      int
		threshold int
		escalate  bool
	}{
		{"confirmed just below threshold", finding.VerdictConfirmed, 79, 80, true},
		{"confirmed at threshold", finding.VerdictConfirmed, 80, 80, false},
		{"false positive above threshold", finding.VerdictFalsePositive, 90, 80, false},
		{"false positive below threshold", finding.VerdictFalsePositive, 40, 80, true},
		{"needs review is always escalated", finding.VerdictNeedsReview, 95, 80, true},
		{"zero threshold never escalates a decision", finding.VerdictConfirmed, 0, 0, false},
		{"threshold 100 escalates 99", finding.VerdictConfirmed, 99, 100, true},
		{"threshold 100 accepts 100", finding.VerdictFalsePositive, 100, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgents()
			fa.assess = assessed(tt.verdict, tt.conf)
			p := newTestPipeline(t, fa, WithEscalationThreshold(tt.threshold))

			_, out := runOne(t, p, input("F-1", finding.SeverityLow))

			assert.Equal(t, tt.escalate, out.Escalated)
			want := 0
			if tt.escalate {
				want = 1
			}
			assert.Equal(t, want, fa.callsTo(agent.RoleManager))
		})
	}
}

func TestRun_ManagerFailureLeavesFindingForReview(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = assessed(finding.VerdictFalsePositive, 50)
	fa.adjudicate = func(context.Context, *finding.Finding, *finding.VerifiedFinding) (*finding.VerifiedFinding, error) {
		return nil, types.NewError(types.AGENT_CALL_FAILED, "manager unavailable")
	}
	p := newTestPipeline(t, fa)

	_, out := runOne(t, p, input("F-1", finding.SeverityHigh))

	assert.Equal(t, finding.StatusNeedsReview, out.Status)
	assert.True(t, out.Escalated)
	require.NotNil(t, out.Verified)
	assert.Equal(t, finding.VerdictNeedsReview, out.Verified.Verdict)
	require.NotNil(t, out.Verified.Original)
	assert.Equal(t, finding.VerdictFalsePositive, out.Verified.Original.Verdict)
	assert.Equal(t, 50, out.Verified.Original.Confidence)
	assert.Equal(t, finding.ExploitNotApplicable, out.ExploitStatus)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "adjudicate: ")
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageTerminal}, out.Trail)
}

func TestRun_WhiteHatFailureKeepsVerdict(t *testing.T) {
	fa := newFakeAgents()
	fa.exploit = func(context.Context, *finding.Finding) (*finding.ExploitChainResult, error) {
		return nil, errors.New("model timed out")
	}
	p := newTestPipeline(t, fa)

	_, out := runOne(t, p, input("F-1", finding.SeverityCritical))

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.Equal(t, finding.ExploitNeedsReview, out.ExploitStatus)
	assert.Nil(t, out.Exploit)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "exploit: model timed out", out.Errors[0])
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageTerminal}, out.Trail)
}

func TestRun_VerifierFailure(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = func(context.Context, *finding.Finding) (*finding.VerifiedFinding, error) {
		return nil, types.NewError(types.AGENT_INVALID_RESPONSE, "verifier response contains no JSON")
	}
	p := newTestPipeline(t, fa)

	report, out := runOne(t, p, input("F-1", finding.SeverityHigh))

	assert.Equal(t, finding.StatusNeedsReview, out.Status)
	assert.Nil(t, out.Verified)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "verify: ")
	assert.Contains(t, out.Errors[0], "AGENT_INVALID_RESPONSE")
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageTerminal}, out.Trail)
	assert.Equal(t, 1, report.Tally.Statuses[finding.StatusNeedsReview])
}

func TestRun_ExclusionErrorDoesNotDropFinding(t *testing.T) {
	fa := newFakeAgents()
	broken := excludeFunc(func(*finding.Finding) (*exclusion.Decision, error) {
		return nil, errors.New("rule store unavailable")
	})
	p := newTestPipeline(t, fa, WithExcluder(broken))

	_, out := runOne(t, p, input("F-1", finding.SeverityMedium))

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.Equal(t, []string{"exclusion: rule store unavailable"}, out.Errors)
	assert.Equal(t, 1, fa.callsTo(agent.RoleVerifier))
}

func TestRun_ModelCallBudget(t *testing.T) {
	fa := newFakeAgents()
	p := newTestPipeline(t, fa, WithMaxModelCalls(1), WithWorkers(1))

	report, err := p.Run(context.Background(), []finding.Input{
		input("F-1", finding.SeverityMedium),
		input("F-2", finding.SeverityMedium),
		input("F-3", finding.SeverityMedium),
	})
	require.NoError(t, err)

	assert.Equal(t, finding.StatusConfirmed, report.Outcomes[0].Status)
	for _, out := range report.Outcomes[1:] {
		assert.Equal(t, finding.StatusNeedsReview, out.Status, out.Finding.ID)
		require.Len(t, out.Errors, 1)
		assert.Contains(t, out.Errors[0], string(types.PIPELINE_BUDGET_EXHAUSTED))
	}
	assert.Equal(t, map[string]int{agent.RoleVerifier: 1}, report.Tally.ModelCalls)
	assert.Equal(t, 1, fa.callsTo(agent.RoleVerifier))
}

func TestRun_ProviderBudgetExceeded(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = func(context.Context, *finding.Finding) (*finding.VerifiedFinding, error) {
		return nil, types.NewError(llm.ErrBudgetExceeded, "no calls remain")
	}
	p := newTestPipeline(t, fa)

	_, out := runOne(t, p, input("F-1", finding.SeverityHigh))

	assert.Equal(t, finding.StatusNeedsReview, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], string(types.PIPELINE_BUDGET_EXHAUSTED))
	assert.Contains(t, out.Errors[0], string(llm.ErrBudgetExceeded))
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fa := newFakeAgents()
	fa.assess = func(ctx context.Context, f *finding.Finding) (*finding.VerifiedFinding, error) {
		cancel()
		return nil, ctx.Err()
	}
	excluder := excludeFunc(func(f *finding.Finding) (*exclusion.Decision, error) {
		if f.ID == "X" {
			return &exclusion.Decision{FindingID: f.ID, Layer: exclusion.LayerRule, RuleID: "test-rule", Reason: "test"}, nil
		}
		return nil, nil
	})
	p := newTestPipeline(t, fa, WithExcluder(excluder), WithWorkers(1))

	report, err := p.Run(ctx, []finding.Input{
		input("X", finding.SeverityHigh),
		input("F-1", finding.SeverityHigh),
		input("F-2", finding.SeverityHigh),
		input("F-3", finding.SeverityHigh),
	})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.PIPELINE_CANCELLED))
	assert.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	require.Len(t, report.Outcomes, 4)
	for _, out := range report.Outcomes {
		assert.Equal(t, StageTerminal, out.Stage(), out.Finding.ID)
		assert.True(t, out.Status.IsTerminal(), out.Finding.ID)
	}
	assert.Equal(t, finding.StatusExcluded, report.Outcomes[0].Status)
	for _, out := range report.Outcomes[1:] {
		assert.Equal(t, finding.StatusNeedsReview, out.Status, out.Finding.ID)
		assert.NotEmpty(t, out.Errors, out.Finding.ID)
	}
	assert.Equal(t, 1, fa.callsTo(agent.RoleVerifier))
	assert.Equal(t, 1, report.Tally.Exclusions["test-rule"])
}

func TestRun_CancellationPublishesEveryTerminalEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{
		Types: []events.EventType{events.EventFindingTerminal, events.EventRunCancelled},
	}, 64)
	defer unsubscribe()

	fa := newFakeAgents()
	fa.assess = func(ctx context.Context, f *finding.Finding) (*finding.VerifiedFinding, error) {
		cancel()
		return nil, ctx.Err()
	}
	p := newTestPipeline(t, fa, WithPublisher(bus), WithWorkers(1))

	// repeated so a select between send and ctx.Done would lose some
	for i := 0; i < 20; i++ {
		inputs := []finding.Input{
			input("F-1", finding.SeverityHigh),
			input("F-2", finding.SeverityHigh),
			input("F-3", finding.SeverityHigh),
			input("F-4", finding.SeverityHigh),
		}
		_, err := p.Run(ctx, inputs)
		require.Error(t, err)

		terminal, cancelled := 0, 0
	drain:
		for {
			select {
			case e := <-ch:
				switch e.Type {
				case events.EventFindingTerminal:
					terminal++
				case events.EventRunCancelled:
					cancelled++
				}
			default:
				break drain
			}
		}
		assert.Equal(t, len(inputs), terminal)
		assert.Equal(t, 1, cancelled)
	}
}

func TestRun_EveryFindingEndsTerminalInInputOrder(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = func(ctx context.Context, f *finding.Finding) (*finding.VerifiedFinding, error) {
		var n int
		_, _ = fmt.Sscanf(f.ID, "F-%d", &n)
		switch n % 3 {
		case 0:
			return assessed(finding.VerdictConfirmed, 95)(ctx, f)
		case 1:
			return assessed(finding.VerdictFalsePositive, 90)(ctx, f)
		default:
			return assessed(finding.VerdictNeedsReview, 40)(ctx, f)
		}
	}
	excluder := excludeFunc(func(f *finding.Finding) (*exclusion.Decision, error) {
		var n int
		_, _ = fmt.Sscanf(f.ID, "F-%d", &n)
		if n%5 == 0 {
			return &exclusion.Decision{FindingID: f.ID, Layer: exclusion.LayerRule, RuleID: "every-fifth"}, nil
		}
		return nil, nil
	})
	p := newTestPipeline(t, fa, WithExcluder(excluder), WithWorkers(8))

	severities := []finding.Severity{finding.SeverityLow, finding.SeverityMedium, finding.SeverityHigh, finding.SeverityCritical}
	inputs := make([]finding.Input, 30)
	for i := range inputs {
		inputs[i] = input(fmt.Sprintf("F-%d", i+1), severities[i%len(severities)])
	}

	report, err := p.Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, len(inputs))

	total := 0
	for i, out := range report.Outcomes {
		assert.Equal(t, inputs[i].Finding.ID, out.Finding.ID)
		assert.Equal(t, StageTerminal, out.Stage())
		assert.True(t, out.Status.IsTerminal())
		assert.Equal(t, StageRaw, out.Trail[0])
		if out.Status != finding.StatusConfirmed {
			assert.Equal(t, finding.ExploitNotApplicable, out.ExploitStatus, out.Finding.ID)
		}
	}
	for _, n := range report.Tally.Statuses {
		total += n
	}
	assert.Equal(t, len(inputs), total)
	assert.Equal(t, 6, report.Tally.Statuses[finding.StatusExcluded])
	assert.Equal(t, 24, fa.callsTo(agent.RoleVerifier))
	assert.Equal(t, report.Tally.Escalations, fa.callsTo(agent.RoleManager))
}

func TestRun_InvalidInput(t *testing.T) {
	p := newTestPipeline(t, newFakeAgents())

	bad := input("", finding.SeverityHigh)
	report, err := p.Run(context.Background(), []finding.Input{input("F-1", finding.SeverityHigh), bad})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, types.HasCode(err, types.PIPELINE_INVALID_INPUT))
}

func TestRun_EmptyInput(t *testing.T) {
	p := newTestPipeline(t, newFakeAgents())

	report, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, report.Tally.TotalModelCalls())
	assert.Len(t, report.Tally.Statuses, len(finding.TerminalStatuses))
}

func TestRun_Legacy(t *testing.T) {
	t.Run("perspectives merged by manager", func(t *testing.T) {
		fa := newFakeAgents()
		p := newTestPipeline(t, fa, WithArchitecture(finding.ArchitectureLegacy))

		report, out := runOne(t, p, input("F-1", finding.SeverityHigh))

		assert.Equal(t, finding.StatusConfirmed, out.Status)
		assert.False(t, out.Escalated)
		require.NotNil(t, out.Verified)
		assert.Equal(t, finding.ArchitectureLegacy, out.Verified.Architecture)
		assert.True(t, out.Verified.Adjudicated)
		assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageAdjudicated, StageExploitChecked, StageTerminal}, out.Trail)

		for _, kind := range finding.AllPerspectives {
			assert.Equal(t, 1, fa.callsTo(agent.PerspectiveRole(kind)), kind)
		}
		assert.Equal(t, 1, fa.callsTo(agent.RoleManager))
		assert.Zero(t, fa.callsTo(agent.RoleVerifier))
		assert.Equal(t, 5, report.Tally.TotalModelCalls())
		assert.Equal(t, finding.ArchitectureLegacy, report.Architecture)
	})

	t.Run("merge failure falls back to majority", func(t *testing.T) {
		fa := newFakeAgents()
		fa.merge = func(context.Context, *finding.Finding, []agent.PerspectiveResult) (*finding.VerifiedFinding, error) {
			return nil, errors.New("manager unavailable")
		}
		p := newTestPipeline(t, fa, WithArchitecture(finding.ArchitectureLegacy))

		_, out := runOne(t, p, input("F-1", finding.SeverityHigh))

		assert.Equal(t, finding.StatusNeedsReview, out.Status)
		require.NotNil(t, out.Verified)
		require.NotNil(t, out.Verified.Original)
		assert.Equal(t, finding.VerdictConfirmed, out.Verified.Original.Verdict)
		assert.Equal(t, 85, out.Verified.Original.Confidence)
		assert.Equal(t, []string{"merge: manager unavailable"}, out.Errors)
		assert.Zero(t, fa.callsTo(agent.RoleWhiteHat))
	})

	t.Run("one failed perspective is dropped", func(t *testing.T) {
		fa := newFakeAgents()
		fa.analyze = func(_ context.Context, kind finding.PerspectiveKind, f *finding.Finding) (*agent.PerspectiveResult, error) {
			if kind == finding.PerspectiveEconomics {
				return nil, errors.New("timeout")
			}
			return &agent.PerspectiveResult{Kind: kind, Verdict: finding.VerdictConfirmed, Confidence: 90}, nil
		}
		p := newTestPipeline(t, fa, WithArchitecture(finding.ArchitectureLegacy))

		_, out := runOne(t, p, input("F-1", finding.SeverityMedium))

		assert.Equal(t, finding.StatusConfirmed, out.Status)
		assert.Equal(t, []string{string(finding.PerspectiveEconomics) + ": timeout"}, out.Errors)
	})

	t.Run("every perspective failing", func(t *testing.T) {
		fa := newFakeAgents()
		fa.analyze = func(context.Context, finding.PerspectiveKind, *finding.Finding) (*agent.PerspectiveResult, error) {
			return nil, errors.New("provider down")
		}
		p := newTestPipeline(t, fa, WithArchitecture(finding.ArchitectureLegacy))

		_, out := runOne(t, p, input("F-1", finding.SeverityHigh))

		assert.Equal(t, finding.StatusNeedsReview, out.Status)
		assert.Nil(t, out.Verified)
		assert.Len(t, out.Errors, len(finding.AllPerspectives)+1)
		assert.Zero(t, fa.callsTo(agent.RoleManager))
		assert.Equal(t, []Stage{StageRaw, StageCandidate, StageTerminal}, out.Trail)
	})
}

func TestRun_PublishesProgressEvents(t *testing.T) {
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(context.Background(), events.Filter{}, 1024)
	defer unsubscribe()

	p := newTestPipeline(t, newFakeAgents(), WithPublisher(bus))
	report, _ := runOne(t, p, input("F-1", finding.SeverityHigh))

	var got []events.Event
drain:
	for {
		select {
		case e := <-ch:
			got = append(got, e)
		default:
			break drain
		}
	}
	require.NotEmpty(t, got)
	assert.Equal(t, events.EventRunStarted, got[0].Type)
	assert.Equal(t, events.EventRunCompleted, got[len(got)-1].Type)

	stages := 0
	for _, e := range got {
		assert.Equal(t, report.RunID, e.RunID)
		switch e.Type {
		case events.EventFindingStage:
			stages++
			assert.Equal(t, "F-1", e.FindingID)
		case events.EventFindingTerminal:
			payload, ok := e.Payload.(events.TerminalPayload)
			require.True(t, ok)
			assert.Equal(t, finding.StatusConfirmed, payload.Status)
			assert.Equal(t, finding.ExploitVerified, payload.Exploit)
		}
	}
	assert.Equal(t, len(report.Outcomes[0].Trail)-2, stages)
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	p := newTestPipeline(t, newFakeAgents(), WithTracer(tp.Tracer("test")))
	runOne(t, p, input("F-1", finding.SeverityHigh))

	names := make(map[string]int)
	spans := recorder.Ended()
	for _, s := range spans {
		names[s.Name()]++
		assert.Equal(t, spans[0].SpanContext().TraceID(), s.SpanContext().TraceID())
	}
	assert.Equal(t, map[string]int{
		"pipeline.run":     1,
		"pipeline.finding": 1,
		"pipeline.agent":   2,
	}, names)
}

func TestApplyCoverage(t *testing.T) {
	fa := newFakeAgents()
	fa.assess = func(ctx context.Context, f *finding.Finding) (*finding.VerifiedFinding, error) {
		if f.ID == "F-2" {
			return assessed(finding.VerdictFalsePositive, 95)(ctx, f)
		}
		return assessed(finding.VerdictConfirmed, 95)(ctx, f)
	}
	p := newTestPipeline(t, fa)

	fee := input("F-1", finding.SeverityCritical)
	fee.Finding.Title = "Fee bypass in set_flash_loan_fee"
	fee.Finding.Description = "Admin can set the fee above `MAX_FEE`."
	fee.Finding.Location.Function = "set_flash_loan_fee"

	report, err := p.Run(context.Background(), []finding.Input{fee, input("F-2", finding.SeverityHigh)})
	require.NoError(t, err)

	specs := coverage.Specs{
		"flash": &coverage.ModuleSpec{
			Module:        "flash",
			Preconditions: []string{"set_flash_loan_fee requires new_fee <= MAX_FEE"},
		},
	}
	p.ApplyCoverage(context.Background(), report, specs)

	confirmed := report.Outcomes[0]
	require.NotNil(t, confirmed.Coverage)
	assert.Equal(t, finding.CoverageFull, confirmed.Coverage.Level)
	assert.InDelta(t, 4.0, confirmed.Coverage.AdjustedScore, 1e-9)
	assert.Nil(t, report.Outcomes[1].Coverage, "only confirmed findings are scored")

	require.Len(t, report.Risk, 1)
	assert.Equal(t, "flash", report.Risk[0].Module)
	assert.Equal(t, 1, report.Risk[0].Findings)
	assert.InDelta(t, 4.0, report.Risk[0].Total, 1e-9)
}

type scriptedCaller struct {
	mock.Mock
}

func (c *scriptedCaller) Complete(ctx context.Context, role string, messages []llm.Message, opts ...llm.CompletionOption) (*llm.CompletionResponse, error) {
	args := c.Called(role)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Provider: "mock", Message: llm.NewAssistantMessage(args.String(0))}, nil
}

func TestRun_WithModelBackedAgents(t *testing.T) {
	caller := &scriptedCaller{}
	caller.On("Complete", agent.RoleVerifier).
		Return(`{"verdict":"confirmed","confidence":72,"rationale":"settle_loan never compares amount with the coin value"}`, nil).Once()
	caller.On("Complete", agent.RoleManager).
		Return("```json\n"+`{"verdict":"confirmed","confidence":91,"justification":"the receipt amount is discarded"}`+"\n```", nil).Once()
	caller.On("Complete", agent.RoleWhiteHat).
		Return(`{"entry_point":"flash::settle_loan","steps":["borrow 100 SUI","call settle_loan with 1 SUI"],"impact":"pool drained","verified":true}`, nil).Once()

	logger := quietLogger()
	p, err := New(
		WithExcluder(exclusion.NewEngine(exclusion.WithLogger(logger))),
		WithAssessor(agent.NewVerifier(caller, agent.WithLogger(logger))),
		WithAdjudicator(agent.NewManager(caller, agent.WithLogger(logger))),
		WithExploitConfirmer(agent.NewWhiteHat(caller, agent.WithLogger(logger))),
		WithLogger(logger),
	)
	require.NoError(t, err)

	report, out := runOne(t, p, input("F-1", finding.SeverityHigh))
	caller.AssertExpectations(t)

	assert.Equal(t, finding.StatusConfirmed, out.Status)
	assert.True(t, out.Escalated)
	require.NotNil(t, out.Verified)
	assert.Equal(t, 91, out.Verified.Confidence)
	assert.True(t, out.Verified.Adjudicated)
	assert.Nil(t, out.Verified.Override)
	require.NotNil(t, out.Verified.Original)
	assert.Equal(t, 72, out.Verified.Original.Confidence)
	assert.Equal(t, finding.ExploitVerified, out.ExploitStatus)
	assert.Equal(t, []Stage{StageRaw, StageCandidate, StageVerified, StageAdjudicated, StageExploitChecked, StageTerminal}, out.Trail)
	assert.Equal(t, map[string]int{agent.RoleVerifier: 1, agent.RoleManager: 1, agent.RoleWhiteHat: 1}, report.Tally.ModelCalls)
}
