package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Complete(ctx context.Context, role string, messages []llm.Message, opts ...llm.CompletionOption) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, role, messages)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{
		Provider: "mock",
		Message:  llm.NewAssistantMessage(args.String(0)),
	}, nil
}

func (m *mockCaller) reply(role, content string) *mock.Call {
	return m.On("Complete", mock.Anything, role, mock.Anything).Return(content, nil).Once()
}

const settleSource = `module lending::flash {
    public fun settle_loan(pool: &mut Pool, c: Coin<SUI>, r: Receipt) {
        let Receipt { amount } = r;
        coin::put(&mut pool.balance, c);
    }
}`

func refundFinding() *finding.Finding {
	return &finding.Finding{
		ID:          "F-B",
		Title:       "No refund on repay",
		Severity:    finding.SeverityHigh,
		Description: "repay_loan keeps the excess payment instead of refunding it to the borrower.",
		Location:    finding.Location{Module: "flash", Function: "repay_loan"},
	}
}

func TestVerifier_ConfirmsBehaviourDespiteNameMismatch(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleVerifier, "```json\n"+`{
		"verdict": "confirmed",
		"confidence": 88,
		"rationale": "settle_loan deposits the whole coin and never returns the excess; this is the described repay path under another name.",
		"perspectives": {"pattern": "missing refund", "type_system": "no language protection", "economics": "borrowers overpay"}
	}`+"\n```")

	v := NewVerifier(caller)
	got, err := v.Assess(context.Background(), refundFinding(), finding.CodeContext{Code: settleSource})
	require.NoError(t, err)

	assert.Equal(t, "F-B", got.FindingID)
	assert.Equal(t, finding.VerdictConfirmed, got.Verdict)
	assert.Equal(t, 88, got.Confidence)
	assert.Equal(t, finding.ArchitectureSimplified, got.Architecture)
	assert.Equal(t, "missing refund", got.Perspectives.Pattern)
	assert.Nil(t, got.Original)
	assert.Nil(t, got.Override)

	msgs := caller.Calls[0].Arguments.Get(2).([]llm.Message)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "A naming mismatch alone is never grounds for rejection")
	assert.Contains(t, msgs[1].Content, "settle_loan")
	assert.Contains(t, msgs[1].Content, "No refund on repay")

	ctx := caller.Calls[0].Arguments.Get(0).(context.Context)
	assert.Equal(t, "F-B", contextkeys.GetFindingID(ctx))
	assert.Equal(t, RoleVerifier, contextkeys.GetRole(ctx))
	caller.AssertExpectations(t)
}

func TestVerifier_NamingOnlyRejectionGoesToReview(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleVerifier, `{"verdict":"false_positive","confidence":95,"rationale":"repay_loan does not exist","rejection_basis":"naming"}`)

	v := NewVerifier(caller, WithEscalationThreshold(80))
	got, err := v.Assess(context.Background(), refundFinding(), finding.CodeContext{Code: settleSource})
	require.NoError(t, err)
	assert.Equal(t, finding.VerdictNeedsReview, got.Verdict)
	assert.Equal(t, 79, got.Confidence)
	assert.Contains(t, got.Rationale, "naming mismatch")
}

func TestVerifier_BehaviouralRejectionStands(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleVerifier, `{"verdict":"false_positive","confidence":92,"rationale":"excess is refunded by coin::split","rejection_basis":"behavior"}`)

	got, err := NewVerifier(caller).Assess(context.Background(), refundFinding(), finding.CodeContext{})
	require.NoError(t, err)
	assert.Equal(t, finding.VerdictFalsePositive, got.Verdict)
	assert.Equal(t, 92, got.Confidence)
}

func TestVerifier_NormalisesResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
		verdict finding.Verdict
		conf    int
	}{
		{"fractional confidence", `{"verdict":"Confirmed","confidence":0.85}`, finding.VerdictConfirmed, 85},
		{"string confidence", `{"verdict":"false-positive","confidence":"70"}`, finding.VerdictFalsePositive, 70},
		{"out of range", `{"verdict":"confirmed","confidence":250}`, finding.VerdictConfirmed, 100},
		{"unknown verdict", `{"verdict":"probably","confidence":40}`, finding.VerdictNeedsReview, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &mockCaller{}
			caller.reply(RoleVerifier, tt.content)
			got, err := NewVerifier(caller).Assess(context.Background(), refundFinding(), finding.CodeContext{})
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, got.Verdict)
			assert.Equal(t, tt.conf, got.Confidence)
		})
	}
}

func TestVerifier_Errors(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleVerifier, "I am not sure.")
	_, err := NewVerifier(caller).Assess(context.Background(), refundFinding(), finding.CodeContext{})
	assert.True(t, types.HasCode(err, types.AGENT_INVALID_RESPONSE))

	caller = &mockCaller{}
	boom := types.NewError(llm.ErrAllAttemptsFailed, "all providers down")
	caller.On("Complete", mock.Anything, RoleVerifier, mock.Anything).Return("", boom)
	_, err = NewVerifier(caller).Assess(context.Background(), refundFinding(), finding.CodeContext{})
	assert.ErrorIs(t, err, boom)
}

func TestManager_OverrideKeepsOriginal(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleManager, `{"verdict":"confirmed","confidence":85,"justification":"the excess is kept by settle_loan"}`)

	prior := &finding.VerifiedFinding{
		FindingID:    "F-B",
		Verdict:      finding.VerdictFalsePositive,
		Confidence:   60,
		Rationale:    "function not found",
		Architecture: finding.ArchitectureSimplified,
		Perspectives: finding.Perspectives{Pattern: "p"},
	}
	got, err := NewManager(caller).Adjudicate(context.Background(), refundFinding(), prior, finding.CodeContext{Code: settleSource})
	require.NoError(t, err)

	assert.Equal(t, finding.VerdictConfirmed, got.Verdict)
	assert.Equal(t, 85, got.Confidence)
	assert.True(t, got.Adjudicated)
	require.NotNil(t, got.Original)
	assert.Equal(t, finding.Assessment{Verdict: finding.VerdictFalsePositive, Confidence: 60, Rationale: "function not found"}, *got.Original)
	require.NotNil(t, got.Override)
	assert.Equal(t, finding.ManagerOverride{
		OriginalVerdict:    finding.VerdictFalsePositive,
		OriginalConfidence: 60,
		NewVerdict:         finding.VerdictConfirmed,
		NewConfidence:      85,
		Justification:      "the excess is kept by settle_loan",
	}, *got.Override)
	assert.Equal(t, "p", got.Perspectives.Pattern)

	assert.Equal(t, finding.VerdictFalsePositive, prior.Verdict, "prior must not be mutated")
	assert.Nil(t, prior.Original)

	msgs := caller.Calls[0].Arguments.Get(2).([]llm.Message)
	assert.Contains(t, msgs[1].Content, "# Previous Verdict")
	assert.Contains(t, msgs[1].Content, "**Confidence**: 60")
}

func TestManager_ConfirmationHasNoOverride(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleManager, `{"verdict":"false_positive","confidence":90,"justification":"agree"}`)

	prior := &finding.VerifiedFinding{FindingID: "F-1", Verdict: finding.VerdictFalsePositive, Confidence: 55}
	got, err := NewManager(caller).Adjudicate(context.Background(), refundFinding(), prior, finding.CodeContext{})
	require.NoError(t, err)
	assert.Equal(t, finding.VerdictFalsePositive, got.Verdict)
	assert.Equal(t, 90, got.Confidence)
	assert.NotNil(t, got.Original)
	assert.Nil(t, got.Override)
}

func TestManager_Merge(t *testing.T) {
	caller := &mockCaller{}
	caller.reply(RoleManager, `{"verdict":"false_positive","confidence":75,"justification":"abort on overflow prevents it"}`)

	views := []PerspectiveResult{
		{Kind: finding.PerspectivePattern, Verdict: finding.VerdictConfirmed, Confidence: 80, Rationale: "classic overflow"},
		{Kind: finding.PerspectiveTypeSystem, Verdict: finding.VerdictFalsePositive, Confidence: 95, Rationale: "Move aborts"},
		{Kind: finding.PerspectiveEconomics, Verdict: finding.VerdictConfirmed, Confidence: 60, Rationale: "profitable"},
	}
	got, err := NewManager(caller).Merge(context.Background(), refundFinding(), views, finding.CodeContext{})
	require.NoError(t, err)

	assert.Equal(t, finding.ArchitectureLegacy, got.Architecture)
	assert.Equal(t, finding.VerdictFalsePositive, got.Verdict)
	require.NotNil(t, got.Original)
	assert.Equal(t, finding.VerdictConfirmed, got.Original.Verdict)
	assert.Equal(t, 70, got.Original.Confidence)
	require.NotNil(t, got.Override)
	assert.Equal(t, finding.VerdictConfirmed, got.Override.OriginalVerdict)
	assert.Equal(t, "Move aborts", got.Perspectives.TypeSystem)
	assert.Equal(t, "profitable", got.Perspectives.Economics)

	msgs := caller.Calls[0].Arguments.Get(2).([]llm.Message)
	assert.Contains(t, msgs[1].Content, "## type_system_expert")
}

func TestMajorityMerge(t *testing.T) {
	split := MajorityMerge("F-1", []PerspectiveResult{
		{Kind: finding.PerspectivePattern, Verdict: finding.VerdictConfirmed, Confidence: 90},
		{Kind: finding.PerspectiveTypeSystem, Verdict: finding.VerdictFalsePositive, Confidence: 60},
		{Kind: finding.PerspectiveEconomics, Verdict: finding.VerdictNeedsReview, Confidence: 30},
	})
	assert.Equal(t, finding.VerdictNeedsReview, split.Verdict)
	assert.Equal(t, 30, split.Confidence)

	none := MajorityMerge("F-2", nil)
	assert.Equal(t, finding.VerdictNeedsReview, none.Verdict)
	assert.Zero(t, none.Confidence)
}

func TestWhiteHat_ConfirmExploit(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		verified      bool
		inconsistency string
	}{
		{
			name: "consistent chain",
			content: `{"entry_point":"flash::settle_loan","steps":["borrow 100 SUI","call settle_loan with 150 SUI","excess stays in pool"],
				"impact":"borrower loses the excess","proof":"tx sketch","verified":true}`,
			verified: true,
		},
		{
			name:          "claimed but entry point unused",
			content:       `{"entry_point":"flash::drain","steps":["borrow"],"impact":"loss","verified":true}`,
			inconsistency: "entry point flash::drain is not used by any step",
		},
		{
			name:    "model could not build a chain",
			content: `{"entry_point":"","steps":[],"impact":"","verified":false}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &mockCaller{}
			caller.reply(RoleWhiteHat, tt.content)
			got, err := NewWhiteHat(caller).ConfirmExploit(context.Background(), refundFinding(), finding.CodeContext{Code: settleSource})
			require.NoError(t, err)
			assert.Equal(t, "F-B", got.FindingID)
			assert.Equal(t, tt.verified, got.Verified)
			assert.Equal(t, tt.inconsistency, got.Inconsistency)
		})
	}
}

func TestPerspectiveAnalyst_UsesPerspectiveRole(t *testing.T) {
	caller := &mockCaller{}
	caller.reply("type_system_expert", `{"verdict":"false_positive","confidence":90,"rationale":"aborts"}`)

	got, err := NewPerspectiveAnalyst(caller).Analyze(context.Background(), finding.PerspectiveTypeSystem, refundFinding(), finding.CodeContext{})
	require.NoError(t, err)
	assert.Equal(t, finding.PerspectiveTypeSystem, got.Kind)
	assert.Equal(t, finding.VerdictFalsePositive, got.Verdict)

	msgs := caller.Calls[0].Arguments.Get(2).([]llm.Message)
	assert.Contains(t, msgs[0].Content, "Move type-system expert")
	caller.AssertExpectations(t)
}

func TestBuildFindingPrompt(t *testing.T) {
	f := refundFinding()
	f.DetectionCues = []string{"refund", "excess"}

	p := BuildFindingPrompt(f, finding.CodeContext{Code: settleSource, File: "sources/flash.move"})
	assert.Contains(t, p, "**Severity**: HIGH")
	assert.Contains(t, p, "- refund\n")
	assert.Contains(t, p, "File: sources/flash.move")
	assert.Contains(t, p, "```move\n")

	empty := BuildFindingPrompt(f, finding.CodeContext{})
	assert.Contains(t, empty, "No code context was provided.")

	huge := BuildFindingPrompt(f, finding.CodeContext{Code: strings.Repeat("x", maxCodeChars+10)})
	assert.Contains(t, huge, "// ... truncated")
}

func TestPerspectiveSystemPrompts(t *testing.T) {
	for _, kind := range finding.AllPerspectives {
		p := PerspectiveSystemPrompt(kind)
		assert.Contains(t, p, `"verdict"`)
		assert.Greater(t, len(p), len(perspectiveOutput), kind)
	}
}
