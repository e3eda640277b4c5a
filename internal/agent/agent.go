// Package agent implements the model-backed verification roles: the Verifier,
// the Manager, the WhiteHat and the three legacy perspective analysts.
//
// Each role is a small capability interface. The implementations here send
// prompts through an llm.Caller, which resolves the role name to the
// configured provider binding, so swapping providers never touches agent code.
package agent

import (
	"context"
	"log/slog"

	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
)

// Role names used as llm.Caller bindings.
const (
	RoleVerifier = "verifier"
	RoleManager  = "manager"
	RoleWhiteHat = "whitehat"
)

// PerspectiveRole returns the binding name of a legacy perspective analyst.
func PerspectiveRole(kind finding.PerspectiveKind) string {
	return string(kind)
}

// DefaultEscalationThreshold is the confidence below which the Manager
// reviews a verdict.
const DefaultEscalationThreshold = 80

// Assessor produces a unified verdict for a finding.
type Assessor interface {
	Assess(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.VerifiedFinding, error)
}

// Adjudicator reviews verdicts. Adjudicate is the conditional tie-breaker of
// the simplified topology; Merge is the unconditional merger of the legacy
// one.
type Adjudicator interface {
	Adjudicate(ctx context.Context, f *finding.Finding, prior *finding.VerifiedFinding, code finding.CodeContext) (*finding.VerifiedFinding, error)
	Merge(ctx context.Context, f *finding.Finding, views []PerspectiveResult, code finding.CodeContext) (*finding.VerifiedFinding, error)
}

// ExploitConfirmer builds exploit chains.
type ExploitConfirmer interface {
	ConfirmExploit(ctx context.Context, f *finding.Finding, code finding.CodeContext) (*finding.ExploitChainResult, error)
}

// Analyst produces a single-perspective assessment for legacy mode.
type Analyst interface {
	Analyze(ctx context.Context, kind finding.PerspectiveKind, f *finding.Finding, code finding.CodeContext) (*PerspectiveResult, error)
}

// PerspectiveResult is one analyst's view of a finding.
type PerspectiveResult struct {
	Kind       finding.PerspectiveKind `json:"kind"`
	Verdict    finding.Verdict         `json:"verdict"`
	Confidence int                     `json:"confidence"`
	Rationale  string                  `json:"rationale"`
}

// Option configures the model-backed agents.
type Option func(*base)

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRole overrides the binding name the agent calls.
func WithRole(role string) Option {
	return func(b *base) {
		if role != "" {
			b.role = role
		}
	}
}

// WithEscalationThreshold sets the threshold used to cap the confidence of
// naming-only rejections.
func WithEscalationThreshold(threshold int) Option {
	return func(b *base) {
		if threshold > 0 {
			b.threshold = threshold
		}
	}
}

// WithMaxTokens bounds each response.
func WithMaxTokens(n int) Option {
	return func(b *base) {
		b.maxTokens = n
	}
}

// base carries what every model-backed agent needs.
type base struct {
	caller    llm.Caller
	role      string
	logger    *slog.Logger
	threshold int
	maxTokens int
}

func newBase(caller llm.Caller, role string, opts []Option) base {
	b := base{
		caller:    caller,
		role:      role,
		logger:    slog.Default(),
		threshold: DefaultEscalationThreshold,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// complete sends one prompt for f and returns the raw response text.
func (b *base) complete(ctx context.Context, role string, f *finding.Finding, system, user string) (string, error) {
	ctx = contextkeys.WithFindingID(ctx, f.ID)
	ctx = contextkeys.WithRole(ctx, role)

	opts := []llm.CompletionOption{llm.WithMetadataOption("finding_id", f.ID)}
	if b.maxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(b.maxTokens))
	}

	resp, err := b.caller.Complete(ctx, role, []llm.Message{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(user),
	}, opts...)
	if err != nil {
		return "", err
	}

	b.logger.DebugContext(ctx, "agent response received",
		"role", role,
		"finding_id", f.ID,
		"provider", resp.Provider,
		"model", resp.Model,
		"attempts", resp.Attempts,
		"fallback", resp.Fallback,
	)
	return resp.Message.Content, nil
}
