package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/contextkeys"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/events"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/observability"
	"github.com/zero-day-ai/verdict/internal/types"
)

// DefaultWorkers is the number of findings processed concurrently.
const DefaultWorkers = 4

// Excluder decides whether a finding is dropped before any model call.
type Excluder interface {
	Evaluate(ctx context.Context, f *finding.Finding, code finding.CodeContext, opts exclusion.EvalOptions) (*exclusion.Decision, error)
}

// Pipeline drives findings through exclusion, verification, adjudication
// and exploit confirmation. It is safe to call Run concurrently.
type Pipeline struct {
	arch      finding.ArchitectureMode
	excluder  Excluder
	assessor  agent.Assessor
	manager   agent.Adjudicator
	whitehat  agent.ExploitConfirmer
	analyst   agent.Analyst
	threshold int
	gate      finding.SeveritySet
	workers   int
	maxCalls  int

	analyzer   *coverage.Analyzer
	aggregator *coverage.Aggregator

	publisher events.Publisher
	metrics   *observability.PipelineMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchitecture selects the simplified or legacy topology.
func WithArchitecture(mode finding.ArchitectureMode) Option {
	return func(p *Pipeline) {
		if mode != "" {
			p.arch = mode
		}
	}
}

// WithExcluder sets the exclusion stage.
func WithExcluder(e Excluder) Option {
	return func(p *Pipeline) {
		p.excluder = e
	}
}

// WithAssessor sets the Verifier of the simplified topology.
func WithAssessor(a agent.Assessor) Option {
	return func(p *Pipeline) {
		p.assessor = a
	}
}

// WithAdjudicator sets the Manager.
func WithAdjudicator(a agent.Adjudicator) Option {
	return func(p *Pipeline) {
		p.manager = a
	}
}

// WithExploitConfirmer sets the WhiteHat.
func WithExploitConfirmer(c agent.ExploitConfirmer) Option {
	return func(p *Pipeline) {
		p.whitehat = c
	}
}

// WithAnalyst sets the perspective analyst of the legacy topology.
func WithAnalyst(a agent.Analyst) Option {
	return func(p *Pipeline) {
		p.analyst = a
	}
}

// WithEscalationThreshold sets the confidence below which the Manager
// reviews a verdict.
func WithEscalationThreshold(threshold int) Option {
	return func(p *Pipeline) {
		p.threshold = threshold
	}
}

// WithSeverityGate sets the severities eligible for exploit confirmation.
func WithSeverityGate(gate finding.SeveritySet) Option {
	return func(p *Pipeline) {
		if gate == nil {
			gate = finding.NewSeveritySet()
		}
		p.gate = gate
	}
}

// WithWorkers bounds the findings processed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.workers = n
	}
}

// WithMaxModelCalls bounds the agent calls of one run. Zero means
// unlimited.
func WithMaxModelCalls(n int) Option {
	return func(p *Pipeline) {
		p.maxCalls = n
	}
}

// WithCoverage sets the analyzer and aggregator used by ApplyCoverage.
func WithCoverage(analyzer *coverage.Analyzer, aggregator *coverage.Aggregator) Option {
	return func(p *Pipeline) {
		if analyzer != nil {
			p.analyzer = analyzer
		}
		if aggregator != nil {
			p.aggregator = aggregator
		}
	}
}

// WithPublisher sets where progress events go.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTracer sets the tracer for run, finding and agent spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a pipeline and checks that every collaborator the selected
// topology needs is present.
func New(opts ...Option) (*Pipeline, error) {
	aggregator, err := coverage.NewAggregator(coverage.DefaultRiskPolicy())
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		arch:       finding.ArchitectureSimplified,
		threshold:  agent.DefaultEscalationThreshold,
		gate:       finding.NewSeveritySet(finding.SeverityHigh, finding.SeverityCritical),
		workers:    DefaultWorkers,
		analyzer:   coverage.NewAnalyzer(),
		aggregator: aggregator,
		metrics:    observability.NoopPipelineMetrics(),
		tracer:     otel.Tracer("github.com/zero-day-ai/verdict/internal/orchestrator"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	invalid := func(msg string) error {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, msg)
	}
	switch {
	case !p.arch.IsValid():
		return nil, invalid(fmt.Sprintf("unknown architecture %q", p.arch))
	case p.excluder == nil:
		return nil, invalid("pipeline requires an excluder")
	case p.manager == nil:
		return nil, invalid("pipeline requires a manager")
	case p.whitehat == nil:
		return nil, invalid("pipeline requires an exploit confirmer")
	case p.arch == finding.ArchitectureSimplified && p.assessor == nil:
		return nil, invalid("simplified architecture requires a verifier")
	case p.arch == finding.ArchitectureLegacy && p.analyst == nil:
		return nil, invalid("legacy architecture requires a perspective analyst")
	case p.threshold < 0 || p.threshold > 100:
		return nil, invalid(fmt.Sprintf("escalation threshold %d outside [0,100]", p.threshold))
	case p.workers < 1:
		return nil, invalid(fmt.Sprintf("workers must be at least 1 (got %d)", p.workers))
	case p.maxCalls < 0:
		return nil, invalid(fmt.Sprintf("max model calls must not be negative (got %d)", p.maxCalls))
	}
	return p, nil
}

// Architecture returns the configured topology.
func (p *Pipeline) Architecture() finding.ArchitectureMode {
	return p.arch
}

// runState is the state shared by the workers of one run.
type runState struct {
	id    types.ID
	max   int64
	calls atomic.Int64

	mu     sync.Mutex
	byRole map[string]int
}

func newRunState(maxCalls int) *runState {
	return &runState{
		id:     types.NewID(),
		max:    int64(maxCalls),
		byRole: make(map[string]int),
	}
}

// acquire reserves one model call for role, or reports the budget spent.
func (rs *runState) acquire(role string) bool {
	if n := rs.calls.Add(1); rs.max > 0 && n > rs.max {
		rs.calls.Add(-1)
		return false
	}
	rs.mu.Lock()
	rs.byRole[role]++
	rs.mu.Unlock()
	return true
}

func (rs *runState) modelCalls() map[string]int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int, len(rs.byRole))
	for role, n := range rs.byRole {
		out[role] = n
	}
	return out
}

// Run processes inputs and returns one outcome per input, in input order.
//
// When ctx is cancelled no further findings are scheduled; every finding
// that has not reached a terminal status ends as needs_review, the partial
// report is returned and the error carries PIPELINE_CANCELLED.
func (p *Pipeline) Run(ctx context.Context, inputs []finding.Input) (*Report, error) {
	for i := range inputs {
		if err := inputs[i].Finding.Validate(); err != nil {
			return nil, types.WrapError(types.PIPELINE_INVALID_INPUT, fmt.Sprintf("input %d", i), err)
		}
	}

	rs := newRunState(p.maxCalls)
	report := &Report{
		RunID:        rs.id,
		Architecture: p.arch,
		StartedAt:    time.Now(),
		Outcomes:     make([]*Outcome, len(inputs)),
	}
	for i := range inputs {
		report.Outcomes[i] = newOutcome(inputs[i].Finding)
	}

	ctx = contextkeys.WithRunID(ctx, rs.id.String())
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("verdict.run_id", rs.id.String()),
		attribute.String("verdict.architecture", string(p.arch)),
		attribute.Int("verdict.findings", len(inputs)),
	))
	defer span.End()

	p.logger.InfoContext(ctx, "audit run starting",
		"findings", len(inputs),
		"architecture", p.arch,
		"workers", p.workers,
		"max_model_calls", p.maxCalls,
	)
	p.publish(ctx, events.EventRunStarted, events.RunStartedPayload{
		Findings:     len(inputs),
		Architecture: p.arch,
		Workers:      p.workers,
	})

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range inputs {
		if ctx.Err() != nil {
			break
		}
		in, out := &inputs[i], report.Outcomes[i]
		g.Go(func() error {
			p.process(ctx, rs, in, out)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range report.Outcomes {
		if !out.machine.terminal() {
			out.addError("schedule", context.Cause(ctx))
			p.finish(contextkeys.WithFindingID(ctx, out.Finding.ID), out, finding.StatusNeedsReview, time.Time{})
		}
	}

	report.Duration = time.Since(report.StartedAt)
	report.Tally = buildTally(report.Outcomes, rs.modelCalls())
	completed := events.RunCompletedPayload{
		Counts:     report.Tally.Statuses,
		ModelCalls: report.Tally.TotalModelCalls(),
		Duration:   report.Duration,
	}

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		span.SetStatus(codes.Error, "cancelled")
		p.logger.WarnContext(ctx, "audit run cancelled", "duration", report.Duration)
		p.publish(context.WithoutCancel(ctx), events.EventRunCancelled, completed)
		return report, types.WrapError(types.PIPELINE_CANCELLED, "audit run cancelled", err)
	}

	p.logger.InfoContext(ctx, "audit run completed",
		"duration", report.Duration,
		"confirmed", report.Tally.Statuses[finding.StatusConfirmed],
		"false_positive", report.Tally.Statuses[finding.StatusFalsePositive],
		"excluded", report.Tally.Statuses[finding.StatusExcluded],
		"needs_review", report.Tally.Statuses[finding.StatusNeedsReview],
		"model_calls", completed.ModelCalls,
	)
	p.publish(ctx, events.EventRunCompleted, completed)
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, rs *runState, in *finding.Input, out *Outcome) {
	start := time.Now()
	ctx = contextkeys.WithFindingID(ctx, out.Finding.ID)
	ctx, span := p.tracer.Start(ctx, "pipeline.finding", trace.WithAttributes(
		attribute.String("verdict.finding_id", out.Finding.ID),
		attribute.String("verdict.severity", string(out.Finding.Severity)),
	))
	defer span.End()

	status := p.evaluate(ctx, rs, &out.Finding, in.Context, out)
	span.SetAttributes(attribute.String("verdict.status", string(status)))
	p.finish(ctx, out, status, start)
}

// evaluate walks one finding up to, but not including, the terminal stage
// and returns the status it ends in.
func (p *Pipeline) evaluate(ctx context.Context, rs *runState, f *finding.Finding, code finding.CodeContext, out *Outcome) finding.Status {
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, out, "schedule", err)
	}

	decision, err := p.excluder.Evaluate(ctx, f, code, exclusion.EvalOptions{})
	switch {
	case err != nil && ctx.Err() != nil:
		return p.fail(ctx, out, "exclusion", err)
	case err != nil:
		p.recordError(ctx, out, "exclusion", err)
	case decision != nil:
		out.Exclusion = decision
		if err := p.move(ctx, out, StageExcluded); err != nil {
			return p.fail(ctx, out, "transition", err)
		}
		p.metrics.Exclusion(ctx, decision.RuleID, string(decision.Layer))
		return finding.StatusExcluded
	}
	if err := p.move(ctx, out, StageCandidate); err != nil {
		return p.fail(ctx, out, "transition", err)
	}

	var vf *finding.VerifiedFinding
	if p.arch == finding.ArchitectureLegacy {
		vf, err = p.verifyLegacy(ctx, rs, f, code, out)
	} else {
		vf, err = p.verify(ctx, rs, f, code)
	}
	if err != nil {
		return p.fail(ctx, out, "verify", err)
	}
	out.Verified = vf
	if err := p.move(ctx, out, StageVerified); err != nil {
		return p.fail(ctx, out, "transition", err)
	}

	if p.arch == finding.ArchitectureSimplified && p.needsEscalation(vf) {
		out.Escalated = true
		p.metrics.Escalation(ctx)
		vf = p.escalate(ctx, rs, f, vf, code, out)
		if ctx.Err() != nil {
			return p.fail(ctx, out, "adjudicate", ctx.Err())
		}
		out.Verified = vf
	}
	if vf.Adjudicated {
		if err := p.move(ctx, out, StageAdjudicated); err != nil {
			return p.fail(ctx, out, "transition", err)
		}
		if vf.Override != nil {
			p.metrics.Override(ctx)
		}
	}

	if err := p.checkExploit(ctx, rs, f, code, vf, out); err != nil {
		return p.fail(ctx, out, "exploit", err)
	}
	return vf.Verdict.Status()
}

func (p *Pipeline) needsEscalation(vf *finding.VerifiedFinding) bool {
	return vf.Verdict == finding.VerdictNeedsReview || vf.Confidence < p.threshold
}

func (p *Pipeline) verify(ctx context.Context, rs *runState, f *finding.Finding, code finding.CodeContext) (*finding.VerifiedFinding, error) {
	var vf *finding.VerifiedFinding
	err := p.call(ctx, rs, agent.RoleVerifier, func(ctx context.Context) error {
		var err error
		vf, err = p.assessor.Assess(ctx, f, code)
		return err
	})
	return vf, err
}

// escalate asks the Manager to review vf. When the Manager cannot answer the
// verifier's result stands with the verdict set to needs_review.
func (p *Pipeline) escalate(ctx context.Context, rs *runState, f *finding.Finding, vf *finding.VerifiedFinding, code finding.CodeContext, out *Outcome) *finding.VerifiedFinding {
	var adjudicated *finding.VerifiedFinding
	err := p.call(ctx, rs, agent.RoleManager, func(ctx context.Context) error {
		var err error
		adjudicated, err = p.manager.Adjudicate(ctx, f, vf, code)
		return err
	})
	if err == nil {
		return adjudicated
	}

	p.recordError(ctx, out, "adjudicate", err)
	fallback := vf.Clone()
	original := vf.Assessment()
	fallback.Original = &original
	fallback.Verdict = finding.VerdictNeedsReview
	return fallback
}

// checkExploit runs the WhiteHat for confirmed findings inside the severity
// gate. It only returns an error when ctx is done.
func (p *Pipeline) checkExploit(ctx context.Context, rs *runState, f *finding.Finding, code finding.CodeContext, vf *finding.VerifiedFinding, out *Outcome) error {
	if vf.Verdict != finding.VerdictConfirmed {
		out.ExploitStatus = finding.ExploitNotApplicable
		return nil
	}
	if !p.gate.Contains(f.Severity) {
		out.ExploitStatus = finding.ExploitNeedsReview
		p.logger.DebugContext(ctx, "severity outside exploit gate", "severity", f.Severity)
		return nil
	}

	var chain *finding.ExploitChainResult
	err := p.call(ctx, rs, agent.RoleWhiteHat, func(ctx context.Context) error {
		var err error
		chain, err = p.whitehat.ConfirmExploit(ctx, f, code)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		out.ExploitStatus = finding.ExploitNeedsReview
		p.recordError(ctx, out, "exploit", err)
		p.metrics.ExploitCheck(ctx, string(out.ExploitStatus))
		return nil
	}

	out.Exploit = chain
	out.ExploitStatus = finding.ExploitUnverified
	if chain.Verified {
		out.ExploitStatus = finding.ExploitVerified
	}
	p.metrics.ExploitCheck(ctx, string(out.ExploitStatus))
	return p.move(ctx, out, StageExploitChecked)
}

// call spends one unit of the model-call budget and runs fn under an agent
// span.
func (p *Pipeline) call(ctx context.Context, rs *runState, role string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rs.acquire(role) {
		return types.NewError(types.PIPELINE_BUDGET_EXHAUSTED,
			fmt.Sprintf("model call budget of %d exhausted before %s call", rs.max, role))
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.agent", trace.WithAttributes(
		attribute.String("verdict.role", role),
	))
	defer span.End()

	err := fn(ctx)
	p.metrics.ModelCall(ctx, role, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent call failed")
		if types.HasCode(err, llm.ErrBudgetExceeded) {
			return types.WrapError(types.PIPELINE_BUDGET_EXHAUSTED, "provider budget exhausted", err)
		}
	}
	return err
}

func (p *Pipeline) move(ctx context.Context, out *Outcome, to Stage) error {
	from := out.Stage()
	if err := out.advance(to); err != nil {
		p.logger.ErrorContext(ctx, "illegal stage transition", "from", from, "to", to)
		return err
	}
	p.publish(ctx, events.EventFindingStage, events.StagePayload{From: string(from), To: string(to)})
	return nil
}

// fail records err and returns the status of a finding that could not be
// decided.
func (p *Pipeline) fail(ctx context.Context, out *Outcome, stage string, err error) finding.Status {
	p.recordError(ctx, out, stage, err)
	return finding.StatusNeedsReview
}

func (p *Pipeline) recordError(ctx context.Context, out *Outcome, stage string, err error) {
	out.addError(stage, err)
	p.logger.WarnContext(ctx, "finding stage failed", "stage", stage, "error", err)
	p.publish(ctx, events.EventFindingError, events.ErrorPayload{Stage: stage, Error: err.Error()})
}

// finish moves out to the terminal stage with status. A zero start leaves
// the duration unset.
func (p *Pipeline) finish(ctx context.Context, out *Outcome, status finding.Status, start time.Time) {
	if err := out.advance(StageTerminal); err != nil {
		p.logger.ErrorContext(ctx, "finding finished twice", "error", err)
		return
	}
	out.Status = status
	out.Finding.Status = status
	if status != finding.StatusConfirmed {
		out.ExploitStatus = finding.ExploitNotApplicable
	}
	if !start.IsZero() {
		out.Duration = time.Since(start)
	}

	payload := events.TerminalPayload{Status: status, Exploit: out.ExploitStatus}
	if out.Verified != nil {
		payload.Confidence = out.Verified.Confidence
	}
	if out.Exclusion != nil {
		payload.RuleID = out.Exclusion.RuleID
	}
	p.metrics.FindingTerminal(ctx, string(status), out.Duration)
	// delivered even when the run was cancelled
	p.publish(context.WithoutCancel(ctx), events.EventFindingTerminal, payload)
	p.logger.InfoContext(ctx, "finding resolved",
		"status", status,
		"confidence", payload.Confidence,
		"exploit", out.ExploitStatus,
	)
}

func (p *Pipeline) publish(ctx context.Context, typ events.EventType, payload any) {
	if p.publisher == nil {
		return
	}
	traceID, spanID := observability.TraceIDs(ctx)
	err := p.publisher.Publish(ctx, events.Event{
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     types.ID(contextkeys.GetRunID(ctx)),
		FindingID: contextkeys.GetFindingID(ctx),
		TraceID:   traceID,
		SpanID:    spanID,
		Payload:   payload,
	})
	if err != nil {
		p.logger.DebugContext(ctx, "event not published", "type", typ, "error", err)
	}
}
