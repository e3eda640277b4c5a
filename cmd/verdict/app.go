package main

import (
	"context"
	"errors"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zero-day-ai/verdict/internal/agent"
	"github.com/zero-day-ai/verdict/internal/config"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/database"
	"github.com/zero-day-ai/verdict/internal/events"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/llm/providers"
	"github.com/zero-day-ai/verdict/internal/observability"
	"github.com/zero-day-ai/verdict/internal/orchestrator"
)

const instrumentationName = "github.com/zero-day-ai/verdict"

// loadConfig loads the configuration named by the global flags. A missing
// default config file falls back to built-in defaults; a missing file the
// user named is an error.
func loadConfig() (*config.Config, error) {
	loader := config.NewConfigLoader(config.NewValidator())
	path, explicit := globalFlags.ConfigPath()

	var (
		cfg *config.Config
		err error
	)
	if explicit {
		cfg, err = loader.Load(path)
	} else {
		cfg, err = loader.LoadWithDefaults(path)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case globalFlags.Verbose:
		cfg.Logging.Level = "debug"
	case globalFlags.Quiet:
		cfg.Logging.Level = "error"
	}
	return cfg, nil
}

// app holds the process-wide collaborators built from one configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.PipelineMetrics

	db      *database.DB
	store   *exclusion.Store
	engine  *exclusion.Engine
	tracker *llm.DefaultTokenTracker

	closers []func(context.Context) error
}

// newApp sets up logging, and tracing and metrics when telemetry is true.
func newApp(ctx context.Context, cfg *config.Config, telemetry bool) (*app, error) {
	logger, logCloser, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NoopPipelineMetrics(),
		tracker: llm.NewTokenTracker(),
	}
	a.onClose(func(context.Context) error { return logCloser.Close() })
	if !telemetry {
		a.tracerProvider = sdktrace.NewTracerProvider()
		return a, nil
	}

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.tracerProvider = tp
	a.onClose(func(ctx context.Context) error { return observability.ShutdownTracing(ctx, tp) })

	mp, shutdown, err := observability.InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.onClose(shutdown)
	if a.metrics, err = observability.NewPipelineMetrics(mp.Meter(observability.MeterName)); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens and migrates the exclusion database.
func (a *app) openStore(ctx context.Context) (*exclusion.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	db, err := database.Open(a.cfg.Exclusions.Database)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.db = db
	a.store = exclusion.NewStore(db)
	a.onClose(func(context.Context) error { return db.Close() })
	return a.store, nil
}

// openEngine builds the exclusion engine: built-in catalogue, the custom
// rules file, the persisted custom rules and overrides, then the rules the
// config disables.
func (a *app) openEngine(ctx context.Context) (*exclusion.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	engine := exclusion.NewEngine(
		exclusion.WithOverlapThreshold(a.cfg.Audit.OverlapThreshold),
		exclusion.WithScope(a.cfg.Audit.Chain, a.cfg.Audit.Project),
		exclusion.WithLogger(a.logger),
	)
	if path := a.cfg.Exclusions.CustomFile; path != "" {
		customs, err := exclusion.LoadCustomFile(path)
		if err != nil {
			return nil, err
		}
		for _, c := range customs {
			if err := engine.AddCustom(c); err != nil {
				return nil, err
			}
		}
	}
	if err := store.LoadInto(ctx, engine); err != nil {
		return nil, err
	}
	for _, id := range a.cfg.Exclusions.Disabled {
		if err := engine.SetEnabled(id, false); err != nil {
			a.logger.WarnContext(ctx, "unknown rule in exclusions.disabled", "rule_id", id)
		}
	}
	a.engine = engine
	return engine, nil
}

// persistCounts adds the triggers of this process to the stored counters.
func (a *app) persistCounts(ctx context.Context) error {
	if a.engine == nil || a.store == nil {
		return nil
	}
	return a.store.AddTriggerCounts(ctx, a.engine.SessionCounts())
}

// newClient builds the provider registry and the failover client for the
// roles the configuration requires.
func (a *app) newClient(ctx context.Context) (*llm.Client, error) {
	registry, err := providers.NewRegistry(ctx, a.cfg.Providers, a.cfg.ProvidersInUse())
	if err != nil {
		return nil, err
	}
	return llm.NewClient(registry, a.cfg.Bindings(),
		llm.WithRetryPolicy(a.cfg.Audit.Retry),
		llm.WithCallTimeout(a.cfg.Audit.CallTimeout),
		llm.WithRateLimits(llm.NewRateLimits(a.cfg.Providers)),
		llm.WithTracker(a.tracker),
		llm.WithLogger(a.logger),
		llm.WithTracer(a.tracerProvider.Tracer(instrumentationName)),
	), nil
}

// newCoverage builds the analyzer and aggregator. caller may be nil when
// the model judge is disabled.
func (a *app) newCoverage(caller llm.Caller) (*coverage.Analyzer, *coverage.Aggregator, error) {
	aggregator, err := coverage.NewAggregator(a.cfg.Coverage.Risk)
	if err != nil {
		return nil, nil, err
	}
	opts := []coverage.AnalyzerOption{
		coverage.WithFullCoverageRatio(a.cfg.Coverage.FullRatio),
		coverage.WithAnalyzerLogger(a.logger),
	}
	if a.cfg.Coverage.Judge && caller != nil {
		opts = append(opts, coverage.WithJudge(coverage.NewLLMJudge(caller, coverage.RoleCoverageJudge)))
	}
	return coverage.NewAnalyzer(opts...), aggregator, nil
}

// newPipeline wires the agents, exclusion engine and telemetry into a
// pipeline publishing to pub.
func (a *app) newPipeline(ctx context.Context, pub events.Publisher) (*orchestrator.Pipeline, error) {
	engine, err := a.openEngine(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return nil, err
	}
	gate, err := a.cfg.Audit.SeverityGate()
	if err != nil {
		return nil, err
	}
	analyzer, aggregator, err := a.newCoverage(client)
	if err != nil {
		return nil, err
	}

	agentOpts := []agent.Option{
		agent.WithLogger(a.logger),
		agent.WithEscalationThreshold(a.cfg.Audit.EscalationThreshold),
	}
	return orchestrator.New(
		orchestrator.WithArchitecture(a.cfg.Audit.Architecture),
		orchestrator.WithExcluder(engine),
		orchestrator.WithAssessor(agent.NewVerifier(client, agentOpts...)),
		orchestrator.WithAdjudicator(agent.NewManager(client, agentOpts...)),
		orchestrator.WithExploitConfirmer(agent.NewWhiteHat(client, agentOpts...)),
		orchestrator.WithAnalyst(agent.NewPerspectiveAnalyst(client, agentOpts...)),
		orchestrator.WithEscalationThreshold(a.cfg.Audit.EscalationThreshold),
		orchestrator.WithSeverityGate(gate),
		orchestrator.WithWorkers(a.cfg.Audit.Workers),
		orchestrator.WithMaxModelCalls(a.cfg.Audit.MaxModelCalls),
		orchestrator.WithCoverage(analyzer, aggregator),
		orchestrator.WithPublisher(pub),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(a.tracerProvider.Tracer(instrumentationName)),
		orchestrator.WithLogger(a.logger),
	)
}
