package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metric names.
const (
	MetricFindings        = "verdict.findings"
	MetricModelCalls      = "verdict.model.calls"
	MetricEscalations     = "verdict.escalations"
	MetricOverrides       = "verdict.overrides"
	MetricExclusions      = "verdict.exclusions"
	MetricExploitChecks   = "verdict.exploit.checks"
	MetricFindingDuration = "verdict.finding.duration"
)

// MeterName is the instrumentation scope of the pipeline meter.
const MeterName = "github.com/zero-day-ai/verdict"

// ShutdownFunc flushes and stops an exporter.
type ShutdownFunc func(context.Context) error

// InitMetrics creates a meter provider for cfg. The prometheus provider also
// starts an HTTP server on cfg.Listen serving /metrics.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (metric.MeterProvider, ShutdownFunc, error) {
	noShutdown := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop.NewMeterProvider(), noShutdown, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	switch strings.ToLower(cfg.Provider) {
	case "prometheus":
		return initPrometheus(cfg.Listen)
	default:
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
		return provider, provider.Shutdown, nil
	}
}

func initPrometheus(listen string) (metric.MeterProvider, ShutdownFunc, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()

	shutdown := func(ctx context.Context) error {
		return errors.Join(srv.Shutdown(ctx), provider.Shutdown(ctx))
	}
	return provider, shutdown, nil
}

// PipelineMetrics holds the instruments the orchestrator records to.
type PipelineMetrics struct {
	findings      metric.Int64Counter
	modelCalls    metric.Int64Counter
	escalations   metric.Int64Counter
	overrides     metric.Int64Counter
	exclusions    metric.Int64Counter
	exploitChecks metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewPipelineMetrics creates the instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.findings, MetricFindings, "Findings reaching a terminal status"},
		{&m.modelCalls, MetricModelCalls, "Model calls made by agent role"},
		{&m.escalations, MetricEscalations, "Verdicts escalated to the manager"},
		{&m.overrides, MetricOverrides, "Verdicts changed by the manager"},
		{&m.exclusions, MetricExclusions, "Findings excluded without a model call"},
		{&m.exploitChecks, MetricExploitChecks, "Exploit-chain checks by resulting status"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	m.duration, err = meter.Float64Histogram(MetricFindingDuration,
		metric.WithDescription("Time from scheduling to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", MetricFindingDuration, err)
	}
	return &m, nil
}

// NoopPipelineMetrics returns instruments that record nothing.
func NoopPipelineMetrics() *PipelineMetrics {
	m, _ := NewPipelineMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// FindingTerminal records a finding reaching status after d.
func (m *PipelineMetrics) FindingTerminal(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.findings.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// ModelCall records one agent call for role.
func (m *PipelineMetrics) ModelCall(ctx context.Context, role string, ok bool) {
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Bool("ok", ok),
	))
}

// Escalation records a Manager adjudication.
func (m *PipelineMetrics) Escalation(ctx context.Context) {
	m.escalations.Add(ctx, 1)
}

// Override records a Manager verdict change.
func (m *PipelineMetrics) Override(ctx context.Context) {
	m.overrides.Add(ctx, 1)
}

// Exclusion records a finding excluded by ruleID.
func (m *PipelineMetrics) Exclusion(ctx context.Context, ruleID, layer string) {
	m.exclusions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_id", ruleID),
		attribute.String("layer", layer),
	))
}

// ExploitCheck records the exploit status assigned to a confirmed finding.
func (m *PipelineMetrics) ExploitCheck(ctx context.Context, status string) {
	m.exploitChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
