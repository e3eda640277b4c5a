package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/internal/config"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/events"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/orchestrator"
	"github.com/zero-day-ai/verdict/internal/types"
	"github.com/zero-day-ai/verdict/internal/util"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify scanner findings and score them against verified specifications",
}

var auditRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive findings through exclusion, verification and exploit confirmation",
	Long: `Run the verification pipeline over a findings file and write the report.

The findings file is JSON or YAML: either a list of {finding, code_context}
entries or an object with a "findings" key holding that list. Use "-" to read
JSON from stdin.

Interrupting the run (Ctrl-C) stops scheduling new findings; findings that were
not finished are reported as needs_review and the partial report is still
written.`,
	Example: `  verdict audit run -f findings.json --out report.json
  verdict audit run -f findings.yaml --architecture legacy --max-calls 200
  verdict audit run -f findings.json --specs prover-specs.yaml --fail-on HIGH`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := auditFlags(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, err = runAudit(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		return err
	},
}

var auditScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Re-weight confirmed findings of a report by specification coverage",
	Long: `Classify every confirmed finding of a report as fully, partially or not
covered by the verified specification of its module, adjust its score and
aggregate the risk of each module.`,
	Example: `  verdict audit score --report report.json --specs prover-specs.yaml --out scored.json`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reportPath, _ := cmd.Flags().GetString("report")
		specsPath, _ := cmd.Flags().GetString("specs")
		out, _ := cmd.Flags().GetString("out")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, err = runScore(cmd.Context(), cfg, reportPath, specsPath, out, cmd.OutOrStdout())
		return err
	},
}

func init() {
	f := auditRunCmd.Flags()
	f.StringP("findings", "f", "", "Findings file (JSON or YAML, - for stdin)")
	f.String("out", "", "Write the JSON report to this file")
	f.String("specs", "", "Score confirmed findings against this specification file after the run")
	f.String("architecture", "", "Override audit.architecture (simplified|legacy)")
	f.Int("workers", 0, "Override audit.workers")
	f.Int("max-calls", -1, "Override audit.max_model_calls (0 = unlimited)")
	f.String("fail-on", "", "Exit with code 2 when a confirmed finding is at or above this severity")
	_ = auditRunCmd.MarkFlagRequired("findings")

	s := auditScoreCmd.Flags()
	s.String("report", "", "Report written by 'audit run'")
	s.String("specs", "", "Verified specification file (JSON or YAML)")
	s.String("out", "", "Write the scored report to this file instead of stdout")
	_ = auditScoreCmd.MarkFlagRequired("report")
	_ = auditScoreCmd.MarkFlagRequired("specs")

	auditCmd.AddCommand(auditRunCmd)
	auditCmd.AddCommand(auditScoreCmd)
}

type auditOptions struct {
	Findings     string
	Out          string
	Specs        string
	Architecture string
	Workers      int
	MaxCalls     int
	FailOn       string
	Format       internal.OutputFormat
	Progress     bool
}

func auditFlags(cmd *cobra.Command) (auditOptions, error) {
	f := cmd.Flags()
	opts := auditOptions{Format: globalFlags.GetOutputFormat()}
	opts.Findings, _ = f.GetString("findings")
	opts.Out, _ = f.GetString("out")
	opts.Specs, _ = f.GetString("specs")
	opts.Architecture, _ = f.GetString("architecture")
	opts.Workers, _ = f.GetInt("workers")
	opts.MaxCalls, _ = f.GetInt("max-calls")
	opts.FailOn, _ = f.GetString("fail-on")
	opts.Progress = !globalFlags.Quiet && isTerminal(os.Stderr)
	return opts, nil
}

// applyOverrides writes the command-line overrides onto cfg and revalidates.
func (o auditOptions) applyOverrides(cfg *config.Config) error {
	if o.Architecture != "" {
		cfg.Audit.Architecture = finding.ArchitectureMode(strings.ToLower(o.Architecture))
	}
	if o.Workers > 0 {
		cfg.Audit.Workers = o.Workers
	}
	if o.MaxCalls >= 0 {
		cfg.Audit.MaxModelCalls = o.MaxCalls
	}
	return config.NewValidator().Validate(cfg)
}

// runAudit loads inputs, runs the pipeline and writes the report. A
// cancelled run still writes the partial report before returning the
// cancellation error.
func runAudit(ctx context.Context, cfg *config.Config, opts auditOptions, stdout, stderr io.Writer) (*orchestrator.Report, error) {
	if err := opts.applyOverrides(cfg); err != nil {
		return nil, err
	}
	if err := config.Preflight(cfg); err != nil {
		return nil, err
	}
	var floor finding.Severity
	if opts.FailOn != "" {
		sev, err := finding.ParseSeverity(opts.FailOn)
		if err != nil {
			return nil, internal.WrapError(internal.ExitError, "invalid --fail-on", err)
		}
		floor = sev
	}
	inputs, err := readInputs(opts.Findings)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close(context.Background()) }()

	bus := events.NewBus(events.WithLogger(a.logger))
	defer bus.Close()

	pipeline, err := a.newPipeline(ctx, bus)
	if err != nil {
		return nil, err
	}

	stopProgress := func() {}
	if opts.Progress && opts.Format == internal.FormatText {
		stopProgress = watchProgress(ctx, bus, stderr, len(inputs))
	}
	report, runErr := pipeline.Run(ctx, inputs)
	stopProgress()
	if report == nil {
		return nil, runErr
	}

	if err := a.persistCounts(context.Background()); err != nil {
		a.logger.WarnContext(ctx, "failed to persist exclusion counters", "error", err)
	}
	if opts.Specs != "" && runErr == nil {
		specs, err := coverage.LoadSpecs(opts.Specs)
		if err != nil {
			return report, err
		}
		pipeline.ApplyCoverage(ctx, report, specs)
	}

	if err := writeReport(report, opts.Out, opts.Format, stdout); err != nil {
		return report, err
	}
	if opts.Format == internal.FormatText {
		printSummary(stdout, report, a.tracker.Roles(report.RunID))
	}
	if runErr != nil {
		return report, runErr
	}
	if floor != "" {
		if n := countConfirmedAtLeast(report, floor); n > 0 {
			return report, internal.NewCLIError(internal.ExitConfirmedFindings,
				fmt.Sprintf("%d confirmed finding(s) at or above %s", n, floor))
		}
	}
	return report, nil
}

// runScore applies specification coverage to a stored report.
func runScore(ctx context.Context, cfg *config.Config, reportPath, specsPath, out string, stdout io.Writer) (*orchestrator.Report, error) {
	report, err := readReport(reportPath)
	if err != nil {
		return nil, err
	}
	specs, err := coverage.LoadSpecs(specsPath)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close(context.Background()) }()

	var analyzer *coverage.Analyzer
	var aggregator *coverage.Aggregator
	if cfg.Coverage.Judge {
		if err := config.Preflight(cfg); err != nil {
			return nil, err
		}
		client, err := a.newClient(ctx)
		if err != nil {
			return nil, err
		}
		analyzer, aggregator, err = a.newCoverage(client)
		if err != nil {
			return nil, err
		}
	} else if analyzer, aggregator, err = a.newCoverage(nil); err != nil {
		return nil, err
	}

	orchestrator.ScoreCoverage(ctx, report, specs, analyzer, aggregator)

	format := globalFlags.GetOutputFormat()
	if out == "" {
		format = internal.FormatJSON
	}
	if err := writeReport(report, out, format, stdout); err != nil {
		return report, err
	}
	if out != "" && format == internal.FormatText {
		printRisk(stdout, report.Risk)
	}
	return report, nil
}

type inputFile struct {
	Findings []finding.Input `json:"findings" yaml:"findings"`
}

// readInputs decodes a findings file. YAML is chosen by extension; "-"
// reads JSON from stdin.
func readInputs(path string) ([]finding.Input, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, types.WrapError(types.PIPELINE_INVALID_INPUT, fmt.Sprintf("failed to read %s", path), err)
	}
	return parseInputs(data, isYAML(path))
}

func parseInputs(data []byte, asYAML bool) ([]finding.Input, error) {
	unmarshal := json.Unmarshal
	if asYAML {
		unmarshal = yaml.Unmarshal
	}

	var list []finding.Input
	listErr := unmarshal(data, &list)
	if listErr == nil {
		return list, nil
	}
	var wrapped inputFile
	if err := unmarshal(data, &wrapped); err != nil {
		return nil, types.WrapError(types.PIPELINE_INVALID_INPUT, "findings file is neither a list nor an object with a findings key", listErr)
	}
	return wrapped.Findings, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func readReport(path string) (*orchestrator.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.PIPELINE_INVALID_INPUT, fmt.Sprintf("failed to read report %s", path), err)
	}
	var report orchestrator.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, types.WrapError(types.PIPELINE_INVALID_INPUT, fmt.Sprintf("failed to parse report %s", path), err)
	}
	return &report, nil
}

// writeReport writes the report as JSON to path, or to stdout when path is
// empty and the format is json.
func writeReport(report *orchestrator.Report, path string, format internal.OutputFormat, stdout io.Writer) error {
	if path == "" {
		if format == internal.FormatJSON {
			return internal.NewJSONFormatter(stdout).PrintJSON(report)
		}
		return nil
	}
	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func countConfirmedAtLeast(report *orchestrator.Report, floor finding.Severity) int {
	n := 0
	for _, o := range report.Outcomes {
		if o.Status == finding.StatusConfirmed && o.Finding.Severity.AtLeast(floor) {
			n++
		}
	}
	return n
}

func confidenceOf(o *orchestrator.Outcome) string {
	if o.Verified == nil {
		return "-"
	}
	return strconv.Itoa(o.Verified.Confidence)
}
