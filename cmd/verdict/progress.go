package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/fatih/color"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/internal/coverage"
	"github.com/zero-day-ai/verdict/internal/events"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/orchestrator"
)

// watchProgress prints one line per finding reaching a terminal status.
// The returned function stops the watcher after draining buffered events;
// cancelling ctx does not, so findings swept on cancellation are still shown.
func watchProgress(ctx context.Context, bus *events.Bus, w io.Writer, total int) func() {
	ch, unsubscribe := bus.Subscribe(context.WithoutCancel(ctx), events.Filter{
		Types: []events.EventType{events.EventFindingTerminal},
	}, total+16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done := 0
		for ev := range ch {
			done++
			status := "?"
			if p, ok := ev.Payload.(events.TerminalPayload); ok {
				status = internal.StatusColor(p.Status)
			}
			fmt.Fprintf(w, "[%d/%d] %s %s\n", done, total, ev.FindingID, status)
		}
	}()

	return func() {
		unsubscribe()
		wg.Wait()
	}
}

// printSummary renders the per-finding table, the tally and token usage.
func printSummary(w io.Writer, report *orchestrator.Report, usage []llm.UsageRecord) {
	f := internal.NewTextFormatter(w)

	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		rows = append(rows, []string{
			o.Finding.ID,
			internal.SeverityColor(o.Finding.Severity),
			internal.StatusColor(o.Status),
			confidenceOf(o),
			string(o.ExploitStatus),
			detailOf(o),
		})
	}
	_ = f.PrintTable([]string{"FINDING", "SEVERITY", "STATUS", "CONFIDENCE", "EXPLOIT", "DETAIL"}, rows)

	fmt.Fprintln(w)
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Run %s (%s, %s)\n", report.RunID, report.Architecture, report.Duration.Round(1e6))
	for _, s := range finding.TerminalStatuses {
		fmt.Fprintf(w, "  %-15s %d\n", s, report.Tally.Statuses[s])
	}
	fmt.Fprintf(w, "  %-15s %d\n", "escalations", report.Tally.Escalations)
	fmt.Fprintf(w, "  %-15s %d\n", "overrides", report.Tally.Overrides)
	fmt.Fprintf(w, "  %-15s %d\n", "exploit checks", report.Tally.ExploitChecks)
	fmt.Fprintf(w, "  %-15s %d\n", "model calls", report.Tally.TotalModelCalls())
	if report.Cancelled {
		color.New(color.FgYellow).Fprintln(w, "  run was cancelled; unfinished findings need review")
	}

	if len(usage) > 0 {
		fmt.Fprintln(w)
		rows = rows[:0]
		for _, u := range usage {
			rows = append(rows, []string{
				u.Scope.Role,
				strconv.Itoa(u.Calls),
				strconv.Itoa(u.Attempts),
				strconv.Itoa(u.Fallbacks),
				strconv.Itoa(u.InputTokens),
				strconv.Itoa(u.OutputTokens),
			})
		}
		_ = f.PrintTable([]string{"ROLE", "CALLS", "ATTEMPTS", "FALLBACKS", "IN TOKENS", "OUT TOKENS"}, rows)
	}

	printRisk(w, report.Risk)
}

func printRisk(w io.Writer, risk []coverage.ModuleRisk) {
	if len(risk) == 0 {
		return
	}
	sorted := append([]coverage.ModuleRisk(nil), risk...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Total > sorted[j].Total })

	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, []string{
			r.Module,
			strconv.FormatFloat(r.Total, 'f', 1, 64),
			riskColor(r.Level),
			strconv.Itoa(r.Findings),
		})
	}
	fmt.Fprintln(w)
	_ = internal.NewTextFormatter(w).PrintTable([]string{"MODULE", "SCORE", "RISK", "FINDINGS"}, rows)
}

func riskColor(l coverage.RiskLevel) string {
	switch l {
	case coverage.RiskCritical:
		return color.New(color.FgRed, color.Bold).Sprint(l)
	case coverage.RiskHigh:
		return color.RedString(string(l))
	case coverage.RiskMedium:
		return color.YellowString(string(l))
	default:
		return string(l)
	}
}

func detailOf(o *orchestrator.Outcome) string {
	switch {
	case o.Exclusion != nil:
		return "rule " + o.Exclusion.RuleID
	case len(o.Errors) > 0:
		return o.Errors[len(o.Errors)-1]
	case o.Verified != nil && o.Verified.Override != nil:
		return "manager override"
	case o.Escalated:
		return "escalated"
	default:
		return ""
	}
}
