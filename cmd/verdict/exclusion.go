package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

var exclusionCmd = &cobra.Command{
	Use:     "exclusion",
	Aliases: []string{"exclusions", "rules"},
	Short:   "Inspect and manage exclusion rules",
	Long: `Exclusion rules discard scanner findings before any model is consulted.
Built-in rules can be enabled or disabled; custom rules are stored in the
exclusion database and can be added, toggled and removed.`,
}

var exclusionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every rule in evaluation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
			rules := engine.Catalogue()
			out := globalFlags.Formatter(cmd.OutOrStdout())
			if showAll, _ := cmd.Flags().GetBool("all"); !showAll {
				rules = filterRules(rules, func(r exclusion.RuleInfo) bool { return r.Enabled })
			}
			rows := make([][]string, 0, len(rules))
			for _, r := range rules {
				rows = append(rows, []string{
					r.ID, r.Name, string(r.Source), string(r.Group),
					strconv.Itoa(r.Priority), strconv.FormatBool(r.Enabled),
					strconv.FormatInt(r.Triggers, 10),
				})
			}
			return out.PrintTable([]string{"ID", "NAME", "SOURCE", "GROUP", "PRIORITY", "ENABLED", "TRIGGERS"}, rows)
		})
	},
}

var exclusionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a custom exclusion",
	Example: `  verdict exclusion add --file team-exclusions.yaml
  verdict exclusion add --id no-view-fns --name "View functions" --function-pattern '^get_'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		customs, err := customsFromFlags(cmd)
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
			out := globalFlags.Formatter(cmd.OutOrStdout())
			for i := range customs {
				c := &customs[i]
				// rejects patterns that do not compile
				if err := engine.AddCustom(*c); err != nil {
					return err
				}
				if err := a.store.Create(cmd.Context(), c); err != nil {
					return err
				}
				_ = out.PrintSuccess(fmt.Sprintf("added %s", c.ID))
			}
			return nil
		})
	},
}

var exclusionEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>...",
	Short: "Enable rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(cmd, args, true)
	},
}

var exclusionDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>...",
	Short: "Disable rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRules(cmd, args, false)
	},
}

var exclusionRemoveCmd = &cobra.Command{
	Use:     "remove <rule-id>...",
	Aliases: []string{"rm"},
	Short:   "Delete custom exclusions",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
			out := globalFlags.Formatter(cmd.OutOrStdout())
			for _, id := range args {
				if r, ok := engine.Rule(id); ok && r.Source == exclusion.SourceBuiltin {
					return types.NewError(types.EXCLUSION_INVALID_RULE,
						fmt.Sprintf("%s is a built-in rule; use 'exclusion disable'", id))
				}
				if err := a.store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				_ = out.PrintSuccess(fmt.Sprintf("removed %s", id))
			}
			return nil
		})
	},
}

var exclusionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how often each rule has fired",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
			stats := engine.Stats()
			out := globalFlags.Formatter(cmd.OutOrStdout())
			if globalFlags.GetOutputFormat() == internal.FormatJSON {
				return out.PrintJSON(stats)
			}
			rows := [][]string{{exclusion.OverlapRuleID, strconv.FormatInt(stats.Overlap, 10)}}
			for _, r := range engine.Catalogue() {
				if n := stats.Rules[r.ID]; n > 0 {
					rows = append(rows, []string{r.ID, strconv.FormatInt(n, 10)})
				}
			}
			rows = append(rows, []string{"total", strconv.FormatInt(stats.Total(), 10)})
			return out.PrintTable([]string{"RULE", "TRIGGERS"}, rows)
		})
	},
}

var exclusionTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Dry-run the exclusion rules over a findings file",
	Long: `Evaluate every finding of a findings file against the exclusion rules
without consulting any model and without touching trigger counters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("findings")
		inputs, err := readInputs(path)
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
			rows := make([][]string, 0, len(inputs))
			for i := range inputs {
				in := &inputs[i]
				decision, err := engine.Evaluate(cmd.Context(), &in.Finding, in.Context, exclusion.EvalOptions{DryRun: true})
				row := []string{in.Finding.ID, "kept", ""}
				switch {
				case err != nil:
					row[1], row[2] = "error", err.Error()
				case decision != nil:
					row[1], row[2] = "excluded "+decision.RuleID, decision.Reason
				}
				rows = append(rows, row)
			}
			return globalFlags.Formatter(cmd.OutOrStdout()).PrintTable([]string{"FINDING", "RESULT", "REASON"}, rows)
		})
	},
}

func init() {
	exclusionListCmd.Flags().Bool("all", false, "Include disabled rules")

	f := exclusionAddCmd.Flags()
	f.String("file", "", "YAML file with an exclusions: list")
	f.String("id", "", "Rule id")
	f.String("name", "", "Rule name")
	f.String("description", "", "Rule description")
	f.StringSlice("title-contains", nil, "Match findings whose title contains any of these terms")
	f.StringSlice("description-contains", nil, "Match findings whose description contains any of these terms")
	f.String("function-pattern", "", "Regular expression over the finding's function")
	f.String("file-pattern", "", "Regular expression over the finding's file")
	f.StringSlice("severity", nil, "Match only these severities")
	f.Bool("match-all", false, "Require every clause to match instead of any")
	f.String("chain", "", "Restrict the rule to one chain")
	f.String("project", "", "Restrict the rule to one project")
	f.Int("priority", 0, "Evaluation priority (higher runs first)")
	f.Bool("disabled", false, "Store the rule disabled")

	exclusionTestCmd.Flags().StringP("findings", "f", "", "Findings file (JSON or YAML, - for stdin)")
	_ = exclusionTestCmd.MarkFlagRequired("findings")

	exclusionCmd.AddCommand(exclusionListCmd)
	exclusionCmd.AddCommand(exclusionAddCmd)
	exclusionCmd.AddCommand(exclusionEnableCmd)
	exclusionCmd.AddCommand(exclusionDisableCmd)
	exclusionCmd.AddCommand(exclusionRemoveCmd)
	exclusionCmd.AddCommand(exclusionStatsCmd)
	exclusionCmd.AddCommand(exclusionTestCmd)
}

// withEngine loads the configuration, opens the exclusion store and engine
// and runs fn against them.
func withEngine(ctx context.Context, fn func(*app, *exclusion.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	engine, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	return fn(a, engine)
}

func toggleRules(cmd *cobra.Command, ids []string, enabled bool) error {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return withEngine(cmd.Context(), func(a *app, engine *exclusion.Engine) error {
		out := globalFlags.Formatter(cmd.OutOrStdout())
		for _, id := range ids {
			if _, ok := engine.Rule(id); !ok {
				return types.NewError(types.EXCLUSION_NOT_FOUND, fmt.Sprintf("rule %s not found", id))
			}
			if err := a.store.SetEnabled(cmd.Context(), id, enabled); err != nil {
				return err
			}
			_ = out.PrintSuccess(fmt.Sprintf("%s %s", verb, id))
		}
		return nil
	})
}

func customsFromFlags(cmd *cobra.Command) ([]exclusion.CustomExclusion, error) {
	f := cmd.Flags()
	if path, _ := f.GetString("file"); path != "" {
		return exclusion.LoadCustomFile(path)
	}

	c := exclusion.CustomExclusion{Enabled: true}
	c.ID, _ = f.GetString("id")
	c.Name, _ = f.GetString("name")
	c.Description, _ = f.GetString("description")
	c.Match.TitleContains, _ = f.GetStringSlice("title-contains")
	c.Match.DescriptionContains, _ = f.GetStringSlice("description-contains")
	c.Match.FunctionPattern, _ = f.GetString("function-pattern")
	c.Match.FilePattern, _ = f.GetString("file-pattern")
	c.Match.MatchAll, _ = f.GetBool("match-all")
	c.Scope.Chain, _ = f.GetString("chain")
	c.Scope.Project, _ = f.GetString("project")
	c.Priority, _ = f.GetInt("priority")
	if disabled, _ := f.GetBool("disabled"); disabled {
		c.Enabled = false
	}
	severities, _ := f.GetStringSlice("severity")
	for _, s := range severities {
		sev, err := finding.ParseSeverity(strings.TrimSpace(s))
		if err != nil {
			return nil, types.WrapError(types.EXCLUSION_INVALID_RULE, "invalid --severity", err)
		}
		c.Match.Severities = append(c.Match.Severities, sev)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []exclusion.CustomExclusion{c}, nil
}

func filterRules(rules []exclusion.RuleInfo, keep func(exclusion.RuleInfo) bool) []exclusion.RuleInfo {
	out := rules[:0]
	for _, r := range rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
