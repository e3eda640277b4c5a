package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/internal/config"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/llm/providers"
	"github.com/zero-day-ai/verdict/internal/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and check provider credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Preflight(cfg); err != nil {
			return err
		}
		path, _ := globalFlags.ConfigPath()
		out := globalFlags.Formatter(cmd.OutOrStdout())
		return out.PrintSuccess(fmt.Sprintf("%s is valid; %d role(s) bound to %d provider(s)",
			path, len(cfg.RequiredRoles()), len(cfg.ProvidersInUse())))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		redacted := redact(cfg)
		if globalFlags.GetOutputFormat() == internal.FormatJSON {
			return internal.NewJSONFormatter(cmd.OutOrStdout()).PrintJSON(redacted)
		}
		return writeYAML(cmd.OutOrStdout(), redacted)
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the exclusion store and every provider the configuration uses",
	Long: `Run the credential preflight, open the exclusion database and send a
one-token request to every provider bound to a required role. Providers are
probed concurrently; a failing probe makes the command exit non-zero.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Preflight(cfg); err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(context.Background()) }()

		results := make(map[string]types.HealthStatus)
		if _, err := a.openStore(ctx); err != nil {
			results["exclusion store"] = types.Unhealthy(err.Error())
		} else {
			results["exclusion store"] = types.Timed(func() types.HealthStatus { return a.db.Health(ctx) })
		}
		registry, err := providers.NewRegistry(ctx, cfg.Providers, cfg.ProvidersInUse())
		if err != nil {
			return err
		}
		for name, h := range registry.Probe(ctx) {
			results["provider "+name] = h
		}
		return printHealth(cmd.OutOrStdout(), results)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := globalFlags.ConfigPath()
		cmd.Println(path)
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configPathCmd)
}

// redact returns a copy of cfg with provider API keys masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	out.Providers = make(map[string]llm.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = "********"
		}
		out.Providers[name] = p
	}
	return &out
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func printHealth(w io.Writer, results map[string]types.HealthStatus) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	out := globalFlags.Formatter(w)
	if globalFlags.GetOutputFormat() == internal.FormatJSON {
		if err := out.PrintJSON(results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			h := results[name]
			rows = append(rows, []string{name, h.State.String(), h.Latency.Round(time.Millisecond).String(), h.Message})
		}
		if err := out.PrintTable([]string{"COMPONENT", "STATE", "LATENCY", "DETAIL"}, rows); err != nil {
			return err
		}
	}

	var failed []string
	for _, name := range names {
		if !results[name].IsHealthy() {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return internal.NewCLIError(internal.ExitError, "unhealthy: "+strings.Join(failed, ", "))
	}
	return nil
}
