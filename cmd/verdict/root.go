package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Confidence-gated verification of smart-contract audit findings",
	Long: `Verdict takes the raw findings of a smart-contract scanner and drives each
one through rule-based exclusion, model-backed verification, conditional
adjudication and exploit-chain confirmation, ending in exactly one of
excluded, confirmed, false_positive or needs_review.

After formal verification, 'verdict audit score' re-weights confirmed
findings by how completely the verified specification covers them.`,
	PersistentPreRunE: setupOutput,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command; SIGINT and SIGTERM cancel the context.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func setupOutput(cmd *cobra.Command, args []string) error {
	flags, err := ParseGlobalFlags(cmd)
	if err != nil {
		return err
	}
	if flags.NoColor || !isTerminal(os.Stdout) {
		color.NoColor = true
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func init() {
	RegisterGlobalFlags(rootCmd)

	versionCmd.Flags().Bool("json", false, "Print build information as JSON")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(exclusionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON || globalFlags.GetOutputFormat() == internal.FormatJSON {
			return internal.NewJSONFormatter(cmd.OutOrStdout()).PrintJSON(version.Info())
		}
		cmd.Println(version.String())
		return nil
	},
}
