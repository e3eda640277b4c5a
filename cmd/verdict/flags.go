package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/verdict/cmd/verdict/internal"
	"github.com/zero-day-ai/verdict/internal/config"
)

// GlobalFlags holds the persistent flags of every command.
type GlobalFlags struct {
	Verbose      bool
	Quiet        bool
	NoColor      bool
	OutputFormat string
	ConfigFile   string
}

var globalFlags = &GlobalFlags{}

// RegisterGlobalFlags registers persistent flags on the root command
func RegisterGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress progress and non-error logging")
	cmd.PersistentFlags().BoolVar(&globalFlags.NoColor, "no-color", false, "Disable coloured output")
	cmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "text", "Output format (text|json)")
	cmd.PersistentFlags().StringVar(&globalFlags.ConfigFile, "config", "", "Path to config file (default: $VERDICT_CONFIG or ~/.verdict/config.yaml)")
}

// ParseGlobalFlags validates the global flags.
func ParseGlobalFlags(cmd *cobra.Command) (*GlobalFlags, error) {
	format := globalFlags.OutputFormat
	if format != string(internal.FormatText) && format != string(internal.FormatJSON) {
		return nil, internal.NewCLIError(internal.ExitError,
			fmt.Sprintf("invalid --output %q (must be text or json)", format))
	}
	if globalFlags.Verbose && globalFlags.Quiet {
		return nil, internal.NewCLIError(internal.ExitError, "--verbose and --quiet cannot be used together")
	}
	return globalFlags, nil
}

// GetOutputFormat returns the parsed OutputFormat enum
func (f *GlobalFlags) GetOutputFormat() internal.OutputFormat {
	if f.OutputFormat == string(internal.FormatJSON) {
		return internal.FormatJSON
	}
	return internal.FormatText
}

// ConfigPath returns the config file to load and whether the user named it
// explicitly.
func (f *GlobalFlags) ConfigPath() (string, bool) {
	if f.ConfigFile != "" {
		return f.ConfigFile, true
	}
	if env := os.Getenv("VERDICT_CONFIG"); env != "" {
		return env, true
	}
	return config.DefaultConfigPath(), false
}

// Formatter returns the formatter selected by --output.
func (f *GlobalFlags) Formatter(w io.Writer) internal.Formatter {
	return internal.NewFormatter(f.GetOutputFormat(), w)
}
