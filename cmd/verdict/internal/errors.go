package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/verdict/internal/types"
)

// Exit codes of the verdict binary.
const (
	ExitSuccess = 0
	ExitError   = 1
	// ExitConfirmedFindings is returned by `audit run --fail-on` when a
	// confirmed finding meets the severity floor.
	ExitConfirmedFindings = 2
	ExitTimeout           = 3
	ExitCancelled         = 4
	ExitConfigError       = 10
	ExitDatabaseError     = 12
)

// CLIError carries the exit code the process should end with.
type CLIError struct {
	Code    int
	Message string
	Cause   error
}

func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// WrapError creates a new CLIError wrapping err.
func WrapError(code int, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Cause: err}
}

// NewCLIError creates a new CLIError with the given code and message
func NewCLIError(code int, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// HandleError prints err on the command's error stream and returns the exit
// code for it.
func HandleError(cmd *cobra.Command, err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		cmd.PrintErrln("Error:", cliErr.Message)
		if cliErr.Cause != nil && IsVerbose() {
			cmd.PrintErrln("Cause:", cliErr.Cause)
		}
		return cliErr.Code
	}

	if types.HasCode(err, types.PIPELINE_CANCELLED) || errors.Is(err, context.Canceled) {
		cmd.PrintErrln("Operation cancelled")
		return ExitCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		cmd.PrintErrln("Operation timed out")
		return ExitTimeout
	}

	cmd.PrintErrln("Error:", err)
	return exitCodeFor(err)
}

// exitCodeFor maps the outermost coded error to an exit code.
func exitCodeFor(err error) int {
	var coded *types.Error
	if !errors.As(err, &coded) {
		return ExitError
	}
	code := string(coded.Code)
	switch {
	case strings.HasPrefix(code, "CONFIG_"):
		return ExitConfigError
	case strings.HasPrefix(code, "DB_"):
		return ExitDatabaseError
	default:
		return ExitError
	}
}

// IsVerbose reports whether verbose output was requested, from the
// environment or the raw arguments. It is usable before flags are parsed.
func IsVerbose() bool {
	if os.Getenv("VERDICT_VERBOSE") != "" {
		return true
	}
	for _, arg := range os.Args {
		if arg == "-v" || arg == "--verbose" {
			return true
		}
	}
	return false
}
