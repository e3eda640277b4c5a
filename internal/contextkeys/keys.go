// Package contextkeys provides shared context key definitions used across
// verdict packages. It exists to avoid circular imports between packages that
// read and write the same values (e.g., llm and orchestrator).
package contextkeys

import "context"

// Key is the type for all verdict context keys.
type Key string

const (
	// RunID stores the identifier of the audit run.
	RunID Key = "verdict.run_id"

	// FindingID stores the identifier of the finding being processed.
	FindingID Key = "verdict.finding_id"

	// Role stores the agent role making a model call.
	Role Key = "verdict.role"
)

// WithRunID returns a new context with the run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunID, runID)
}

// GetRunID retrieves the run ID from context.
// Returns empty string if not set.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(RunID).(string); ok {
		return v
	}
	return ""
}

// WithFindingID returns a new context with the finding ID set.
func WithFindingID(ctx context.Context, findingID string) context.Context {
	return context.WithValue(ctx, FindingID, findingID)
}

// GetFindingID retrieves the finding ID from context.
// Returns empty string if not set.
func GetFindingID(ctx context.Context) string {
	if v, ok := ctx.Value(FindingID).(string); ok {
		return v
	}
	return ""
}

// WithRole returns a new context with the agent role set.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, Role, role)
}

// GetRole retrieves the agent role from context.
// Returns empty string if not set.
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(Role).(string); ok {
		return v
	}
	return ""
}
