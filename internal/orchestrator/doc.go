// Package orchestrator runs the per-finding verification state machine.
//
// Each finding moves through
//
//	raw -> (excluded | candidate) -> verified -> (adjudicated)? -> (exploit_checked)? -> terminal
//
// and ends in exactly one terminal status. The simplified topology makes one
// Verifier call and escalates to the Manager only when the verdict is
// needs_review or its confidence is below the escalation threshold. The
// legacy topology makes three perspective calls that the Manager always
// merges. Both produce the same Outcome shape.
//
// Findings are processed by a bounded worker pool. A run-level model-call
// budget and context cancellation both turn undecided findings into
// needs_review rather than failing the run.
package orchestrator
