// Package finding defines the data model shared by every audit stage.
//
// # Overview
//
// A Finding is a candidate vulnerability produced by an upstream scanner. The
// audit pipeline never edits the scanner's fields; it only assigns a terminal
// Status and attaches verdict records:
//
//	VerifiedFinding     verdict, confidence and rationale from the Verifier,
//	                    with the Manager's override when it overturned one
//	ExploitChainResult  the WhiteHat's attack path, when the severity gate allowed it
//	SpecCoverageResult  coverage-adjusted risk after formal verification
//
// # Severity
//
// Severities are totally ordered CRITICAL > HIGH > MEDIUM > LOW > ADVISORY and
// carry a base risk score used by coverage analysis:
//
//	SeverityCritical.BaseScore() // 40
//	SeverityAdvisory.BaseScore() // 4
//
// # Status
//
// Every finding ends in exactly one terminal status: excluded, confirmed,
// false_positive or needs_review. StatusRaw is the only non-terminal value.
package finding
