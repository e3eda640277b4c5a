package finding

import (
	"strings"
)

// ExploitStatus summarises the exploit-chain field of an outcome.
type ExploitStatus string

const (
	// ExploitNotApplicable is used when the verdict is not confirmed.
	ExploitNotApplicable ExploitStatus = "not_applicable"
	// ExploitNeedsReview is used when the severity gate skipped the check or
	// the WhiteHat could not be reached.
	ExploitNeedsReview ExploitStatus = "needs_review"
	ExploitVerified    ExploitStatus = "verified"
	ExploitUnverified  ExploitStatus = "unverified"
)

// ExploitChainResult is the attack path produced by the WhiteHat.
type ExploitChainResult struct {
	FindingID  string   `json:"finding_id"`
	EntryPoint string   `json:"entry_point"`
	Steps      []string `json:"steps"`
	Impact     string   `json:"impact"`
	Proof      string   `json:"proof,omitempty"`
	Verified   bool     `json:"verified"`

	// Inconsistency explains why a chain the model called verified was not
	// accepted.
	Inconsistency string `json:"inconsistency,omitempty"`
}

// CheckConsistency reports whether the chain leads from a real entry point to
// a stated impact. A chain is consistent when it has an entry point, at least
// one step, a non-empty impact, and the entry point's final path segment is
// referenced by one of the steps.
func (r *ExploitChainResult) CheckConsistency() (bool, string) {
	entry := strings.TrimSpace(r.EntryPoint)
	if entry == "" {
		return false, "missing entry point"
	}
	var steps []string
	for _, s := range r.Steps {
		if strings.TrimSpace(s) != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return false, "no attack steps"
	}
	if strings.TrimSpace(r.Impact) == "" {
		return false, "missing impact"
	}

	name := entry
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(strings.TrimSpace(name), "()")
	name = strings.ToLower(name)
	for _, s := range steps {
		if strings.Contains(strings.ToLower(s), name) {
			return true, ""
		}
	}
	return false, "entry point " + entry + " is not used by any step"
}
