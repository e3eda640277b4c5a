package finding

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity is the impact rating assigned by the scanner.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityAdvisory Severity = "ADVISORY"
)

// AllSeverities lists every severity from most to least severe.
var AllSeverities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityAdvisory,
}

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the five known values
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Rank returns 5 for CRITICAL down to 1 for ADVISORY, 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityAdvisory:
		return 1
	default:
		return 0
	}
}

// Compare returns -1, 0 or 1 when s is less, equally or more severe than other.
func (s Severity) Compare(other Severity) int {
	a, b := s.Rank(), other.Rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Compare(other) >= 0
}

// BaseScore returns the risk points a finding of this severity contributes
// before coverage adjustment.
func (s Severity) BaseScore() float64 {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 8
	case SeverityAdvisory:
		return 4
	default:
		return 0
	}
}

// ParseSeverity parses a severity name case-insensitively. Scanner output
// frequently uses "info" or "informational" for the advisory level.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical, nil
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM", "MED":
		return SeverityMedium, nil
	case "LOW":
		return SeverityLow, nil
	case "ADVISORY", "INFO", "INFORMATIONAL":
		return SeverityAdvisory, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// UnmarshalJSON accepts any casing understood by ParseSeverity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalText lets viper and yaml decode severities from config files.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SeveritySet is a membership set of severities.
type SeveritySet map[Severity]struct{}

// NewSeveritySet builds a set from the given severities.
func NewSeveritySet(severities ...Severity) SeveritySet {
	set := make(SeveritySet, len(severities))
	for _, s := range severities {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether s is in the set.
func (set SeveritySet) Contains(s Severity) bool {
	_, ok := set[s]
	return ok
}

// Slice returns the members ordered from most to least severe.
func (set SeveritySet) Slice() []Severity {
	out := make([]Severity, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}
