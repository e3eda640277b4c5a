package finding

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of a finding.
type Status string

const (
	StatusRaw           Status = "raw"
	StatusExcluded      Status = "excluded"
	StatusConfirmed     Status = "confirmed"
	StatusFalsePositive Status = "false_positive"
	StatusNeedsReview   Status = "needs_review"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether s is one of the four terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExcluded, StatusConfirmed, StatusFalsePositive, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists the statuses a finding may end the pipeline in.
var TerminalStatuses = []Status{
	StatusExcluded,
	StatusConfirmed,
	StatusFalsePositive,
	StatusNeedsReview,
}

// Location points at the code a finding refers to.
type Location struct {
	Module   string `json:"module,omitempty" yaml:"module,omitempty"`
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// String renders the location as module::function (file:line).
func (l Location) String() string {
	var b strings.Builder
	switch {
	case l.Module != "" && l.Function != "":
		b.WriteString(l.Module + "::" + l.Function)
	case l.Function != "":
		b.WriteString(l.Function)
	default:
		b.WriteString(l.Module)
	}
	if l.File != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		if l.Line > 0 {
			fmt.Fprintf(&b, "(%s:%d)", l.File, l.Line)
		} else {
			fmt.Fprintf(&b, "(%s)", l.File)
		}
	}
	return b.String()
}

// Finding is a candidate vulnerability report produced by the scanner.
type Finding struct {
	ID            string   `json:"id" yaml:"id"`
	Title         string   `json:"title" yaml:"title"`
	Severity      Severity `json:"severity" yaml:"severity"`
	Categories    []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Description   string   `json:"description" yaml:"description"`
	Location      Location `json:"location" yaml:"location"`
	CodeExcerpt   string   `json:"code_excerpt,omitempty" yaml:"code_excerpt,omitempty"`
	DetectionCues []string `json:"detection_cues,omitempty" yaml:"detection_cues,omitempty"`
	Status        Status   `json:"status" yaml:"status"`
}

// Validate checks the fields the pipeline relies on.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("finding id is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("finding %s: title is required", f.ID)
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("finding %s: invalid severity %q", f.ID, f.Severity)
	}
	return nil
}

// HasCategory reports whether the finding carries the tag, ignoring case.
func (f *Finding) HasCategory(category string) bool {
	for _, c := range f.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Text returns title, description and detection cues joined for matching.
func (f *Finding) Text() string {
	parts := make([]string, 0, 2+len(f.DetectionCues))
	parts = append(parts, f.Title, f.Description)
	parts = append(parts, f.DetectionCues...)
	return strings.Join(parts, "\n")
}

// CodeContext is the code surrounding a finding, supplied by the context
// builder.
type CodeContext struct {
	Code     string `json:"code" yaml:"code"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// IsEmpty reports whether no code was supplied.
func (c CodeContext) IsEmpty() bool {
	return strings.TrimSpace(c.Code) == ""
}

// Source returns the context code, falling back to the finding's excerpt.
func (c CodeContext) Source(f *Finding) string {
	if !c.IsEmpty() {
		return c.Code
	}
	if f != nil {
		return f.CodeExcerpt
	}
	return ""
}

// Input pairs a raw finding with its code context.
type Input struct {
	Finding Finding     `json:"finding" yaml:"finding"`
	Context CodeContext `json:"code_context" yaml:"code_context"`
}
