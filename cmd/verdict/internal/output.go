package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/zero-day-ai/verdict/internal/finding"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Formatter writes command output.
type Formatter interface {
	PrintSuccess(message string) error
	PrintError(message string) error
	PrintTable(headers []string, rows [][]string) error
	PrintJSON(data any) error
}

// TextFormatter writes human-readable output.
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a TextFormatter; a nil writer means stdout.
func NewTextFormatter(w io.Writer) *TextFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &TextFormatter{writer: w}
}

// PrintSuccess prints message with a green check mark.
func (f *TextFormatter) PrintSuccess(message string) error {
	_, err := fmt.Fprintf(f.writer, "%s %s\n", color.GreenString("✓"), message)
	return err
}

// PrintError prints message with a red cross.
func (f *TextFormatter) PrintError(message string) error {
	_, err := fmt.Fprintf(f.writer, "%s %s\n", color.RedString("✗"), message)
	return err
}

// PrintTable prints aligned columns with upper-cased headers.
func (f *TextFormatter) PrintTable(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	header := make([]string, len(headers))
	separator := make([]string, len(headers))
	for i, h := range headers {
		header[i] = strings.ToUpper(h)
		separator[i] = strings.Repeat("-", len(h))
	}
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(tw, strings.Join(separator, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// PrintJSON prints data as indented JSON.
func (f *TextFormatter) PrintJSON(data any) error {
	return writeJSON(f.writer, data)
}

// JSONFormatter writes machine-readable output.
type JSONFormatter struct {
	writer io.Writer
}

// NewJSONFormatter creates a JSONFormatter; a nil writer means stdout.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONFormatter{writer: w}
}

func (f *JSONFormatter) PrintSuccess(message string) error {
	return f.PrintJSON(map[string]any{"status": "success", "message": message})
}

func (f *JSONFormatter) PrintError(message string) error {
	return f.PrintJSON(map[string]any{"status": "error", "message": message})
}

// PrintTable prints the rows as objects keyed by header.
func (f *JSONFormatter) PrintTable(headers []string, rows [][]string) error {
	data := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				m[h] = row[i]
			} else {
				m[h] = ""
			}
		}
		data = append(data, m)
	}
	return f.PrintJSON(data)
}

func (f *JSONFormatter) PrintJSON(data any) error {
	return writeJSON(f.writer, data)
}

// NewFormatter returns the formatter for format; unknown formats use text.
func NewFormatter(format OutputFormat, w io.Writer) Formatter {
	if format == FormatJSON {
		return NewJSONFormatter(w)
	}
	return NewTextFormatter(w)
}

func writeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// StatusColor renders a terminal status in its summary colour.
func StatusColor(s finding.Status) string {
	switch s {
	case finding.StatusConfirmed:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case finding.StatusFalsePositive:
		return color.GreenString(string(s))
	case finding.StatusExcluded:
		return color.HiBlackString(string(s))
	case finding.StatusNeedsReview:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// SeverityColor renders a severity label.
func SeverityColor(s finding.Severity) string {
	switch s {
	case finding.SeverityCritical:
		return color.New(color.FgHiRed, color.Bold).Sprint(s)
	case finding.SeverityHigh:
		return color.RedString(string(s))
	case finding.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
