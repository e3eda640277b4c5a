package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

func TestCLIError(t *testing.T) {
	plain := NewCLIError(ExitError, "something went wrong")
	assert.Equal(t, "something went wrong", plain.Error())

	cause := errors.New("underlying error")
	wrapped := WrapError(ExitConfigError, "operation failed", cause)
	assert.Equal(t, "operation failed: underlying error", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		output string
	}{
		{"nil", nil, ExitSuccess, ""},
		{"cli error", NewCLIError(ExitConfirmedFindings, "2 confirmed findings at or above HIGH"), ExitConfirmedFindings, "2 confirmed findings"},
		{"cancelled run", types.WrapError(types.PIPELINE_CANCELLED, "audit run cancelled", context.Canceled), ExitCancelled, "cancelled"},
		{"deadline", fmt.Errorf("loading: %w", context.DeadlineExceeded), ExitTimeout, "timed out"},
		{"config error", types.NewError(types.CONFIG_NO_FALLBACK, "role verifier has no usable provider"), ExitConfigError, "CONFIG_NO_FALLBACK"},
		{"wrapped config error", fmt.Errorf("load: %w", types.NewError(types.CONFIG_NOT_FOUND, "missing")), ExitConfigError, "missing"},
		{"database error", types.NewError(types.DB_OPEN_FAILED, "database path is empty"), ExitDatabaseError, "database path"},
		{"other coded error", types.NewError(types.EXCLUSION_NOT_FOUND, "rule x not found"), ExitError, "rule x"},
		{"plain error", errors.New("boom"), ExitError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var buf bytes.Buffer
			cmd.SetErr(&buf)

			assert.Equal(t, tt.code, HandleError(cmd, tt.err))
			assert.Contains(t, buf.String(), tt.output)
		})
	}
}

func TestFormatters(t *testing.T) {
	color.NoColor = true

	var text bytes.Buffer
	f := NewFormatter(FormatText, &text)
	require.IsType(t, &TextFormatter{}, f)
	require.NoError(t, f.PrintSuccess("rule added"))
	require.NoError(t, f.PrintTable([]string{"id", "enabled"}, [][]string{{"test-only-code", "true"}}))

	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "✓ rule added", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "ID"))
	assert.Contains(t, lines[3], "test-only-code")

	var out bytes.Buffer
	jf := NewFormatter(FormatJSON, &out)
	require.IsType(t, &JSONFormatter{}, jf)
	require.NoError(t, jf.PrintTable([]string{"id", "enabled"}, [][]string{{"a", "true"}, {"b"}}))

	var rows []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	assert.Equal(t, []map[string]string{{"id": "a", "enabled": "true"}, {"id": "b", "enabled": ""}}, rows)

	assert.IsType(t, &TextFormatter{}, NewFormatter("yaml", &out))
}

func TestStatusColorWithoutColor(t *testing.T) {
	color.NoColor = true
	for _, s := range finding.TerminalStatuses {
		assert.Equal(t, string(s), StatusColor(s))
	}
	assert.Equal(t, "HIGH", SeverityColor(finding.SeverityHigh))
}
