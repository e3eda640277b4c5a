package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/verdict/internal/database"
	"github.com/zero-day-ai/verdict/internal/exclusion"
	"github.com/zero-day-ai/verdict/internal/types"
)

// exclusionEnv writes a config whose exclusion database lives in a temp dir
// and returns the config path and the database path.
func exclusionEnv(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "verdict.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "exclusions:\n  database: " + dbPath + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		globalFlags.ConfigFile = ""
		globalFlags.OutputFormat = "text"
		// subcommand flags keep their values between executions
		_ = exclusionAddCmd.Flags().Set("file", "")
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func listedIDs(t *testing.T, cfgPath string, all bool) []string {
	t.Helper()
	flag := "--all=false"
	if all {
		flag = "--all"
	}
	out, err := execute(t, cfgPath, "exclusion", "list", flag, "-o", "json")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r["ID"])
	}
	return ids
}

func seedTriggerCounts(t *testing.T, dbPath string, counts map[string]int64) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.InitSchema(ctx))
	require.NoError(t, exclusion.NewStore(db).AddTriggerCounts(ctx, counts))
}

func TestExclusionCommands_Lifecycle(t *testing.T) {
	cfgPath, _ := exclusionEnv(t)

	out, err := execute(t, cfgPath, "exclusion", "add", "-o", "text",
		"--id", "no-getters", "--name", "Getter noise",
		"--function-pattern", "^get_", "--priority", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "added no-getters")
	assert.Contains(t, listedIDs(t, cfgPath, false), "no-getters")
	assert.Contains(t, listedIDs(t, cfgPath, false), "move-no-reentrancy")

	out, err = execute(t, cfgPath, "exclusion", "disable", "no-getters", "move-no-reentrancy", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled no-getters")
	assert.Contains(t, out, "disabled move-no-reentrancy")

	enabled := listedIDs(t, cfgPath, false)
	assert.NotContains(t, enabled, "no-getters")
	assert.NotContains(t, enabled, "move-no-reentrancy")
	all := listedIDs(t, cfgPath, true)
	assert.Contains(t, all, "no-getters")
	assert.Contains(t, all, "move-no-reentrancy")

	_, err = execute(t, cfgPath, "exclusion", "enable", "move-no-reentrancy", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, listedIDs(t, cfgPath, false), "move-no-reentrancy")

	_, err = execute(t, cfgPath, "exclusion", "remove", "move-no-reentrancy", "-o", "text")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.EXCLUSION_INVALID_RULE))

	out, err = execute(t, cfgPath, "exclusion", "rm", "no-getters", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "removed no-getters")
	assert.NotContains(t, listedIDs(t, cfgPath, true), "no-getters")
}

func TestExclusionCommands_Rejections(t *testing.T) {
	cfgPath, _ := exclusionEnv(t)

	_, err := execute(t, cfgPath, "exclusion", "disable", "no-such-rule", "-o", "text")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.EXCLUSION_NOT_FOUND))

	_, err = execute(t, cfgPath, "exclusion", "add", "-o", "text",
		"--id", "broken", "--name", "Broken", "--function-pattern", "(", "--priority", "0")
	require.Error(t, err)
	assert.NotContains(t, listedIDs(t, cfgPath, true), "broken")
}

func TestExclusionCommands_AddFromFile(t *testing.T) {
	cfgPath, _ := exclusionEnv(t)
	rules := writeFindings(t, "rules.yaml", `exclusions:
  - id: admin-only
    name: Admin-only setters
    match:
      function_pattern: "^admin_"
  - id: oracle-noise
    name: Oracle staleness remarks
    match:
      title_contains: [stale price]
`)

	out, err := execute(t, cfgPath, "exclusion", "add", "--file", rules, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "added admin-only")
	assert.Contains(t, out, "added oracle-noise")

	ids := listedIDs(t, cfgPath, false)
	assert.Contains(t, ids, "admin-only")
	assert.Contains(t, ids, "oracle-noise")
}

func TestExclusionCommands_TestIsDryRun(t *testing.T) {
	cfgPath, dbPath := exclusionEnv(t)
	seedTriggerCounts(t, dbPath, map[string]int64{
		exclusion.OverlapRuleID: 3,
		"move-no-reentrancy":    2,
	})

	stats := func() exclusion.Stats {
		out, err := execute(t, cfgPath, "exclusion", "stats", "-o", "json")
		require.NoError(t, err)
		var s exclusion.Stats
		require.NoError(t, json.Unmarshal([]byte(out), &s))
		return s
	}
	before := stats()
	assert.Equal(t, int64(3), before.Overlap)
	assert.Equal(t, int64(2), before.Rules["move-no-reentrancy"])
	assert.Equal(t, int64(5), before.Total())

	out, err := execute(t, cfgPath, "exclusion", "test", "-f", findingsFile(t), "-o", "json")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "F-1", rows[0]["FINDING"])
	assert.Equal(t, "kept", rows[0]["RESULT"])
	assert.Equal(t, "F-2", rows[1]["FINDING"])
	assert.Equal(t, "excluded "+exclusion.OverlapRuleID, rows[1]["RESULT"])

	assert.Equal(t, before, stats())

	out, err = execute(t, cfgPath, "exclusion", "stats", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, exclusion.OverlapRuleID)
	assert.Contains(t, out, "move-no-reentrancy")
	assert.Contains(t, out, "total")
}
