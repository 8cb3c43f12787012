package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatimblin/aptitude/internal/agent"
	"github.com/tatimblin/aptitude/internal/store"
	"github.com/tatimblin/aptitude/internal/testutil"
)

func writeSession(t *testing.T, dir string, uses ...testutil.ToolUse) string {
	t.Helper()
	lines := []string{testutil.UserLine(t, "Summarize main.go")}
	for _, u := range uses {
		lines = append(lines, testutil.AssistantLine(t, "2024-01-19T12:00:00Z", u))
	}
	return testutil.WriteLog(t, dir, "session.jsonl", lines...)
}

func TestAnalyzePassing(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "shell.aptitude.yaml", noBash)
	logPath := writeSession(t, dir,
		testutil.ToolUse{Name: "Glob", Input: map[string]any{"pattern": "*.go"}},
		testutil.ToolUse{Name: "Read", Input: map[string]any{"file_path": filepath.Join(dir, "main.go")}},
	)

	out, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, "--show-tools", "always", testPath, logPath)
	require.NoError(t, err)

	assert.Contains(t, out, `Analyzing: "Never runs shell"`)
	assert.Contains(t, out, "Found 2 tool calls")
	assert.Contains(t, out, "✓ Bash not called")
	assert.Contains(t, out, "[12:00:00] Glob *.go")
	assert.Contains(t, out, "Read main.go")
}

func TestAnalyzeMapsToolNames(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)
	logPath := writeSession(t, dir,
		testutil.ToolUse{Name: "list_files", Input: map[string]any{"pattern": "*.go"}},
		testutil.ToolUse{Name: "fs_read", Input: map[string]any{"file_path": "main.go"}},
	)

	kiro := &fakeAgent{
		name:     "kiro",
		mapping:  agent.NewNameMapping(map[string]string{"fs_read": "Read", "list_files": "Glob"}),
		response: `{"score": 1, "reasoning": "no output"}`,
	}

	out, _, err := execute(t, registryOf(claudeAgent(), kiro), "analyze", "-C", dir, "--agent", "kiro", testPath, logPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✓ Read with file_path='*.go' called after Glob")
	assert.Contains(t, out, "✗ stdout review")
	assert.Contains(t, out, "Results: 2/3 passed")
}

func TestAnalyzeJSON(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "shell.aptitude.yaml", noBash)
	logPath := writeSession(t, dir, testutil.ToolUse{Name: "Bash", Input: map[string]any{"command": "ls"}})

	out, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, "--format", "json", testPath, logPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Data.Tests, 1)
	assert.False(t, resp.Data.Tests[0].Pass)
	assert.Equal(t, CodeTestFailed, resp.Data.Tests[0].Code)
	assert.True(t, Reported(err))
}

func TestAnalyzeRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "shell.aptitude.yaml", noBash)
	logPath := writeSession(t, dir, testutil.ToolUse{Name: "Glob", Input: map[string]any{"pattern": "*.go"}})
	dbPath := filepath.Join(dir, "history.db")

	_, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, "--history", dbPath, testPath, logPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.ModeAnalyze, runs[0].Mode)
	assert.Nil(t, runs[0].Stdout)
}

func TestAnalyzeMissingLog(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "shell.aptitude.yaml", noBash)

	out, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, "--format", "json", testPath, filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTrace, resp.Error.Code)
	assert.True(t, Reported(err))
}

func TestAnalyzeUnknownAgent(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "shell.aptitude.yaml", noBash)
	logPath := writeSession(t, dir)

	_, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, "--agent", "nobody", testPath, logPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, agent.ErrNotRegistered)
}

func TestAnalyzeInvalidTest(t *testing.T) {
	dir := t.TempDir()
	testPath := writeTest(t, dir, "broken.aptitude.yaml", "prompt: no name\n")
	logPath := writeSession(t, dir)

	_, _, err := execute(t, registryOf(claudeAgent()), "analyze", "-C", dir, testPath, logPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load test")
}

func TestAnalyzeMissingArgs(t *testing.T) {
	_, _, err := execute(t, registryOf(claudeAgent()), "analyze", "only-one.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}
