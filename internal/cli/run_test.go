package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatimblin/aptitude/internal/store"
)

// runResponse mirrors the JSON output of the run command.
type runResponse struct {
	Status string `json:"status"`
	Data   struct {
		Tests []struct {
			Name   string   `json:"name"`
			Pass   bool     `json:"pass"`
			Code   string   `json:"code"`
			Errors []string `json:"errors"`
		} `json:"tests"`
		Passed int `json:"passed"`
		Failed int `json:"failed"`
		Total  int `json:"total"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRunPassing(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, path)
	require.NoError(t, err)

	assert.Contains(t, out, `Running: "Reads Go files"`)
	assert.Contains(t, out, "✓ Read with file_path='*.go' called after Glob")
	assert.Contains(t, out, "✓ Bash not called")
	assert.Contains(t, out, "Results: 3/3 passed")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All tests passed")
	assert.NotContains(t, out, "Tool calls made during execution:")
}

func TestRunFailing(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	fake := claudeAgent()
	fake.seq = nil
	fake.response = `{"score": 3, "reasoning": "vague"}`

	out, _, err := execute(t, registryOf(fake), "run", "-C", dir, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Read with file_path='*.go' called after Glob")
	assert.Contains(t, out, "    └─ ")
	assert.Contains(t, out, "score 3/10, threshold 7: vague")
	assert.Contains(t, out, "Results: 1/3 passed")
	assert.Contains(t, out, "Tool calls made during execution:")
	assert.Contains(t, out, "(no tool calls)")
	assert.Contains(t, out, "Agent response:")
	assert.Contains(t, out, "  main.go starts an HTTP server.")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
	assert.False(t, Reported(err))
}

func TestRunShowToolsAlways(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--show-tools", "always", "--show-response", "never", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Tool calls made during execution:")
	assert.Contains(t, out, "Glob **/*.go")
	assert.Contains(t, out, "Read cmd/main.go")
	assert.NotContains(t, out, "Agent response:")
}

func TestRunInvalidOutputMode(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	_, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--show-tools", "sometimes", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid output mode")
}

func TestRunJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--format", "json", path)
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Tests, 1)
	assert.Equal(t, "Reads Go files", resp.Data.Tests[0].Name)
	assert.True(t, resp.Data.Tests[0].Pass)
}

func TestRunJSONFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	fake := claudeAgent()
	fake.seq = nil

	out, _, err := execute(t, registryOf(fake), "run", "-C", dir, "--format", "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	require.Len(t, resp.Data.Tests, 1)
	assert.Equal(t, CodeTestFailed, resp.Data.Tests[0].Code)
	assert.NotEmpty(t, resp.Data.Tests[0].Errors)
	assert.True(t, Reported(err))
}

func TestRunAgentUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	fake := claudeAgent()
	fake.available = false

	out, _, err := execute(t, registryOf(fake), "run", "-C", dir, "--format", "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	require.Len(t, resp.Data.Tests, 1)
	assert.Equal(t, CodeAgent, resp.Data.Tests[0].Code)
	assert.Contains(t, resp.Data.Tests[0].Errors[0], "agent failed")
}

func TestRunAgentOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	kiro := claudeAgent()
	kiro.name = "kiro"

	out, _, err := execute(t, registryOf(kiro), "run", "-C", dir, "--agent", "kiro", path)
	require.NoError(t, err)
	assert.Contains(t, out, "kiro finished with 2 tool calls")
}

func TestRunLoadErrorContinues(t *testing.T) {
	dir := t.TempDir()
	writeTest(t, dir, "broken.aptitude.yaml", "name: [unterminated\n")
	writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--format", "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeRun(t, out)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)

	codes := map[string]string{}
	for _, tr := range resp.Data.Tests {
		codes[tr.Name] = tr.Code
	}
	assert.Equal(t, CodeLoad, codes["broken.aptitude.yaml"])
	assert.Empty(t, codes["Reads Go files"])
}

func TestRunDiscoversFromWorkDir(t *testing.T) {
	dir := t.TempDir()
	writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)
	writeTest(t, dir, "nested/shell.aptitude.yml", noBash)
	writeTest(t, dir, "notes.yaml", "not a test")
	writeTest(t, dir, "node_modules/dep.aptitude.yaml", "ignored: true")
	writeTest(t, dir, ".aptitude.yaml", "recursive: true\n")

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `Running: "Reads Go files"`)
	assert.Contains(t, out, `Running: "Never runs shell"`)
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestRunNoTests(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No tests found.")
}

func TestRunNonExistentPath(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, filepath.Join(dir, "missing.aptitude.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "test path not found")
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)
	writeTest(t, dir, ".aptitude.yaml", "threshold: 9\n")

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "score 8/10, threshold 9")

	// The flag wins over the file.
	_, _, err = execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--threshold", "8", path)
	require.NoError(t, err)
}

func TestRunRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)
	dbPath := filepath.Join(dir, "history.db")

	_, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--history", dbPath, path)
	require.NoError(t, err)
	_, _, err = execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--history", dbPath, path)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Test: "Reads Go files"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].Fingerprint, runs[1].Fingerprint)
	assert.True(t, runs[0].Passed)
	assert.Equal(t, store.ModeRun, runs[0].Mode)
}

func TestRunGolden(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "reads.aptitude.yaml", readsGoFiles)
	goldenPath := filepath.Join(dir, "golden", "reads.aptitude.golden")

	out, _, err := execute(t, registryOf(claudeAgent()), "run", "-C", dir, "--update", path)
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")
	require.FileExists(t, goldenPath)

	// Same behavior matches.
	_, _, err = execute(t, registryOf(claudeAgent()), "run", "-C", dir, path)
	require.NoError(t, err)

	// A stale snapshot fails the run even though every assertion passes.
	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))

	out, _, err = execute(t, registryOf(claudeAgent()), "run", "-C", dir, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestGoldenFilePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"tests/reads.aptitude.yaml", "tests/golden/reads.aptitude.golden"},
		{"/abs/path/shell.aptitude.yml", "/abs/path/golden/shell.aptitude.golden"},
		{"simple.yaml", "golden/simple.golden"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, goldenFilePath(tt.input))
		})
	}
}

func TestRunHelpText(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	assert.Contains(t, cmd.Long, "Golden files")
	assert.Contains(t, cmd.Long, "Exit codes")

	for _, flag := range []string{"agent", "grader", "model", "threshold", "timeout", "history", "pattern", "update", "show-tools", "show-response", "truncate"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
}
