package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// ToolUse describes one tool_use block for AssistantLine.
type ToolUse struct {
	Name  string
	Input map[string]any
}

// AssistantLine renders an assistant record carrying the given tool
// uses, in the execution log format.
func AssistantLine(t *testing.T, timestamp string, uses ...ToolUse) string {
	t.Helper()

	blocks := make([]map[string]any, 0, len(uses))
	for i, u := range uses {
		input := u.Input
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    fmt.Sprintf("toolu_%02d", i),
			"name":  u.Name,
			"input": input,
		})
	}

	rec := map[string]any{
		"type":    "assistant",
		"message": map[string]any{"content": blocks},
	}
	if timestamp != "" {
		rec["timestamp"] = timestamp
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(data)
}

// TextLine renders an assistant record containing only text.
func TextLine(t *testing.T, text string) string {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	})
	require.NoError(t, err)
	return string(data)
}

// UserLine renders a user turn record.
func UserLine(t *testing.T, text string) string {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"type":    "user",
		"message": map[string]any{"content": text},
	})
	require.NoError(t, err)
	return string(data)
}

// WriteLog writes lines to dir/name, each terminated by a newline, and
// returns the path. Parent directories are created as needed.
func WriteLog(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

// AppendLog appends raw text to an existing log without adding a newline.
func AppendLog(t *testing.T, path, raw string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(raw)
	require.NoError(t, err)
}
