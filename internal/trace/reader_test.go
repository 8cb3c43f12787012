package trace

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatimblin/aptitude/internal/testutil"
)

func TestReadFile_TruncatedMiddleLine(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLog(t, dir, "session.jsonl",
		testutil.AssistantLine(t, "2024-01-19T12:00:00Z", testutil.ToolUse{Name: "Read", Input: map[string]any{"file_path": "a.txt"}}),
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Wri`,
		testutil.AssistantLine(t, "2024-01-19T12:00:01Z", testutil.ToolUse{Name: "Bash", Input: map[string]any{"command": "ls"}}),
	)

	p := NewParser()
	seq, err := ReadFile(path, p)
	require.NoError(t, err)
	require.Equal(t, 2, seq.Len())
	assert.Equal(t, []string{"Read", "Bash"}, seq.Tools())
	assert.Equal(t, 1, p.Skipped())

	for i, a := range seq.Actions() {
		assert.Equal(t, i, a.Seq)
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"), nil)
	require.Error(t, err)

	var rerr *ResourceError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "open", rerr.Op)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestRead_LongLine(t *testing.T) {
	big := strings.Repeat("x", 256*1024)
	line := testutil.AssistantLine(t, "", testutil.ToolUse{Name: "Write", Input: map[string]any{"content": big}})

	seq, err := Read(strings.NewReader(line+"\n"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, seq.Len())

	content, ok := seq.At(0).Params.Text("content")
	require.True(t, ok)
	assert.Len(t, content, len(big))
}

func TestRead_LastLineWithoutNewline(t *testing.T) {
	line := testutil.AssistantLine(t, "", testutil.ToolUse{Name: "Glob"})

	seq, err := Read(strings.NewReader(line), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, seq.Len())
}

func TestRead_Deterministic(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	input := testutil.AssistantLine(t, "2024-01-19T12:00:00Z",
		testutil.ToolUse{Name: "Read", Input: map[string]any{"file_path": "x"}},
		testutil.ToolUse{Name: "Edit", Input: map[string]any{"file_path": "x", "old_string": "a"}},
	) + "\n"

	first, err := Read(strings.NewReader(input), NewParser(WithClock(clock.Now)))
	require.NoError(t, err)
	second, err := Read(strings.NewReader(input), NewParser(WithClock(clock.Now)))
	require.NoError(t, err)

	assert.Equal(t, first.Actions(), second.Actions())

	fp1, err := first.Fingerprint()
	require.NoError(t, err)
	fp2, err := second.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}
