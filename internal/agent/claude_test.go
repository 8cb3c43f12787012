package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatimblin/aptitude/internal/trace"
)

const fakeClaude = `
case "$1" in
  --version) echo "fake 1.0"; exit 0 ;;
esac
if [ -n "$FAKE_LOG_DIR" ]; then
cat > "$FAKE_LOG_DIR/session.jsonl" <<'JSONL'
{"type":"user","message":{"content":"go"}}
{"type":"assistant","timestamp":"2024-01-19T12:00:00Z","message":{"content":[{"type":"tool_use","id":"1","name":"Read","input":{"file_path":"README.md"}}]}}
{"type":"assistant","timestamp":"2024-01-19T12:00:01Z","message":{"content":[{"type":"tool_use","id":"2","name":"Bash","input":{"command":"ls -la"}}]}}
JSONL
fi
echo "prompt was: $2"
`

// claudeFixture wires a Claude adapter to a fake binary and a temporary
// log root with the project directory already present.
func claudeFixture(t *testing.T, script string) (*Claude, ExecConfig) {
	t.Helper()

	bin := writeScript(t, t.TempDir(), "claude", script)
	workDir, err := resolveWorkDir(t.TempDir())
	require.NoError(t, err)

	root := t.TempDir()
	projectDir := filepath.Join(root, strings.ReplaceAll(workDir, "/", "-"))
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	c := NewClaude()
	c.Binary = bin
	c.LogRoot = root

	return c, ExecConfig{
		WorkDir: workDir,
		Env:     []string{"FAKE_LOG_DIR=" + projectDir},
	}
}

func TestClaude_LaunchAndParse(t *testing.T) {
	c, cfg := claudeFixture(t, fakeClaude)
	ctx := context.Background()

	raw, err := c.Launch(ctx, "hello", cfg)
	require.NoError(t, err)
	assert.Equal(t, "prompt was: hello\n", raw.Stdout)
	assert.True(t, raw.HasStdout)
	assert.Equal(t, 0, raw.ExitCode)
	require.NotEmpty(t, raw.SessionLog)

	seq, err := c.ParseTrace(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Read", "Bash"}, seq.Tools())
}

func TestClaude_ParseTraceWithoutSession(t *testing.T) {
	_, err := NewClaude().ParseTrace(context.Background(), &RawResult{})
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestClaude_Available(t *testing.T) {
	c, _ := claudeFixture(t, fakeClaude)
	assert.True(t, c.Available(context.Background()))

	c.Binary = filepath.Join(t.TempDir(), "missing")
	assert.False(t, c.Available(context.Background()))
}

func TestClaude_GradePassesModel(t *testing.T) {
	c, _ := claudeFixture(t, `echo "$@"`)

	out, err := c.Grade(context.Background(), "rate this", "opus")
	require.NoError(t, err)
	assert.Equal(t, "--print rate this --model opus\n", out)

	out, err = c.Grade(context.Background(), "rate this", "")
	require.NoError(t, err)
	assert.Equal(t, "--print rate this\n", out)
}

func TestClaude_GradeEmptyResponse(t *testing.T) {
	c, _ := claudeFixture(t, `echo "   "`)

	_, err := c.Grade(context.Background(), "rate this", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestClaude_LaunchTimeout(t *testing.T) {
	c, cfg := claudeFixture(t, `exec sleep 5`)
	cfg.Timeout = 50 * time.Millisecond

	_, err := c.Launch(context.Background(), "hello", cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestExecute_ClaudeDerivesFinalSequence(t *testing.T) {
	c, cfg := claudeFixture(t, fakeClaude)

	var mu sync.Mutex
	var observed []trace.Event
	exec, err := Execute(context.Background(), c, "hello", cfg, ExecuteOptions{
		DiscoverInterval: 5 * time.Millisecond,
		TailInterval:     5 * time.Millisecond,
		Observer: func(ev trace.Event) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, ev)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ClaudeName, exec.Agent)
	assert.Equal(t, []string{ToolRead, ToolBash}, exec.Sequence.Tools())

	stdout, ok := exec.Sequence.Stdout()
	require.True(t, ok)
	assert.Equal(t, "prompt was: hello\n", stdout)

	mu.Lock()
	defer mu.Unlock()
	var tools []string
	for _, ev := range observed {
		if ev.Kind == trace.ActionObserved {
			tools = append(tools, ev.Action.Tool)
		}
	}
	assert.Equal(t, []string{"Read", "Bash"}, tools, "final drain delivers every action to the observer")
	assert.Equal(t, exec.Sequence.Len(), exec.Live.Len())
}
