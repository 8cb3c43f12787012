package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tatimblin/aptitude/internal/trace"
)

// ClaudeName is the registry name of the Claude Code backend.
const ClaudeName = "claude"

// Claude launches Claude Code in print mode and reads its JSONL session
// log from the per-project directory under LogRoot.
type Claude struct {
	// Binary is the executable to run. Defaults to "claude".
	Binary string

	// LogRoot is the projects directory holding session logs.
	// Defaults to ~/.claude/projects.
	LogRoot string

	Logger *slog.Logger
	Now    func() time.Time

	mapping NameMapping
}

// NewClaude creates the Claude Code adapter with default settings.
func NewClaude() *Claude {
	return &Claude{
		Binary: "claude",
		Now:    time.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		mapping: NewNameMapping(map[string]string{
			"Read":            ToolRead,
			"Write":           ToolWrite,
			"Edit":            ToolEdit,
			"Bash":            ToolBash,
			"Grep":            ToolGrep,
			"Glob":            ToolGlob,
			"LS":              ToolLS,
			"AskUserQuestion": ToolAskUser,
			"Task":            ToolTask,
			"WebFetch":        ToolWebFetch,
			"WebSearch":       ToolWebSearch,
			"NotebookEdit":    ToolNotebookEdit,
			"TodoWrite":       ToolTodoWrite,
			"KillShell":       ToolKillShell,
			"TaskOutput":      ToolTaskOutput,
		}),
	}
}

func (c *Claude) Name() string { return ClaudeName }

func (c *Claude) Mapping() NameMapping { return c.mapping }

// Available runs `claude --version`.
func (c *Claude) Available(ctx context.Context) bool {
	return probe(ctx, c.Binary)
}

// Locate returns a Locator over the project log directory for
// cfg.WorkDir, snapshotting the logs already there.
func (c *Claude) Locate(cfg ExecConfig, startedAt time.Time) (*trace.Locator, error) {
	root, err := c.logRoot()
	if err != nil {
		return nil, err
	}
	workDir, err := resolveWorkDir(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	return trace.NewLocator(trace.ProjectLogDir(root, workDir), startedAt)
}

// Launch runs `claude --print <prompt>` with stdin closed, then finds the
// session log the run created.
func (c *Claude) Launch(ctx context.Context, prompt string, cfg ExecConfig) (*RawResult, error) {
	startedAt := c.Now()
	loc, err := c.Locate(cfg, startedAt)
	if err != nil {
		return nil, fmt.Errorf("claude: locate session logs: %w", err)
	}

	args := append([]string{"--print", prompt}, cfg.ExtraArgs...)
	c.Logger.Debug("launching agent", "agent", ClaudeName, "dir", cfg.WorkDir, "log_dir", loc.Dir())

	out, err := run(ctx, command{
		name:    c.Binary,
		args:    args,
		dir:     cfg.WorkDir,
		env:     cfg.Env,
		timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	raw := &RawResult{
		Stdout:    out.stdout,
		HasStdout: out.stdout != "",
		ExitCode:  out.exitCode,
		StartedAt: startedAt,
	}

	path, ok, err := loc.Find()
	if err != nil {
		return raw, fmt.Errorf("claude: find session log: %w", err)
	}
	if ok {
		raw.SessionLog = path
	}
	return raw, nil
}

// ParseTrace reads the session log found by Launch.
func (c *Claude) ParseTrace(_ context.Context, raw *RawResult) (*trace.Sequence, error) {
	if raw == nil || raw.SessionLog == "" {
		return nil, fmt.Errorf("claude: %w", ErrNoSession)
	}
	parser := trace.NewParser(trace.WithClock(c.Now), trace.WithLogger(c.Logger))
	seq, err := trace.ReadFile(raw.SessionLog, parser)
	if err != nil {
		return nil, err
	}
	if n := parser.Skipped(); n > 0 {
		c.Logger.Debug("skipped unparseable log lines", "path", raw.SessionLog, "count", n)
	}
	return seq, nil
}

// Grade runs `claude --print <prompt> [--model m]`.
func (c *Claude) Grade(ctx context.Context, prompt, model string) (string, error) {
	args := []string{"--print", prompt}
	if model != "" {
		args = append(args, "--model", model)
	}
	out, err := run(ctx, command{name: c.Binary, args: args})
	if err != nil {
		return "", err
	}
	return completion(ClaudeName, out)
}

func (c *Claude) logRoot() (string, error) {
	if c.LogRoot != "" {
		return c.LogRoot, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// resolveWorkDir returns the absolute, symlink-free form of dir, or of
// the current directory when dir is empty.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
