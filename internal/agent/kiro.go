package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tatimblin/aptitude/internal/trace"
)

// KiroName is the registry name of the Kiro CLI backend.
const KiroName = "kiro"

// KiroDBEnv overrides the location of Kiro's conversation database.
const KiroDBEnv = "KIRO_DB_PATH"

// kiroSession is the RawResult context Kiro needs to find its
// conversation after the run.
type kiroSession struct {
	workDir   string
	startedAt time.Time
}

// Kiro launches kiro-cli with the prompt on stdin. Kiro keeps no JSONL
// log; its conversation is read back from the SQLite database, keyed by
// working directory.
type Kiro struct {
	// Binary is the executable to run. Defaults to "kiro-cli".
	Binary string

	// DBPath is the conversation database. Empty means KIRO_DB_PATH or
	// the platform data directory.
	DBPath string

	Logger *slog.Logger
	Now    func() time.Time

	mapping NameMapping
}

// NewKiro creates the Kiro adapter with default settings.
func NewKiro() *Kiro {
	return &Kiro{
		Binary: "kiro-cli",
		Now:    time.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		mapping: NewNameMapping(map[string]string{
			"fs_read":      ToolRead,
			"execute_bash": ToolBash,
			"fs_write":     ToolWrite,
			"fs_edit":      ToolEdit,
			"glob":         ToolGlob,
			"grep":         ToolGrep,
		}),
	}
}

func (k *Kiro) Name() string { return KiroName }

func (k *Kiro) Mapping() NameMapping { return k.mapping }

// Available runs `kiro-cli --version`.
func (k *Kiro) Available(ctx context.Context) bool {
	return probe(ctx, k.Binary)
}

// Launch runs `kiro-cli chat --no-interactive`, writing the prompt to
// stdin.
func (k *Kiro) Launch(ctx context.Context, prompt string, cfg ExecConfig) (*RawResult, error) {
	workDir, err := resolveWorkDir(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("kiro: %w", err)
	}
	startedAt := k.Now()

	args := append([]string{"chat", "--no-interactive"}, cfg.ExtraArgs...)
	k.Logger.Debug("launching agent", "agent", KiroName, "dir", workDir)

	out, err := run(ctx, command{
		name:    k.Binary,
		args:    args,
		dir:     cfg.WorkDir,
		env:     cfg.Env,
		stdin:   prompt,
		timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return &RawResult{
		Stdout:    out.stdout,
		HasStdout: out.stdout != "",
		ExitCode:  out.exitCode,
		StartedAt: startedAt,
		Context:   kiroSession{workDir: workDir, startedAt: startedAt},
	}, nil
}

// ParseTrace reads the newest conversation for the run's working
// directory updated since the run started.
//
// The start time is taken before the process is spawned, so another
// Kiro session in the same directory during that window can be picked
// up instead.
func (k *Kiro) ParseTrace(ctx context.Context, raw *RawResult) (*trace.Sequence, error) {
	if raw == nil {
		return nil, fmt.Errorf("kiro: %w", ErrNoSession)
	}
	sess, ok := raw.Context.(kiroSession)
	if !ok {
		return nil, errors.New("kiro: no session context in execution result")
	}

	dbPath, err := k.dbPath()
	if err != nil {
		return nil, err
	}

	doc, err := k.queryConversation(ctx, dbPath, sess.workDir, sess.startedAt)
	if err != nil {
		return nil, err
	}

	parser := trace.NewParser(trace.WithClock(k.Now), trace.WithLogger(k.Logger))
	calls, err := parser.ParseKiroConversation(doc)
	if err != nil {
		return nil, err
	}
	return trace.SequenceFromCalls(calls), nil
}

// Grade runs `kiro-cli chat --no-interactive [--model m]` with the
// prompt on stdin.
func (k *Kiro) Grade(ctx context.Context, prompt, model string) (string, error) {
	args := []string{"chat", "--no-interactive"}
	if model != "" {
		args = append(args, "--model", model)
	}
	out, err := run(ctx, command{name: k.Binary, args: args, stdin: prompt})
	if err != nil {
		return "", err
	}
	return completion(KiroName, out)
}

// readOnlyDSN escapes path into a read-only SQLite URI.
func readOnlyDSN(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}).String()
}

func (k *Kiro) queryConversation(ctx context.Context, dbPath, workDir string, since time.Time) ([]byte, error) {
	db, err := sql.Open("sqlite3", readOnlyDSN(dbPath))
	if err != nil {
		return nil, &trace.ResourceError{Path: dbPath, Op: "open", Err: err}
	}
	defer db.Close()

	var value string
	err = db.QueryRowContext(ctx, `
		SELECT value FROM conversations_v2
		WHERE key = ? AND updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, workDir, since.UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("kiro: %w for %s", ErrNoSession, workDir)
	}
	if err != nil {
		return nil, &trace.ResourceError{Path: dbPath, Op: "query", Err: err}
	}
	return []byte(value), nil
}

func (k *Kiro) dbPath() (string, error) {
	path := k.DBPath
	if path == "" {
		path = os.Getenv(KiroDBEnv)
	}
	if path == "" {
		dataDir, err := userDataDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dataDir, "kiro-cli", "data.sqlite3")
	}
	if _, err := os.Stat(path); err != nil {
		return "", &trace.ResourceError{Path: path, Op: "open", Err: err}
	}
	return path, nil
}

// userDataDir returns the platform data directory. On Linux that is
// XDG_DATA_HOME, falling back to ~/.local/share.
func userDataDir() (string, error) {
	switch runtime.GOOS {
	case "darwin", "windows":
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not determine data directory: %w", err)
		}
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine data directory: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}
