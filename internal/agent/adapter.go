package agent

import (
	"context"
	"errors"
	"time"

	"github.com/tatimblin/aptitude/internal/trace"
)

var (
	// ErrNotRegistered is returned when no adapter has the requested name.
	ErrNotRegistered = errors.New("agent not registered")

	// ErrUnavailable is returned when an adapter's backend is not usable
	// on this system.
	ErrUnavailable = errors.New("agent not available")

	// ErrEmptyResponse is returned by Grade when the backend printed
	// nothing but whitespace.
	ErrEmptyResponse = errors.New("grading agent returned empty response")

	// ErrNoSession is returned when no execution log could be found.
	ErrNoSession = errors.New("no session log found")

	// ErrTimeout is returned when the backend exceeds ExecConfig.Timeout.
	ErrTimeout = errors.New("agent timed out")
)

// ExecConfig controls how a backend is launched.
type ExecConfig struct {
	// WorkDir is the directory the agent runs in. Empty means the
	// current directory.
	WorkDir string

	// ExtraArgs are appended to the backend command line.
	ExtraArgs []string

	// Env adds KEY=VALUE entries to the inherited environment.
	Env []string

	// Timeout bounds the launch. Zero means no bound.
	Timeout time.Duration
}

// RawResult is what a backend produced before its trace is parsed.
type RawResult struct {
	// SessionLog is the execution log path, for backends that write one.
	SessionLog string

	// Stdout is the agent's final text output.
	Stdout    string
	HasStdout bool

	ExitCode  int
	StartedAt time.Time

	// Context holds backend-specific state needed by ParseTrace.
	Context any
}

// Adapter is one agent backend.
type Adapter interface {
	// Name is the registry key.
	Name() string

	// Launch runs the agent to completion on prompt.
	Launch(ctx context.Context, prompt string, cfg ExecConfig) (*RawResult, error)

	// ParseTrace reads the complete trace of a finished launch.
	// Tool names are native; callers normalize them with Mapping.
	ParseTrace(ctx context.Context, raw *RawResult) (*trace.Sequence, error)

	// Mapping translates native tool names to canonical ones.
	Mapping() NameMapping

	// Available reports whether the backend can be launched here.
	Available(ctx context.Context) bool

	// Grade runs the backend as a plain completion and returns its text
	// output. model is passed through when non-empty.
	Grade(ctx context.Context, prompt, model string) (string, error)
}

// LiveTracer is implemented by backends whose execution log can be
// observed while the agent is running.
type LiveTracer interface {
	// Locate returns a Locator for the log the next launch will write.
	// It must be called before Launch.
	Locate(cfg ExecConfig, startedAt time.Time) (*trace.Locator, error)
}
