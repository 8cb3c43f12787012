package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// command is one backend process invocation.
type command struct {
	name    string
	args    []string
	dir     string
	env     []string
	stdin   string
	timeout time.Duration
}

// output is the captured result of a finished process.
type output struct {
	stdout   string
	stderr   string
	exitCode int
}

// waitDelay bounds how long Wait blocks on pipes after the process is
// killed.
const waitDelay = 2 * time.Second

// run starts c and waits for it. A non-zero exit status is reported
// through exitCode, not as an error.
func run(ctx context.Context, c command) (*output, error) {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.name, c.args...)
	cmd.Dir = c.dir
	cmd.WaitDelay = waitDelay
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	if c.stdin != "" {
		cmd.Stdin = strings.NewReader(c.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &output{stdout: stdout.String(), stderr: stderr.String()}

	if runCtx.Err() != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%s: %w after %s", c.name, ErrTimeout, c.timeout)
		}
		return out, fmt.Errorf("%s: %w", c.name, ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.exitCode = exitErr.ExitCode()
	default:
		return out, fmt.Errorf("failed to run %s: %w", c.name, err)
	}
	return out, nil
}

// probe reports whether `name --version` exits successfully.
func probe(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, "--version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

// completion validates a grading response.
func completion(name string, out *output) (string, error) {
	if strings.TrimSpace(out.stdout) == "" {
		if out.stderr != "" {
			return "", fmt.Errorf("%s: %w (stderr: %s)", name, ErrEmptyResponse, strings.TrimSpace(out.stderr))
		}
		return "", fmt.Errorf("%s: %w", name, ErrEmptyResponse)
	}
	return out.stdout, nil
}
