package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/tatimblin/aptitude/internal/harness"
	"github.com/tatimblin/aptitude/internal/trace"
)

// OutputMode controls when tool calls and the agent response are shown.
type OutputMode string

const (
	ShowAlways    OutputMode = "always"
	ShowOnFailure OutputMode = "on-failure"
	ShowNever     OutputMode = "never"
)

// DefaultTruncate is the parameter preview width.
const DefaultTruncate = trace.PreviewWidth

func parseOutputMode(s string) (OutputMode, error) {
	switch m := OutputMode(s); m {
	case ShowAlways, ShowOnFailure, ShowNever:
		return m, nil
	}
	return "", fmt.Errorf("invalid output mode %q: must be one of always, on-failure, never", s)
}

func (m OutputMode) show(passed bool) bool {
	switch m {
	case ShowAlways:
		return true
	case ShowOnFailure:
		return !passed
	default:
		return false
	}
}

// Display renders test results as text.
type Display struct {
	ToolCalls OutputMode
	Response  OutputMode
	Truncate  int

	// WorkDir is stripped from path parameters.
	WorkDir string
}

// newDisplay returns the display for the given flags. Verbose shows
// everything.
func newDisplay(tools, response string, truncate int, verbose bool, workDir string) (*Display, error) {
	d := &Display{Truncate: truncate, WorkDir: workDir}
	if d.Truncate <= 0 {
		d.Truncate = DefaultTruncate
	}
	if verbose {
		d.ToolCalls, d.Response = ShowAlways, ShowAlways
		return d, nil
	}

	var err error
	if d.ToolCalls, err = parseOutputMode(tools); err != nil {
		return nil, err
	}
	if d.Response, err = parseOutputMode(response); err != nil {
		return nil, err
	}
	return d, nil
}

// Result prints one test's assertions, then its tool calls and response
// when the output modes allow it.
func (d *Display) Result(w io.Writer, r *harness.Result) {
	for _, a := range r.Assertions {
		fmt.Fprintf(w, "  %s %s\n", mark(a.Passed), a.Description)
		if a.Passed {
			continue
		}
		for _, line := range failureLines(a) {
			fmt.Fprintf(w, "    └─ %s\n", line)
		}
	}

	passed, failed := r.Counts()
	summary := fmt.Sprintf("Results: %d/%d passed", passed, passed+failed)
	if r.Pass {
		fmt.Fprintf(w, "\n%s\n", green(summary))
	} else {
		fmt.Fprintf(w, "\n%s\n", red(summary))
	}

	d.ToolCallList(w, r.Actions, r.Pass)
	if r.Stdout != nil {
		d.AgentResponse(w, *r.Stdout, r.Pass)
	}
}

// ToolCallList prints the observed calls if the mode allows it.
func (d *Display) ToolCallList(w io.Writer, actions []trace.Action, passed bool) {
	if !d.ToolCalls.show(passed) {
		return
	}
	fmt.Fprintf(w, "\n%s\n", yellow("Tool calls made during execution:"))
	if len(actions) == 0 {
		fmt.Fprintln(w, "  (no tool calls)")
		return
	}
	for _, a := range actions {
		fmt.Fprintln(w, d.ToolCall(a))
	}
}

// AgentResponse prints the agent's final output if the mode allows it.
func (d *Display) AgentResponse(w io.Writer, stdout string, passed bool) {
	if !d.Response.show(passed) || stdout == "" {
		return
	}
	fmt.Fprintf(w, "\n%s\n", yellow("Agent response:"))
	for _, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// ToolCall formats one call as "  [HH:MM:SS] Tool primary-param".
func (d *Display) ToolCall(a trace.Action) string {
	ts := "??:??:??"
	if !a.Timestamp.IsZero() {
		ts = a.Timestamp.UTC().Format("15:04:05")
	}
	line := fmt.Sprintf("  [%s] %s", ts, cyan(a.Tool))
	if p := d.primaryParam(a.Params); p != "" {
		line += " " + p
	}
	return line
}

// primaryParam picks the most telling parameter: command, file_path,
// pattern or url, else the first one recorded.
func (d *Display) primaryParam(p trace.Params) string {
	for _, key := range []string{"command", "file_path", "pattern", "url"} {
		if v, ok := p.Get(key); ok {
			return d.preview(v)
		}
	}
	if keys := p.Keys(); len(keys) > 0 {
		v, _ := p.Get(keys[0])
		return d.preview(v)
	}
	return ""
}

func (d *Display) preview(v any) string {
	s := trace.ValueText(v)
	if _, isString := v.(string); isString {
		s = d.relative(s)
	}
	return trace.Preview(s, d.Truncate)
}

func (d *Display) relative(s string) string {
	if d.WorkDir == "" {
		return s
	}
	prefix := filepath.Clean(d.WorkDir)
	if s == prefix {
		return "."
	}
	if rest, ok := strings.CutPrefix(s, prefix+string(filepath.Separator)); ok && rest != "" {
		return rest
	}
	return s
}

// failureLines explains a failed assertion, one line per problem.
func failureLines(a harness.AssertionResult) []string {
	switch {
	case a.Tool != nil:
		lines := make([]string, 0, len(a.Tool.Failures))
		for _, f := range a.Tool.Failures {
			lines = append(lines, f.Message)
		}
		return lines
	case a.Error != "":
		return []string{a.Error}
	case a.Verdict != nil:
		line := fmt.Sprintf("score %d/10, threshold %d", a.Verdict.Score, a.Verdict.Threshold)
		if a.Verdict.Reasoning != "" {
			line += ": " + a.Verdict.Reasoning
		}
		return []string{line}
	}
	return nil
}
