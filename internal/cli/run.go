package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatimblin/aptitude/internal/config"
	"github.com/tatimblin/aptitude/internal/discovery"
	"github.com/tatimblin/aptitude/internal/harness"
	"github.com/tatimblin/aptitude/internal/store"
	"github.com/tatimblin/aptitude/internal/testfile"
	"github.com/tatimblin/aptitude/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Agent        string
	Grader       string
	Model        string
	Threshold    int
	Timeout      time.Duration
	GradeTimeout time.Duration
	History      string
	Pattern      string
	Update       bool // regenerate golden files
	ShowTools    string
	ShowResponse string
	Truncate     int
}

// runFlagKeys maps config keys to the run and analyze flags that
// override them.
var runFlagKeys = map[string]string{
	"agent":          "agent",
	"grader":         "grader",
	"model":          "model",
	"threshold":      "threshold",
	"history":        "history",
	"test_pattern":   "pattern",
	"timeouts.agent": "timeout",
	"timeouts.grade": "grade-timeout",
}

// TestReport holds the outcome of a single test file.
type TestReport struct {
	Name   string          `json:"name"`
	Path   string          `json:"path"`
	Pass   bool            `json:"pass"`
	Code   string          `json:"code,omitempty"`
	Errors []string        `json:"errors,omitempty"`
	Result *harness.Result `json:"result,omitempty"`
}

// RunSummary holds the overall outcome.
type RunSummary struct {
	Tests  []TestReport `json:"tests"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Total  int          `json:"total"`
}

func (s *RunSummary) add(r TestReport) {
	s.Tests = append(s.Tests, r)
	s.Total++
	if r.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [test-file-or-dir...]",
		Short: "Run tests against an agent",
		Long: `Run behavioral tests. Each test launches its agent on the prompt, records
the tool calls it makes, and evaluates the test's assertions.

With no arguments, tests are discovered under the configured root (or the
current directory) using the configured test_pattern.

Golden files: if <dir>/golden/<test>.golden exists next to a test file,
the run's behavior snapshot must match it. Use --update to regenerate.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed
  2 - Command error (invalid paths, bad config, etc.)

Examples:
  aptitude run
  aptitude run tests/reads-config.aptitude.yaml
  aptitude run tests/ --agent kiro --threshold 8
  aptitude run --history .aptitude/history.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args, cmd)
		},
	}

	addJudgeFlags(cmd, &opts.Agent, &opts.Grader, &opts.Model, &opts.Threshold, &opts.GradeTimeout, &opts.History)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "agent run timeout (0 = none)")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "test file name pattern for discovery")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	addDisplayFlags(cmd, &opts.ShowTools, &opts.ShowResponse, &opts.Truncate)

	return cmd
}

// addJudgeFlags registers the flags shared by run and analyze.
func addJudgeFlags(cmd *cobra.Command, agentName, grader, model *string, threshold *int, gradeTimeout *time.Duration, history *string) {
	cmd.Flags().StringVarP(agentName, "agent", "a", "", "agent backend (overrides the test file)")
	cmd.Flags().StringVar(grader, "grader", "", "backend used to grade stdout reviews")
	cmd.Flags().StringVar(model, "model", "", "model passed to the grader")
	cmd.Flags().IntVar(threshold, "threshold", 0, "default review pass threshold (1-10)")
	cmd.Flags().DurationVar(gradeTimeout, "grade-timeout", 0, "timeout per grading (0 = none)")
	cmd.Flags().StringVar(history, "history", "", "SQLite run history database")
}

func addDisplayFlags(cmd *cobra.Command, tools, response *string, truncate *int) {
	cmd.Flags().StringVar(tools, "show-tools", string(ShowOnFailure), "show tool calls: always|on-failure|never")
	cmd.Flags().StringVar(response, "show-response", string(ShowOnFailure), "show agent response: always|on-failure|never")
	cmd.Flags().IntVar(truncate, "truncate", DefaultTruncate, "parameter preview width")
}

func runTests(ctx context.Context, opts *RunOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd, runFlagKeys)
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "failed to load config", err)
	}
	wd, err := opts.workDir()
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "failed to resolve working directory", err)
	}

	display, err := newDisplay(opts.ShowTools, opts.ShowResponse, opts.Truncate, opts.Verbose, wd)
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "invalid output options", err)
	}

	paths, err := findTests(cfg, wd, args)
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "failed to find tests", err)
	}

	summary := RunSummary{Tests: []TestReport{}}
	if len(paths) == 0 {
		if opts.Format == "json" {
			return outputRunJSON(cmd, summary)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No tests found.")
		return nil
	}

	h, closeHistory, err := opts.newHarness(cmd, cfg, wd)
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to open history", err)
	}
	defer closeHistory()

	w := cmd.OutOrStdout()
	for i, path := range paths {
		if i > 0 && opts.Format != "json" {
			fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("─", 60))
		}
		summary.add(runTest(ctx, opts, h, display, path, opts.Agent, w))
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, summary)
	}
	return outputRunText(cmd, summary)
}

// findTests resolves the test files to run. Directory arguments are
// searched with the configured pattern; file arguments are taken as is.
func findTests(cfg *config.Config, wd string, args []string) ([]string, error) {
	finder := discovery.New()
	dopts := discovery.Options{
		Pattern:   cfg.TestPattern,
		Recursive: cfg.Recursive,
		Exclude:   cfg.Exclude,
	}
	if len(args) == 0 {
		found, err := finder.Find(cfg.SearchDir(wd), dopts)
		return withoutConfig(found), err
	}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("test path not found: %s", arg)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := finder.Find(arg, dopts)
		if err != nil {
			return nil, err
		}
		paths = append(paths, withoutConfig(found)...)
	}
	return paths, nil
}

// withoutConfig drops config files the test pattern also matches.
func withoutConfig(paths []string) []string {
	return slices.DeleteFunc(paths, func(p string) bool {
		return filepath.Base(p) == config.FileName
	})
}

// newHarness builds a harness wired to the configured history
// database. The returned func closes the database.
func (o *RootOptions) newHarness(cmd *cobra.Command, cfg *config.Config, wd string) (*harness.Harness, func(), error) {
	logger := o.logger(cmd.ErrOrStderr())
	hopts := harness.Options{
		Registry: o.agents(logger),
		Config:   cfg,
		WorkDir:  wd,
		Logger:   logger,
	}
	if o.Verbose && o.Format != "json" {
		hopts.Observer = liveObserver(cmd.ErrOrStderr())
	}

	closeFn := func() {}
	if cfg.History != "" {
		st, err := store.Open(cfg.History)
		if err != nil {
			return nil, nil, err
		}
		hopts.Recorder = st
		closeFn = func() { st.Close() }
	}
	return harness.New(hopts), closeFn, nil
}

// liveObserver prints live trace events while an agent runs.
func liveObserver(w io.Writer) func(trace.Event) {
	return func(ev trace.Event) {
		switch ev.Kind {
		case trace.SessionDetected:
			fmt.Fprintf(w, "  session log: %s\n", ev.Path)
		case trace.ActionObserved:
			fmt.Fprintf(w, "  → %s\n", ev.Action.Tool)
		case trace.StreamError:
			fmt.Fprintf(w, "  %s %v\n", yellow("warning:"), ev.Err)
		}
	}
}

// runTest loads and runs one test file, printing text output as it goes.
func runTest(ctx context.Context, opts *RunOptions, h *harness.Harness, display *Display, path, agentOverride string, w io.Writer) TestReport {
	text := opts.Format != "json"

	test, err := testfile.Load(path)
	if err != nil {
		if text {
			fmt.Fprintf(w, "%s %s\n", mark(false), path)
			fmt.Fprintf(w, "  Load error: %v\n", err)
		}
		return TestReport{
			Name:   filepath.Base(path),
			Path:   path,
			Code:   CodeLoad,
			Errors: []string{fmt.Sprintf("failed to load test: %v", err)},
		}
	}
	if agentOverride != "" {
		test.Agent = agentOverride
	}

	if text {
		fmt.Fprintf(w, "Running: %q\n", test.Name)
		fmt.Fprintf(w, "Prompt: %q\n\n", test.Prompt)
	}

	result, err := h.Run(ctx, test)
	if err != nil {
		if text {
			fmt.Fprintf(w, "%s %s\n", mark(false), test.Name)
			fmt.Fprintf(w, "  Agent error: %v\n", err)
		}
		return TestReport{
			Name:   test.Name,
			Path:   path,
			Code:   CodeAgent,
			Errors: []string{fmt.Sprintf("agent failed: %v", err)},
		}
	}

	report := TestReport{
		Name:   test.Name,
		Path:   path,
		Pass:   result.Pass,
		Errors: result.Errors,
		Result: result,
	}
	if !result.Pass {
		report.Code = CodeTestFailed
	}

	if text {
		fmt.Fprintf(w, "%s finished with %d tool calls (run %s)\n\n", result.Agent, len(result.Actions), result.RunID)
		display.Result(w, result)
	}

	if err := checkGolden(path, result, opts.Update); err != nil {
		report.Pass = false
		report.Code = CodeTestFailed
		report.Errors = append(report.Errors, err.Error())
		if text {
			fmt.Fprintf(w, "\n%s %v\n", mark(false), err)
		}
	} else if opts.Update && text {
		fmt.Fprintf(w, "\n%s golden updated\n", mark(true))
	}
	return report
}

// errGoldenMismatch is reported when behavior differs from the golden file.
var errGoldenMismatch = errors.New("behavior does not match golden file (run with --update to regenerate)")

// checkGolden compares the result snapshot with the test's golden file,
// or rewrites it when update is set. A missing golden file is not an
// error.
func checkGolden(testPath string, result *harness.Result, update bool) error {
	goldenPath := goldenFilePath(testPath)

	snapshot, err := result.Snapshot()
	if err != nil {
		return err
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	golden, err := os.ReadFile(goldenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, snapshot) {
		return errGoldenMismatch
	}
	return nil
}

// goldenFilePath returns the path to the golden file for a test.
func goldenFilePath(testFile string) string {
	dir := filepath.Dir(testFile)
	base := filepath.Base(testFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// outputRunJSON outputs the run summary as JSON.
func outputRunJSON(cmd *cobra.Command, summary RunSummary) error {
	response := CLIResponse{
		Status: "ok",
		Data:   summary,
	}
	if summary.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d test(s) failed", summary.Failed),
		}
	}

	f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	if err := f.Respond(response); err != nil {
		return err
	}

	if summary.Failed > 0 {
		exitErr := NewExitError(ExitFailure, response.Error.Message)
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

// outputRunText outputs the run summary as text.
func outputRunText(cmd *cobra.Command, summary RunSummary) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d passed, %d failed, %d total\n", bold("Test Summary:"), summary.Passed, summary.Failed, summary.Total)

	if summary.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d test(s) failed", summary.Failed))
	}

	fmt.Fprintf(w, "%s All tests passed\n", mark(true))
	return nil
}

// commandError reports a command error in the configured format and
// returns it with exit code 2. Text output is left to the caller of
// Execute.
func (o *RootOptions) commandError(cmd *cobra.Command, code, message string, err error) error {
	if o.Format == "json" {
		msg := message
		if err != nil {
			msg = fmt.Sprintf("%s: %v", message, err)
		}
		_ = o.formatter(cmd).Error(code, msg, nil)
	}
	exitErr := WrapExitError(ExitCommandError, message, err)
	exitErr.Reported = o.Format == "json"
	return exitErr
}
