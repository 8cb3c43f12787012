package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatimblin/aptitude/internal/agent"
	"github.com/tatimblin/aptitude/internal/testfile"
	"github.com/tatimblin/aptitude/internal/trace"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	Agent        string
	Grader       string
	Model        string
	Threshold    int
	GradeTimeout time.Duration
	History      string
	ShowTools    string
	ShowResponse string
	Truncate     int
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze <test-file> <session-log>",
		Short: "Evaluate a test against an existing session log",
		Long: `Evaluate a test's assertions against a session log recorded earlier,
without launching an agent.

The log is read as JSONL. Tool names are mapped to canonical names using
the selected agent (--agent, else the test's agent, else the configured
default). Review assertions grade an empty response, since a log carries
no final output.

Exit codes:
  0 - All assertions passed
  1 - One or more assertions failed
  2 - Command error (unreadable test or log, unknown agent, etc.)

Examples:
  aptitude analyze tests/reads-config.aptitude.yaml ~/.claude/projects/-work/abc.jsonl
  aptitude analyze test.yaml session.jsonl --agent claude --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args[0], args[1], cmd)
		},
	}

	addJudgeFlags(cmd, &opts.Agent, &opts.Grader, &opts.Model, &opts.Threshold, &opts.GradeTimeout, &opts.History)
	addDisplayFlags(cmd, &opts.ShowTools, &opts.ShowResponse, &opts.Truncate)

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, testPath, logPath string, cmd *cobra.Command) error {
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

	test, err := testfile.Load(testPath)
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "failed to load test", err)
	}

	h, closeHistory, err := opts.newHarness(cmd, cfg, wd)
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to open history", err)
	}
	defer closeHistory()

	result, err := h.Analyze(cmd.Context(), test, logPath, opts.Agent)
	if err != nil {
		var resErr *trace.ResourceError
		switch {
		case errors.As(err, &resErr):
			return opts.commandError(cmd, CodeTrace, "failed to read session log", err)
		case errors.Is(err, agent.ErrNotRegistered):
			return opts.commandError(cmd, CodeAgent, "unknown agent", err)
		default:
			return opts.commandError(cmd, CodeAgent, "analysis failed", err)
		}
	}

	report := TestReport{
		Name:   test.Name,
		Path:   testPath,
		Pass:   result.Pass,
		Errors: result.Errors,
		Result: result,
	}
	if !result.Pass {
		report.Code = CodeTestFailed
	}

	if opts.Format == "json" {
		summary := RunSummary{}
		summary.add(report)
		return outputRunJSON(cmd, summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Analyzing: %q\n", test.Name)
	fmt.Fprintf(w, "Log: %s\n", logPath)
	fmt.Fprintf(w, "Found %d tool calls\n\n", len(result.Actions))
	display.Result(w, result)

	if !result.Pass {
		return NewExitError(ExitFailure, "assertions failed")
	}
	return nil
}
