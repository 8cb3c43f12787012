package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatimblin/aptitude/internal/config"
	"github.com/tatimblin/aptitude/internal/store"
	"github.com/tatimblin/aptitude/internal/trace"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	History string
	Agent   string
	Limit   int
	Stats   bool
	RunID   string
}

var historyFlagKeys = map[string]string{
	"history": "history",
}

// RunSummaryView is a recorded run in command output.
type RunSummaryView struct {
	ID          string    `json:"id"`
	Test        string    `json:"test"`
	Agent       string    `json:"agent"`
	Mode        string    `json:"mode"`
	Passed      bool      `json:"passed"`
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// RunDetailView is a recorded run with its actions and assertions.
type RunDetailView struct {
	RunSummaryView
	Path       string                `json:"path"`
	Stdout     *string               `json:"stdout,omitempty"`
	Actions    []trace.Action        `json:"actions"`
	Assertions []AssertionRecordView `json:"assertions"`
}

// AssertionRecordView is a stored assertion outcome in command output.
type AssertionRecordView struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Explanation string `json:"explanation,omitempty"`
	Score       *int   `json:"score,omitempty"`
}

// TestStatsView is one test's aggregate history in command output.
type TestStatsView struct {
	Test      string    `json:"test"`
	Runs      int       `json:"runs"`
	Passed    int       `json:"passed"`
	PassRate  float64   `json:"pass_rate"`
	Behaviors int       `json:"behaviors"`
	LastRun   time.Time `json:"last_run"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [test-name]",
		Short: "Show recorded test runs",
		Long: `Show runs recorded in the history database.

Runs are listed newest first, optionally filtered to one test. --stats
shows per-test pass rates and how many distinct behaviors (tool call
sequences) each test has produced. --run shows one run in full.

The database is taken from --history, else the history key of the
config file.

Examples:
  aptitude history
  aptitude history "Reads config" --limit 5
  aptitude history --stats
  aptitude history --run 0190c1d2-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			test := ""
			if len(args) == 1 {
				test = args[0]
			}
			return runHistory(cmd.Context(), opts, test, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.History, "history", "", "SQLite run history database")
	cmd.Flags().StringVarP(&opts.Agent, "agent", "a", "", "only show runs of this agent")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list (0 = all)")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "show per-test aggregates")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, test string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd, historyFlagKeys)
	if err != nil {
		return opts.commandError(cmd, CodeLoad, "failed to load config", err)
	}
	if cfg.History == "" {
		return opts.commandError(cmd, CodeHistory, "no history database configured (use --history or set history in "+config.FileName+")", nil)
	}
	if _, err := os.Stat(cfg.History); err != nil {
		return opts.commandError(cmd, CodeHistory, "history database not found", err)
	}

	st, err := store.Open(cfg.History)
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to open history", err)
	}
	defer st.Close()

	switch {
	case opts.RunID != "":
		return showRun(ctx, opts, st, cmd)
	case opts.Stats:
		return showStats(ctx, opts, st, cmd)
	default:
		return listRuns(ctx, opts, st, test, cmd)
	}
}

func listRuns(ctx context.Context, opts *HistoryOptions, st *store.Store, test string, cmd *cobra.Command) error {
	runs, err := st.ListRuns(ctx, store.RunFilter{Test: test, Agent: opts.Agent, Limit: opts.Limit})
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to list runs", err)
	}

	views := make([]RunSummaryView, len(runs))
	for i, r := range runs {
		views[i] = summaryView(r)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(views)
	}

	w := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTEST\tAGENT\tMODE\tRESULT\tBEHAVIOR\tSTARTED\tDURATION")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Test, v.Agent, v.Mode, passLabel(v.Passed),
			shortID(v.Fingerprint), v.StartedAt.Local().Format(time.DateTime),
			(time.Duration(v.DurationMS) * time.Millisecond).String())
	}
	return tw.Flush()
}

func showStats(ctx context.Context, opts *HistoryOptions, st *store.Store, cmd *cobra.Command) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to compute stats", err)
	}

	views := make([]TestStatsView, len(stats))
	for i, s := range stats {
		views[i] = TestStatsView{
			Test:      s.Test,
			Runs:      s.Runs,
			Passed:    s.Passed,
			PassRate:  s.PassRate(),
			Behaviors: s.Behaviors,
			LastRun:   s.LastRun,
		}
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(views)
	}

	w := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tRUNS\tPASSED\tPASS RATE\tBEHAVIORS\tLAST RUN")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\t%d\t%s\n",
			v.Test, v.Runs, v.Passed, v.PassRate*100, v.Behaviors,
			v.LastRun.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func showRun(ctx context.Context, opts *HistoryOptions, st *store.Store, cmd *cobra.Command) error {
	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return opts.commandError(cmd, CodeHistory, "run not found", err)
	}
	if err != nil {
		return opts.commandError(cmd, CodeHistory, "failed to read run", err)
	}

	view := detailView(run)
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(view)
	}

	wd, _ := opts.workDir()
	display := &Display{ToolCalls: ShowAlways, Response: ShowAlways, Truncate: DefaultTruncate, WorkDir: wd}
	writeRunDetail(cmd.OutOrStdout(), display, view)
	return nil
}

func writeRunDetail(w io.Writer, display *Display, v RunDetailView) {
	fmt.Fprintf(w, "Run:         %s\n", v.ID)
	fmt.Fprintf(w, "Test:        %s (%s)\n", v.Test, v.Path)
	fmt.Fprintf(w, "Agent:       %s\n", v.Agent)
	fmt.Fprintf(w, "Mode:        %s\n", v.Mode)
	fmt.Fprintf(w, "Result:      %s\n", passLabel(v.Passed))
	fmt.Fprintf(w, "Behavior:    %s\n", v.Fingerprint)
	fmt.Fprintf(w, "Started:     %s\n", v.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:    %s\n\n", time.Duration(v.DurationMS)*time.Millisecond)

	for _, a := range v.Assertions {
		fmt.Fprintf(w, "  %s %s\n", mark(a.Passed), a.Description)
		if a.Passed {
			continue
		}
		for _, line := range strings.Split(strings.TrimSpace(a.Explanation), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(w, "    └─ %s\n", line)
			}
		}
	}

	display.ToolCallList(w, v.Actions, v.Passed)
	if v.Stdout != nil {
		display.AgentResponse(w, *v.Stdout, v.Passed)
	}
}

func summaryView(r store.Run) RunSummaryView {
	return RunSummaryView{
		ID:          r.ID,
		Test:        r.TestName,
		Agent:       r.Agent,
		Mode:        r.Mode,
		Passed:      r.Passed,
		Fingerprint: r.Fingerprint,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
	}
}

func detailView(r store.Run) RunDetailView {
	v := RunDetailView{
		RunSummaryView: summaryView(r),
		Path:           r.TestPath,
		Stdout:         r.Stdout,
		Actions:        make([]trace.Action, len(r.Actions)),
		Assertions:     make([]AssertionRecordView, len(r.Assertions)),
	}
	for i, a := range r.Actions {
		v.Actions[i] = trace.Action{Seq: a.Seq, Tool: a.Tool, Params: a.Params, Timestamp: a.Timestamp}
	}
	for i, a := range r.Assertions {
		v.Assertions[i] = AssertionRecordView{
			Kind:        a.Kind,
			Description: a.Description,
			Passed:      a.Passed,
			Explanation: a.Explanation,
			Score:       a.Score,
		}
	}
	return v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func passLabel(passed bool) string {
	if passed {
		return green("pass")
	}
	return red("fail")
}
