package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tatimblin/aptitude/internal/agent"
	"github.com/tatimblin/aptitude/internal/assert"
	"github.com/tatimblin/aptitude/internal/config"
	"github.com/tatimblin/aptitude/internal/review"
	"github.com/tatimblin/aptitude/internal/store"
	"github.com/tatimblin/aptitude/internal/testfile"
	"github.com/tatimblin/aptitude/internal/trace"
)

// Recorder persists finished runs. *store.Store implements it.
type Recorder interface {
	WriteRun(ctx context.Context, run store.Run) error
}

// Options configures a Harness. Only Registry is required.
type Options struct {
	Registry *agent.Registry

	// Config supplies defaults, timeouts and polling intervals.
	// Nil means config.Default().
	Config *config.Config

	// WorkDir is the directory agents run in.
	WorkDir string

	Logger *slog.Logger

	// Observer receives live trace events while an agent runs.
	Observer func(trace.Event)

	IDs RunIDGenerator
	Now func() time.Time

	// Recorder, when set, receives every finished run.
	Recorder Recorder

	// Concurrency bounds parallel gradings. Zero means
	// review.DefaultConcurrency.
	Concurrency int
}

// Harness runs tests against agent backends.
type Harness struct {
	registry  *agent.Registry
	cfg       *config.Config
	workDir   string
	logger    *slog.Logger
	observer  func(trace.Event)
	ids       RunIDGenerator
	now       func() time.Time
	recorder  Recorder
	limit     int
	evaluator *assert.Evaluator
}

// New creates a harness from opts.
func New(opts Options) *Harness {
	h := &Harness{
		registry:  opts.Registry,
		cfg:       opts.Config,
		workDir:   opts.WorkDir,
		logger:    opts.Logger,
		observer:  opts.Observer,
		ids:       opts.IDs,
		now:       opts.Now,
		recorder:  opts.Recorder,
		limit:     opts.Concurrency,
		evaluator: assert.NewEvaluator(),
	}
	if h.registry == nil {
		h.registry = agent.DefaultRegistry(opts.Logger)
	}
	if h.cfg == nil {
		h.cfg = config.Default()
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.ids == nil {
		h.ids = UUIDv7Generator{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.limit <= 0 {
		h.limit = review.DefaultConcurrency
	}
	return h
}

// Run executes a test and returns the result.
//
// Execution flow:
// 1. Resolve the test's agent (or the configured default) and every
//    named grader
// 2. Launch it on the prompt, observing its log while it runs
// 3. Evaluate tool assertions against the final action sequence
// 4. Grade review assertions against the agent's stdout
// 5. Record the run when a Recorder is configured
//
// An error is returned only when the agent could not be run. Assertion
// failures are reported in the Result.
func (h *Harness) Run(ctx context.Context, test *testfile.Test) (*Result, error) {
	name := h.agentName(test, "")
	runner, err := h.registry.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	graders, err := h.resolveGraders(ctx, test)
	if err != nil {
		return nil, err
	}

	runID := h.ids.Generate()
	logger := h.logger.With("run_id", runID, "test", test.Name, "agent", runner.Name())
	logger.Info("running test")

	started := h.now()
	exec, err := agent.Execute(ctx, runner, test.Prompt, agent.ExecConfig{
		WorkDir: h.workDir,
		Timeout: h.cfg.Timeouts.Agent,
	}, agent.ExecuteOptions{
		Observer:         h.observer,
		DiscoverInterval: h.cfg.Poll.Discover,
		TailInterval:     h.cfg.Poll.Tail,
		Logger:           logger,
		Now:              h.now,
	})
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", test.Name, err)
	}

	result, err := h.judge(ctx, test, runner, graders, exec.Sequence, runID, store.ModeRun, started)
	if err != nil {
		return nil, err
	}
	logger.Info("test finished", "pass", result.Pass, "actions", len(result.Actions), "duration", result.Duration)

	h.record(ctx, test, result, logger)
	return result, nil
}

// Analyze evaluates a test against an existing execution log without
// launching an agent. agentName selects the tool name mapping; empty
// means the test's agent. No stdout is available, so review assertions
// grade the empty-output placeholder.
func (h *Harness) Analyze(ctx context.Context, test *testfile.Test, logPath, agentName string) (*Result, error) {
	name := h.agentName(test, agentName)
	backend, err := h.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	graders, err := h.resolveGraders(ctx, test)
	if err != nil {
		return nil, err
	}

	runID := h.ids.Generate()
	logger := h.logger.With("run_id", runID, "test", test.Name, "agent", backend.Name(), "path", logPath)
	logger.Info("analyzing log")

	started := h.now()
	parser := trace.NewParser(trace.WithClock(h.now), trace.WithLogger(logger))
	seq, err := trace.ReadFile(logPath, parser)
	if err != nil {
		return nil, fmt.Errorf("analyze %q: %w", test.Name, err)
	}
	if skipped := parser.Skipped(); skipped > 0 {
		logger.Debug("skipped unparseable records", "count", skipped)
	}
	seq = seq.Normalize(backend.Mapping().Canonical)

	result, err := h.judge(ctx, test, backend, graders, seq, runID, store.ModeAnalyze, started)
	if err != nil {
		return nil, err
	}
	logger.Info("analysis finished", "pass", result.Pass, "actions", len(result.Actions))

	h.record(ctx, test, result, logger)
	return result, nil
}

// agentName picks the backend: an explicit override, then the test's
// own agent, then the configured default.
func (h *Harness) agentName(test *testfile.Test, override string) string {
	switch {
	case override != "":
		return override
	case test.Agent != "":
		return test.Agent
	default:
		return h.cfg.Agent
	}
}

// resolveGraders resolves each distinct named grader of test once, so an
// unknown or missing grader fails before the agent runs. Review
// assertions without a named grader are graded by the agent under test.
func (h *Harness) resolveGraders(ctx context.Context, test *testfile.Test) (map[string]agent.Adapter, error) {
	graders := make(map[string]agent.Adapter)
	for _, a := range test.Assertions {
		if a.Review == nil || a.Validate() != nil {
			continue
		}
		name := h.graderName(a.Review)
		if _, ok := graders[name]; ok || name == "" {
			continue
		}
		backend, err := h.registry.Resolve(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("grader %q: %w", name, err)
		}
		graders[name] = backend
	}
	return graders, nil
}

// judge evaluates every assertion of test against seq.
func (h *Harness) judge(ctx context.Context, test *testfile.Test, runner agent.Adapter, graders map[string]agent.Adapter, seq *trace.Sequence, runID, mode string, started time.Time) (*Result, error) {
	fingerprint, err := seq.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("judge %q: %w", test.Name, err)
	}

	result := NewResult()
	result.RunID = runID
	result.Test = test.Name
	result.Path = test.Path
	result.Agent = runner.Name()
	result.Mode = mode
	result.Actions = seq.Actions()
	result.Fingerprint = fingerprint
	result.StartedAt = started
	if stdout, ok := seq.Stdout(); ok {
		result.Stdout = &stdout
	}

	var (
		toolIdx     []int
		tools       []*assert.ToolAssertion
		reviewIdx   []int
		requests    []review.Request
		outcomes    = make([]AssertionResult, len(test.Assertions))
		stdout, has = seq.Stdout()
	)
	for i, a := range test.Assertions {
		switch {
		case a.Tool != nil:
			toolIdx = append(toolIdx, i)
			tools = append(tools, a.Tool)
		case a.Review != nil:
			if err := a.Validate(); err != nil {
				outcomes[i] = reviewFailure(i, a.Review, err)
				continue
			}
			grade := h.grader(a.Review, runner, graders)
			reviewIdx = append(reviewIdx, i)
			requests = append(requests, review.Request{
				Stdout:  stdout,
				Present: has,
				Config:  h.reviewConfig(a.Review),
				Grade:   grade,
			})
		default:
			outcomes[i] = AssertionResult{
				Index:       i,
				Kind:        store.KindTool,
				Description: a.Describe(),
				Error:       a.Validate().Error(),
			}
		}
	}

	for j, r := range h.evaluator.EvaluateAll(tools, seq) {
		r := r
		i := toolIdx[j]
		outcomes[i] = AssertionResult{
			Index:       i,
			Kind:        store.KindTool,
			Description: r.Description,
			Passed:      r.Passed,
			Tool:        &r,
		}
	}

	if len(requests) > 0 {
		h.logger.Debug("grading reviews", "run_id", runID, "count", len(requests))
	}
	for j, out := range review.GradeAll(ctx, requests, h.limit) {
		i := reviewIdx[j]
		ra := test.Assertions[i].Review
		if out.Err != nil {
			outcomes[i] = reviewFailure(i, ra, out.Err)
			continue
		}
		outcomes[i] = AssertionResult{
			Index:       i,
			Kind:        store.KindReview,
			Description: ra.Describe(),
			Passed:      out.Verdict.Passed,
			Verdict:     out.Verdict,
		}
	}

	for _, o := range outcomes {
		result.Add(o)
	}
	result.Duration = h.now().Sub(started)
	return result, nil
}

// graderName is the assertion's own grader, then the configured one.
// Empty means the agent under test grades.
func (h *Harness) graderName(r *assert.ReviewAssertion) string {
	if r.Grader != "" {
		return r.Grader
	}
	return h.cfg.Grader
}

// grader returns the grading call for r, bounded by the grade timeout.
func (h *Harness) grader(r *assert.ReviewAssertion, runner agent.Adapter, graders map[string]agent.Adapter) review.GradeFunc {
	backend := runner
	if g, ok := graders[h.graderName(r)]; ok {
		backend = g
	}

	timeout := h.cfg.Timeouts.Grade
	return func(ctx context.Context, prompt, model string) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return backend.Grade(ctx, prompt, model)
	}
}

func (h *Harness) reviewConfig(r *assert.ReviewAssertion) review.Config {
	cfg := review.Config{
		Rubric:    r.Rubric,
		Threshold: r.Threshold,
		Model:     r.Model,
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = h.cfg.Threshold
	}
	if cfg.Model == "" {
		cfg.Model = h.cfg.Model
	}
	return cfg
}

func reviewFailure(i int, r *assert.ReviewAssertion, err error) AssertionResult {
	return AssertionResult{
		Index:       i,
		Kind:        store.KindReview,
		Description: r.Describe(),
		Error:       err.Error(),
	}
}

// record writes the run to history. Failing to record does not fail
// the test.
func (h *Harness) record(ctx context.Context, test *testfile.Test, result *Result, logger *slog.Logger) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.WriteRun(ctx, result.record(test.Hash)); err != nil {
		logger.Warn("failed to record run", "error", err)
		return
	}
	logger.Debug("run recorded")
}
