package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/tatimblin/aptitude/internal/assert"
	"github.com/tatimblin/aptitude/internal/review"
	"github.com/tatimblin/aptitude/internal/store"
	"github.com/tatimblin/aptitude/internal/trace"
)

// AssertionResult is the outcome of one assertion of a test, in file
// order.
type AssertionResult struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`

	// Tool is set for tool assertions.
	Tool *assert.Result `json:"tool,omitempty"`

	// Verdict is set for review assertions that were graded.
	Verdict *review.Verdict `json:"verdict,omitempty"`

	// Error describes a review that could not be graded.
	Error string `json:"error,omitempty"`
}

// Explanation renders the failure report, or "" for a pass.
func (a AssertionResult) Explanation() string {
	if a.Passed {
		return ""
	}
	if a.Tool != nil {
		return a.Tool.Explanation()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Assertion failed: %s\n", a.Description)
	switch {
	case a.Error != "":
		fmt.Fprintf(&sb, "  %s: %s\n", a.Kind, a.Error)
	case a.Verdict != nil:
		fmt.Fprintf(&sb, "  review: score %d below threshold %d\n", a.Verdict.Score, a.Verdict.Threshold)
		if a.Verdict.Reasoning != "" {
			fmt.Fprintf(&sb, "  reasoning: %s\n", a.Verdict.Reasoning)
		}
	}
	return sb.String()
}

// Result is the outcome of running one test.
type Result struct {
	RunID string `json:"run_id"`
	Test  string `json:"test"`
	Path  string `json:"path,omitempty"`
	Agent string `json:"agent"`
	Mode  string `json:"mode"`

	// Pass indicates overall test success.
	// True if every assertion passed and no errors were recorded.
	Pass bool `json:"pass"`

	Assertions []AssertionResult `json:"assertions"`

	// Errors contains failure messages, one per failed assertion.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Actions is the canonical action sequence that was judged.
	Actions []trace.Action `json:"actions"`

	// Stdout is the agent's final output. Nil when none was captured.
	Stdout *string `json:"stdout,omitempty"`

	Fingerprint string        `json:"fingerprint"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Assertions: []AssertionResult{},
		Errors:     []string{},
		Actions:    []trace.Action{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Add appends an assertion outcome, failing the result if it failed.
func (r *Result) Add(a AssertionResult) {
	r.Assertions = append(r.Assertions, a)
	if !a.Passed {
		r.AddError(a.Explanation())
	}
}

// Counts returns the number of passed and failed assertions.
func (r *Result) Counts() (passed, failed int) {
	for _, a := range r.Assertions {
		if a.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// record converts the result into a history row.
func (r *Result) record(hash string) store.Run {
	run := store.Run{
		ID:          r.RunID,
		TestName:    r.Test,
		TestPath:    r.Path,
		TestHash:    hash,
		Agent:       r.Agent,
		Mode:        r.Mode,
		Fingerprint: r.Fingerprint,
		Passed:      r.Pass,
		Stdout:      r.Stdout,
		StartedAt:   r.StartedAt,
		Duration:    r.Duration,
		Actions:     store.ActionRecords(trace.NewSequence(r.Actions...)),
	}
	for _, a := range r.Assertions {
		rec := store.AssertionRecord{
			Index:       a.Index,
			Kind:        a.Kind,
			Description: a.Description,
			Passed:      a.Passed,
			Explanation: a.Explanation(),
		}
		if a.Verdict != nil {
			score := a.Verdict.Score
			rec.Score = &score
			if a.Passed {
				rec.Explanation = a.Verdict.Reasoning
			}
		}
		run.Assertions = append(run.Assertions, rec)
	}
	return run
}
