package assert

import (
	"fmt"
	"strings"

	"github.com/tatimblin/aptitude/internal/trace"
)

// Check names reported in a Failure.
const (
	CheckSpec      = "spec"
	CheckCalled    = "called"
	CheckNotCalled = "not_called"
	CheckCount     = "count"
	CheckMinCount  = "min_count"
	CheckMaxCount  = "max_count"
	CheckBefore    = "before"
	CheckAfter     = "after"
	CheckFirst     = "first"
	CheckLast      = "last"
	CheckNth       = "nth"
)

// Failure is one failing sub-check of an assertion.
type Failure struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Result is the outcome of evaluating one tool assertion.
type Result struct {
	Description string    `json:"description"`
	Passed      bool      `json:"passed"`
	Failures    []Failure `json:"failures,omitempty"`

	// Observed holds the qualifying actions, or every action of the
	// tool when none qualified.
	Observed []trace.Action `json:"observed,omitempty"`
}

func (r *Result) fail(check, format string, args ...any) {
	r.Failures = append(r.Failures, Failure{Check: check, Message: fmt.Sprintf(format, args...)})
	r.Passed = false
}

// Explanation renders a failed result for humans. It is empty for a
// passing result.
func (r Result) Explanation() string {
	if r.Passed {
		return ""
	}
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", r.Description)
	for _, f := range r.Failures {
		fmt.Fprintf(&buf, "  %s: %s\n", f.Check, f.Message)
	}

	fmt.Fprintf(&buf, "\nObserved calls:\n")
	if len(r.Observed) == 0 {
		buf.WriteString("  (none)\n")
	}
	for _, a := range r.Observed {
		fmt.Fprintf(&buf, "  [%d] %s\n", a.Seq+1, a)
	}
	return buf.String()
}

// Evaluator evaluates tool assertions against finished sequences. It is
// safe for concurrent use; compiled patterns are shared.
type Evaluator struct {
	cache patternCache
}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateAll evaluates every assertion. A failing assertion does not
// stop the rest.
func (e *Evaluator) EvaluateAll(assertions []*ToolAssertion, seq *trace.Sequence) []Result {
	results := make([]Result, len(assertions))
	for i, a := range assertions {
		results[i] = e.Evaluate(a, seq)
	}
	return results
}

// Evaluate runs every sub-check of a and reports all that fail. An
// invalid assertion yields a single spec failure.
func (e *Evaluator) Evaluate(a *ToolAssertion, seq *trace.Sequence) Result {
	if a == nil {
		return Result{Description: "(empty assertion)", Failures: []Failure{{Check: CheckSpec, Message: "empty assertion"}}}
	}
	res := Result{Description: a.Describe(), Passed: true}
	if err := (Assertion{Tool: a}).Validate(); err != nil {
		res.fail(CheckSpec, "%s", err)
		return res
	}

	actions := seq.Actions()
	var qualifying, ofTool []trace.Action
	for _, act := range actions {
		if act.Tool != a.Tool {
			continue
		}
		ofTool = append(ofTool, act)
		if len(e.cache.matchParams(a.Params, act.Params)) == 0 {
			qualifying = append(qualifying, act)
		}
	}
	res.Observed = qualifying
	if len(qualifying) == 0 {
		res.Observed = ofTool
	}

	checkCalled(&res, a, qualifying)
	checkCount(&res, a, len(qualifying))
	if a.Before != "" {
		checkBefore(&res, a, actions, qualifying)
	}
	if a.After != "" {
		checkAfter(&res, a, actions, qualifying)
	}
	if a.First != nil {
		e.checkOccurrence(&res, CheckFirst, a, qualifying, 1, a.First)
	}
	if a.Last != nil {
		e.checkOccurrence(&res, CheckLast, a, qualifying, len(qualifying), a.Last)
	}
	for _, n := range sortedNth(a.Nth) {
		e.checkOccurrence(&res, CheckNth, a, qualifying, n, a.Nth[n])
	}
	return res
}

func checkCalled(res *Result, a *ToolAssertion, qualifying []trace.Action) {
	switch {
	case a.Called && len(qualifying) == 0:
		withParams := ""
		if len(a.Params) > 0 {
			withParams = " with " + formatPatterns(a.Params)
		}
		res.fail(CheckCalled, "tool '%s'%s was never called", a.Tool, withParams)
	case !a.Called && len(qualifying) > 0:
		res.fail(CheckNotCalled, "tool '%s' was called but should not have been. Found: %s", a.Tool, qualifying[0])
	}
}

func checkCount(res *Result, a *ToolAssertion, got int) {
	c := a.Count
	if c == nil {
		return
	}
	if c.Exact != nil && got != *c.Exact {
		res.fail(CheckCount, "expected %d calls, got %d", *c.Exact, got)
	}
	if c.Min != nil && got < *c.Min {
		res.fail(CheckMinCount, "expected at least %d calls, got %d", *c.Min, got)
	}
	if c.Max != nil && got > *c.Max {
		res.fail(CheckMaxCount, "expected at most %d calls, got %d", *c.Max, got)
	}
}

// checkBefore passes when some qualifying action precedes the first
// occurrence of a.Before anywhere in the sequence.
func checkBefore(res *Result, a *ToolAssertion, actions, qualifying []trace.Action) {
	first := -1
	for _, act := range actions {
		if act.Tool == a.Before {
			first = act.Seq
			break
		}
	}
	switch {
	case first < 0:
		res.fail(CheckBefore, "'%s' was never called", a.Before)
	case len(qualifying) == 0:
		res.fail(CheckBefore, "'%s' was never called", a.Tool)
	case qualifying[0].Seq > first:
		res.fail(CheckBefore, "'%s' was not called before '%s' (first '%s' at [%d], first '%s' at [%d])",
			a.Tool, a.Before, a.Before, first+1, a.Tool, qualifying[0].Seq+1)
	}
}

// checkAfter passes when some qualifying action follows the last
// occurrence of a.After anywhere in the sequence.
func checkAfter(res *Result, a *ToolAssertion, actions, qualifying []trace.Action) {
	last := -1
	for _, act := range actions {
		if act.Tool == a.After {
			last = act.Seq
		}
	}
	switch {
	case last < 0:
		res.fail(CheckAfter, "'%s' was never called", a.After)
	case len(qualifying) == 0:
		res.fail(CheckAfter, "'%s' was never called", a.Tool)
	case qualifying[len(qualifying)-1].Seq < last:
		res.fail(CheckAfter, "'%s' was not called after '%s' (last '%s' at [%d], last '%s' at [%d])",
			a.Tool, a.After, a.After, last+1, a.Tool, qualifying[len(qualifying)-1].Seq+1)
	}
}

// checkOccurrence applies patterns to the nth (1-indexed) qualifying
// action.
func (e *Evaluator) checkOccurrence(res *Result, check string, a *ToolAssertion, qualifying []trace.Action, n int, patterns map[string]string) {
	label := occurrenceLabel(check, n)
	if n < 1 || n > len(qualifying) {
		res.fail(check, "%s '%s' call not found, %d qualifying calls", label, a.Tool, len(qualifying))
		return
	}
	act := qualifying[n-1]
	misses := e.cache.matchParams(patterns, act.Params)
	if len(misses) == 0 {
		return
	}
	reasons := make([]string, len(misses))
	for i, m := range misses {
		if m.missing {
			reasons[i] = fmt.Sprintf("%s is missing", m.key)
		} else {
			reasons[i] = fmt.Sprintf("%s='%s' does not match '%s'", m.key, trace.Preview(m.actual, trace.PreviewWidth), m.pattern)
		}
	}
	res.fail(check, "%s '%s' call [%d] did not match: %s", label, a.Tool, act.Seq+1, strings.Join(reasons, "; "))
}

func occurrenceLabel(check string, n int) string {
	switch check {
	case CheckFirst:
		return "first"
	case CheckLast:
		return "last"
	}
	return ordinal(n)
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
