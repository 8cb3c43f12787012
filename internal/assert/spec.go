package assert

import (
	"fmt"
	"sort"
	"strings"
)

// Threshold bounds for review assertions.
const (
	MinScore = 1
	MaxScore = 10
)

// CountConstraint bounds the number of qualifying actions. Nil fields
// are unconstrained; Min and Max are inclusive.
type CountConstraint struct {
	Exact *int `json:"exact,omitempty"`
	Min   *int `json:"min,omitempty"`
	Max   *int `json:"max,omitempty"`
}

// ToolAssertion constrains how one canonical tool was used.
type ToolAssertion struct {
	Tool   string            `json:"tool"`
	Called bool              `json:"called"`
	Params map[string]string `json:"params,omitempty"`
	Count  *CountConstraint  `json:"count,omitempty"`

	// Before and After name another tool. Before holds when a qualifying
	// action precedes that tool's first occurrence; After holds when one
	// follows its last occurrence.
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`

	// First, Last and Nth constrain single occurrences within the
	// qualifying actions. Nth keys are 1-indexed.
	First map[string]string         `json:"first,omitempty"`
	Last  map[string]string         `json:"last,omitempty"`
	Nth   map[int]map[string]string `json:"nth,omitempty"`
}

// ReviewAssertion asks a grading model to score the agent's stdout
// against a rubric.
type ReviewAssertion struct {
	Rubric string `json:"rubric"`

	// Threshold is the minimum passing score. Zero means the configured
	// default.
	Threshold int    `json:"threshold,omitempty"`
	Model     string `json:"model,omitempty"`

	// Grader overrides the backend used for grading.
	Grader string `json:"grader,omitempty"`
}

// Assertion is one entry of a test. Exactly one variant is set.
type Assertion struct {
	Tool   *ToolAssertion   `json:"tool,omitempty"`
	Review *ReviewAssertion `json:"review,omitempty"`
}

// SpecError reports a malformed or self-contradictory assertion. It is
// raised before any agent is launched.
type SpecError struct {
	// Index is the assertion's position in its test, or -1 when the
	// assertion was validated on its own.
	Index   int
	Field   string
	Message string
}

func (e *SpecError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("assertions[%d].%s: %s", e.Index, e.Field, e.Message)
}

// Validate checks the assertion for contradictions.
func (a Assertion) Validate() error {
	return a.validate(-1)
}

// ValidateAll validates every assertion and returns the first problem,
// indexed by position.
func ValidateAll(assertions []Assertion) error {
	for i, a := range assertions {
		if err := a.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (a Assertion) validate(index int) error {
	switch {
	case a.Tool != nil && a.Review != nil:
		return &SpecError{Index: index, Field: "assertion", Message: "must be either a tool or a review assertion, not both"}
	case a.Tool != nil:
		return a.Tool.validate(index)
	case a.Review != nil:
		return a.Review.validate(index)
	default:
		return &SpecError{Index: index, Field: "assertion", Message: "empty assertion"}
	}
}

func (t *ToolAssertion) validate(index int) error {
	fail := func(field, format string, args ...any) error {
		return &SpecError{Index: index, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(t.Tool) == "" {
		return fail("tool", "is required")
	}
	if t.Before == t.Tool && t.Before != "" {
		return fail("before", "tool cannot be ordered against itself")
	}
	if t.After == t.Tool && t.After != "" {
		return fail("after", "tool cannot be ordered against itself")
	}

	if c := t.Count; c != nil {
		for _, b := range []struct {
			field string
			v     *int
		}{{"count.exact", c.Exact}, {"count.min", c.Min}, {"count.max", c.Max}} {
			if b.v != nil && *b.v < 0 {
				return fail(b.field, "must not be negative, got %d", *b.v)
			}
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fail("count", "min %d exceeds max %d", *c.Min, *c.Max)
		}
		if c.Exact != nil && c.Min != nil && *c.Exact < *c.Min {
			return fail("count", "exact %d is below min %d", *c.Exact, *c.Min)
		}
		if c.Exact != nil && c.Max != nil && *c.Exact > *c.Max {
			return fail("count", "exact %d exceeds max %d", *c.Exact, *c.Max)
		}

		if !t.Called {
			switch {
			case c.Exact != nil && *c.Exact > 0:
				return fail("count.exact", "called is false but %d calls are expected", *c.Exact)
			case c.Min != nil && *c.Min > 0:
				return fail("count.min", "called is false but at least %d calls are expected", *c.Min)
			case c.Max != nil && *c.Max > 0:
				return fail("count.max", "called is false but up to %d calls are allowed", *c.Max)
			}
		} else {
			switch {
			case c.Exact != nil && *c.Exact == 0:
				return fail("count.exact", "called is true but 0 calls are expected")
			case c.Max != nil && *c.Max == 0:
				return fail("count.max", "called is true but no calls are allowed")
			}
		}
	}

	if !t.Called {
		switch {
		case t.Before != "":
			return fail("before", "called is false; ordering cannot be checked")
		case t.After != "":
			return fail("after", "called is false; ordering cannot be checked")
		case t.First != nil:
			return fail("first", "called is false; there is no first call")
		case t.Last != nil:
			return fail("last", "called is false; there is no last call")
		case len(t.Nth) > 0:
			return fail("nth", "called is false; there is no nth call")
		}
	}

	for _, n := range sortedNth(t.Nth) {
		if n < 1 {
			return fail("nth", "call index must be 1 or greater, got %d", n)
		}
	}
	return nil
}

func (r *ReviewAssertion) validate(index int) error {
	if strings.TrimSpace(r.Rubric) == "" {
		return &SpecError{Index: index, Field: "review", Message: "rubric is required"}
	}
	if r.Threshold != 0 && (r.Threshold < MinScore || r.Threshold > MaxScore) {
		return &SpecError{
			Index:   index,
			Field:   "threshold",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinScore, MaxScore, r.Threshold),
		}
	}
	return nil
}

// Describe renders the assertion as a one-line sentence, for example
// "Read with file_path='*.env' called after Glob".
func (a Assertion) Describe() string {
	switch {
	case a.Tool != nil:
		return a.Tool.Describe()
	case a.Review != nil:
		return a.Review.Describe()
	default:
		return "(empty assertion)"
	}
}

func (t *ToolAssertion) Describe() string {
	parts := []string{t.Tool}
	if len(t.Params) > 0 {
		parts = append(parts, "with "+formatPatterns(t.Params))
	}
	if t.Called {
		parts = append(parts, "called")
	} else {
		parts = append(parts, "not called")
	}
	if t.After != "" {
		parts = append(parts, "after "+t.After)
	}
	if t.Before != "" {
		parts = append(parts, "before "+t.Before)
	}
	if c := t.Count; c != nil {
		if c.Exact != nil {
			parts = append(parts, fmt.Sprintf("%d times", *c.Exact))
		}
		if c.Min != nil {
			parts = append(parts, fmt.Sprintf("at least %d times", *c.Min))
		}
		if c.Max != nil {
			parts = append(parts, fmt.Sprintf("at most %d times", *c.Max))
		}
	}
	if t.First != nil {
		parts = append(parts, "first with "+formatPatterns(t.First))
	}
	if t.Last != nil {
		parts = append(parts, "last with "+formatPatterns(t.Last))
	}
	for _, n := range sortedNth(t.Nth) {
		parts = append(parts, fmt.Sprintf("call %d with %s", n, formatPatterns(t.Nth[n])))
	}
	return strings.Join(parts, " ")
}

func (r *ReviewAssertion) Describe() string {
	if r.Threshold == 0 {
		return fmt.Sprintf("stdout review: %s", r.Rubric)
	}
	return fmt.Sprintf("stdout review: %s (threshold %d)", r.Rubric, r.Threshold)
}

// formatPatterns renders patterns as k='v' pairs in key order.
func formatPatterns(patterns map[string]string) string {
	keys := sortedKeys(patterns)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s='%s'", k, patterns[k])
	}
	return strings.Join(pairs, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNth(m map[int]map[string]string) []int {
	ns := make([]int, 0, len(m))
	for n := range m {
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}
