package assert

// ToolOption configures a tool assertion built with NewToolAssertion.
type ToolOption func(*ToolAssertion)

// WithParams requires qualifying actions to match every pattern.
func WithParams(patterns map[string]string) ToolOption {
	return func(t *ToolAssertion) { t.Params = patterns }
}

// NotCalled asserts that no action qualifies.
func NotCalled() ToolOption {
	return func(t *ToolAssertion) { t.Called = false }
}

// Times requires exactly n qualifying actions.
func Times(n int) ToolOption {
	return func(t *ToolAssertion) { count(t).Exact = &n }
}

// AtLeast requires n or more qualifying actions.
func AtLeast(n int) ToolOption {
	return func(t *ToolAssertion) { count(t).Min = &n }
}

// AtMost allows up to n qualifying actions.
func AtMost(n int) ToolOption {
	return func(t *ToolAssertion) { count(t).Max = &n }
}

// Before requires a qualifying action ahead of tool's first occurrence.
func Before(tool string) ToolOption {
	return func(t *ToolAssertion) { t.Before = tool }
}

// After requires a qualifying action past tool's last occurrence.
func After(tool string) ToolOption {
	return func(t *ToolAssertion) { t.After = tool }
}

// FirstWith constrains the first qualifying action.
func FirstWith(patterns map[string]string) ToolOption {
	return func(t *ToolAssertion) { t.First = patterns }
}

// LastWith constrains the last qualifying action.
func LastWith(patterns map[string]string) ToolOption {
	return func(t *ToolAssertion) { t.Last = patterns }
}

// NthWith constrains the nth (1-indexed) qualifying action.
func NthWith(n int, patterns map[string]string) ToolOption {
	return func(t *ToolAssertion) {
		if t.Nth == nil {
			t.Nth = make(map[int]map[string]string)
		}
		t.Nth[n] = patterns
	}
}

func count(t *ToolAssertion) *CountConstraint {
	if t.Count == nil {
		t.Count = &CountConstraint{}
	}
	return t.Count
}

// NewToolAssertion builds a validated tool assertion. The tool is
// expected to be called unless NotCalled is given.
func NewToolAssertion(tool string, opts ...ToolOption) (Assertion, error) {
	t := &ToolAssertion{Tool: tool, Called: true}
	for _, opt := range opts {
		opt(t)
	}
	a := Assertion{Tool: t}
	if err := a.Validate(); err != nil {
		return Assertion{}, err
	}
	return a, nil
}

// NewReviewAssertion builds a validated review assertion. A zero
// threshold defers to the configured default.
func NewReviewAssertion(rubric string, threshold int, model string) (Assertion, error) {
	a := Assertion{Review: &ReviewAssertion{Rubric: rubric, Threshold: threshold, Model: model}}
	if err := a.Validate(); err != nil {
		return Assertion{}, err
	}
	return a, nil
}
