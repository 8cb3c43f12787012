package assert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Contradictions(t *testing.T) {
	tests := []struct {
		name  string
		a     Assertion
		field string
	}{
		{"empty", Assertion{}, "assertion"},
		{"both variants", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true}, Review: &ReviewAssertion{Rubric: "x"}}, "assertion"},
		{"empty tool", Assertion{Tool: &ToolAssertion{Called: true}}, "tool"},
		{"not called with exact", Assertion{Tool: &ToolAssertion{Tool: "Read", Count: &CountConstraint{Exact: intp(2)}}}, "count.exact"},
		{"not called with min", Assertion{Tool: &ToolAssertion{Tool: "Read", Count: &CountConstraint{Min: intp(1)}}}, "count.min"},
		{"not called with max", Assertion{Tool: &ToolAssertion{Tool: "Read", Count: &CountConstraint{Max: intp(3)}}}, "count.max"},
		{"called with exact zero", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true, Count: &CountConstraint{Exact: intp(0)}}}, "count.exact"},
		{"min above max", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true, Count: &CountConstraint{Min: intp(3), Max: intp(1)}}}, "count"},
		{"negative", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true, Count: &CountConstraint{Min: intp(-1)}}}, "count.min"},
		{"nth zero", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true, Nth: map[int]map[string]string{0: {"a": "b"}}}}, "nth"},
		{"not called with order", Assertion{Tool: &ToolAssertion{Tool: "Read", After: "Glob"}}, "after"},
		{"ordered against itself", Assertion{Tool: &ToolAssertion{Tool: "Read", Called: true, Before: "Read"}}, "before"},
		{"empty rubric", Assertion{Review: &ReviewAssertion{Rubric: "  "}}, "review"},
		{"threshold too high", Assertion{Review: &ReviewAssertion{Rubric: "ok", Threshold: 11}}, "threshold"},
		{"threshold negative", Assertion{Review: &ReviewAssertion{Rubric: "ok", Threshold: -1}}, "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.Validate()
			require.Error(t, err)

			var specErr *SpecError
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, tt.field, specErr.Field)
			assert.Equal(t, -1, specErr.Index)
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	valid := []Assertion{
		{Tool: &ToolAssertion{Tool: "Read", Called: true}},
		{Tool: &ToolAssertion{Tool: "Bash", Called: false, Count: &CountConstraint{Max: intp(0)}}},
		{Tool: &ToolAssertion{Tool: "Read", Called: true, Count: &CountConstraint{Min: intp(1), Max: intp(1)}}},
		{Review: &ReviewAssertion{Rubric: "mentions the file"}},
		{Review: &ReviewAssertion{Rubric: "mentions the file", Threshold: 10}},
	}
	for _, a := range valid {
		assert.NoError(t, a.Validate(), a.Describe())
	}
}

func TestValidateAll_IndexesError(t *testing.T) {
	err := ValidateAll([]Assertion{
		{Tool: &ToolAssertion{Tool: "Read", Called: true}},
		{Review: &ReviewAssertion{}},
	})
	require.Error(t, err)
	assert.Equal(t, "assertions[1].review: rubric is required", err.Error())
}

func TestNewToolAssertion(t *testing.T) {
	a, err := NewToolAssertion("Read",
		WithParams(map[string]string{"file_path": "*.go"}),
		After("Glob"),
		AtLeast(1),
		NthWith(2, map[string]string{"file_path": "*_test.go"}),
	)
	require.NoError(t, err)
	require.NotNil(t, a.Tool)
	assert.True(t, a.Tool.Called)
	assert.Equal(t, "Read with file_path='*.go' called after Glob at least 1 times call 2 with file_path='*_test.go'", a.Describe())

	_, err = NewToolAssertion("Read", NotCalled(), Times(2))
	var specErr *SpecError
	assert.ErrorAs(t, err, &specErr)
}

func TestNewReviewAssertion(t *testing.T) {
	a, err := NewReviewAssertion("summarizes the change", 8, "")
	require.NoError(t, err)
	assert.Equal(t, "stdout review: summarizes the change (threshold 8)", a.Describe())

	_, err = NewReviewAssertion("", 0, "")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		a    *ToolAssertion
		want string
	}{
		{&ToolAssertion{Tool: "Read", Called: true}, "Read called"},
		{&ToolAssertion{Tool: "Bash", Called: false}, "Bash not called"},
		{
			&ToolAssertion{Tool: "Edit", Called: true, Params: map[string]string{"old_string": "foo", "file_path": "*.go"}},
			"Edit with file_path='*.go', old_string='foo' called",
		},
		{&ToolAssertion{Tool: "Write", Called: true, Before: "Bash", Count: &CountConstraint{Exact: intp(1)}}, "Write called before Bash 1 times"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Describe())
	}
}
