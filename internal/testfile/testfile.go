// Package testfile loads YAML test files and compiles them into
// assertions.
//
// A test file names a prompt, an optional agent and a list of
// assertions:
//
//	name: Reads config
//	prompt: Read the config file
//	assertions:
//	  - tool: Read
//	    params: { file_path: "*.yaml" }
//	  - stdout:
//	      review: mentions the port number
//
// Loading is strict. Unknown fields are rejected, the document is
// checked against an embedded CUE schema, tool names are resolved to
// canonical names and every assertion is validated, all before any
// agent runs.
package testfile

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tatimblin/aptitude/internal/assert"
	"github.com/tatimblin/aptitude/internal/canonical"
)

// File is the YAML shape of a test file.
type File struct {
	Name       string          `yaml:"name"`
	Prompt     string          `yaml:"prompt"`
	Agent      string          `yaml:"agent,omitempty"`
	Assertions []AssertionSpec `yaml:"assertions"`
}

// AssertionSpec is one YAML assertion. Either Tool or Stdout is set.
type AssertionSpec struct {
	Tool string `yaml:"tool,omitempty"`

	// Called defaults to true.
	Called *bool             `yaml:"called,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`

	CalledAfter  string `yaml:"called_after,omitempty"`
	CalledBefore string `yaml:"called_before,omitempty"`

	CallCount *int `yaml:"call_count,omitempty"`
	MinCalls  *int `yaml:"min_calls,omitempty"`
	MaxCalls  *int `yaml:"max_calls,omitempty"`

	// NthCallParams keys are 1-indexed.
	NthCallParams   map[int]map[string]string `yaml:"nth_call_params,omitempty"`
	FirstCallParams map[string]string         `yaml:"first_call_params,omitempty"`
	LastCallParams  map[string]string         `yaml:"last_call_params,omitempty"`

	Stdout *StdoutSpec `yaml:"stdout,omitempty"`
}

// StdoutSpec configures a review of the agent's final output.
type StdoutSpec struct {
	Review    string `yaml:"review"`
	Threshold *int   `yaml:"threshold,omitempty"`
	Model     string `yaml:"model,omitempty"`

	// Agent selects the grading backend. Empty means the test's agent.
	Agent string `yaml:"agent,omitempty"`
}

// Test is a loaded, validated test ready to run.
type Test struct {
	Name       string
	Prompt     string
	Agent      string
	Path       string
	Hash       string
	Assertions []assert.Assertion
}

// Load reads, validates and compiles a test file.
func Load(path string) (*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Path = path
	return t, nil
}

// Parse decodes, validates and compiles test file contents.
func Parse(data []byte) (*Test, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateSchema(&f); err != nil {
		return nil, fmt.Errorf("invalid test: %w", err)
	}

	assertions, err := f.Compile()
	if err != nil {
		return nil, fmt.Errorf("invalid test: %w", err)
	}

	return &Test{
		Name:       f.Name,
		Prompt:     f.Prompt,
		Agent:      f.Agent,
		Hash:       canonical.Hash(canonical.DomainTestFile, data),
		Assertions: assertions,
	}, nil
}

// Compile resolves tool names and converts every assertion, validating
// each one.
func (f *File) Compile() ([]assert.Assertion, error) {
	out := make([]assert.Assertion, len(f.Assertions))
	for i := range f.Assertions {
		a, err := f.Assertions[i].compile(i)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	if err := assert.ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AssertionSpec) compile(index int) (assert.Assertion, error) {
	if s.Stdout != nil {
		if s.Tool != "" {
			return assert.Assertion{}, &assert.SpecError{Index: index, Field: "assertion", Message: "tool and stdout cannot be combined"}
		}
		r := &assert.ReviewAssertion{
			Rubric: s.Stdout.Review,
			Model:  s.Stdout.Model,
			Grader: s.Stdout.Agent,
		}
		if s.Stdout.Threshold != nil {
			r.Threshold = *s.Stdout.Threshold
		}
		return assert.Assertion{Review: r}, nil
	}

	resolve := func(field, name string) (string, error) {
		if name == "" {
			return "", nil
		}
		tool, err := ResolveTool(name)
		if err != nil {
			return "", &assert.SpecError{Index: index, Field: field, Message: err.Error()}
		}
		return tool, nil
	}

	tool, err := resolve("tool", s.Tool)
	if err != nil {
		return assert.Assertion{}, err
	}
	after, err := resolve("called_after", s.CalledAfter)
	if err != nil {
		return assert.Assertion{}, err
	}
	before, err := resolve("called_before", s.CalledBefore)
	if err != nil {
		return assert.Assertion{}, err
	}

	t := &assert.ToolAssertion{
		Tool:   tool,
		Called: s.Called == nil || *s.Called,
		Params: s.Params,
		After:  after,
		Before: before,
		First:  s.FirstCallParams,
		Last:   s.LastCallParams,
		Nth:    s.NthCallParams,
	}
	if s.CallCount != nil || s.MinCalls != nil || s.MaxCalls != nil {
		t.Count = &assert.CountConstraint{Exact: s.CallCount, Min: s.MinCalls, Max: s.MaxCalls}
	}
	return assert.Assertion{Tool: t}, nil
}
