// Package review grades an agent's final output against a rubric using
// a grading model.
//
// The package does no I/O of its own. The caller supplies a GradeFunc,
// usually an agent adapter's Grade method, which receives the grading
// prompt and returns the model's raw text response.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultThreshold is the passing score when none is configured.
const DefaultThreshold = 7

// Score bounds. Reported scores are clamped into this range.
const (
	MinScore = 1
	MaxScore = 10
)

// EmptyOutput replaces absent or empty stdout in the grading prompt.
const EmptyOutput = "(empty - no output was produced)"

// GradeFunc sends a prompt to a grading model and returns its raw text
// response. An empty model selects the backend's default.
type GradeFunc func(ctx context.Context, prompt, model string) (string, error)

// Config configures one grading.
type Config struct {
	Rubric string

	// Threshold is the minimum passing score. Zero means DefaultThreshold.
	Threshold int
	Model     string
}

func (c Config) threshold() int {
	if c.Threshold == 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

// Verdict is the outcome of a grading.
type Verdict struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
	Passed    bool   `json:"passed"`
	Threshold int    `json:"threshold"`
}

// Grading failure stages.
const (
	StageInvoke  = "invoke"
	StageExtract = "extract"
	StageParse   = "parse"
)

// GradingError reports a grading that produced no verdict.
type GradingError struct {
	Stage    string
	Response string
	Err      error
}

func (e *GradingError) Error() string {
	switch e.Stage {
	case StageInvoke:
		return fmt.Sprintf("grading failed: %v", e.Err)
	case StageExtract:
		return fmt.Sprintf("grading response contains no JSON object: %q", preview(e.Response))
	default:
		return fmt.Sprintf("failed to parse grading response: %v", e.Err)
	}
}

func (e *GradingError) Unwrap() error {
	return e.Err
}

const promptTemplate = `You are a test grader. Evaluate the following output against the given criteria.

Criteria: %s

Output to evaluate:
---
%s
---

Rate how well the output meets the criteria on a scale of 1-10:
- 1-3: Clearly fails the criteria
- 4-6: Partially meets the criteria
- 7-9: Meets the criteria well
- 10: Perfectly meets the criteria

Respond with ONLY a JSON object, no other text:
{"score": <number>, "reasoning": "<brief explanation>"}`

// BuildPrompt renders the grading prompt. Absent or empty stdout is
// replaced by EmptyOutput.
func BuildPrompt(stdout string, present bool, rubric string) string {
	if !present || stdout == "" {
		stdout = EmptyOutput
	}
	return fmt.Sprintf(promptTemplate, rubric, stdout)
}

// Grade builds the prompt, calls fn and interprets its response. The
// score is clamped to [MinScore, MaxScore] and passes when it reaches
// the threshold.
func Grade(ctx context.Context, stdout string, present bool, cfg Config, fn GradeFunc) (*Verdict, error) {
	prompt := BuildPrompt(stdout, present, cfg.Rubric)

	response, err := fn(ctx, prompt, cfg.Model)
	if err != nil {
		return nil, &GradingError{Stage: StageInvoke, Err: err}
	}
	return ParseResponse(response, cfg.threshold())
}

type gradingResponse struct {
	Score     *json.Number `json:"score"`
	Reasoning string       `json:"reasoning"`
}

// ParseResponse extracts the verdict from a grading model's raw text.
// The JSON object is taken from the first '{' to the last '}', which
// tolerates code fences and surrounding prose.
func ParseResponse(response string, threshold int) (*Verdict, error) {
	raw, ok := extractJSON(response)
	if !ok {
		return nil, &GradingError{Stage: StageExtract, Response: response}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed gradingResponse
	if err := dec.Decode(&parsed); err != nil {
		return nil, &GradingError{Stage: StageParse, Response: response, Err: err}
	}
	if parsed.Score == nil {
		return nil, &GradingError{Stage: StageParse, Response: response, Err: fmt.Errorf("missing score")}
	}
	n, err := parsed.Score.Int64()
	if err != nil {
		return nil, &GradingError{Stage: StageParse, Response: response, Err: fmt.Errorf("score must be an integer, got %s", parsed.Score.String())}
	}

	score := clamp(n)
	return &Verdict{
		Score:     score,
		Reasoning: parsed.Reasoning,
		Passed:    score >= threshold,
		Threshold: threshold,
	}, nil
}

func extractJSON(response string) ([]byte, bool) {
	trimmed := strings.TrimSpace(response)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, false
	}
	return []byte(trimmed[start : end+1]), true
}

func clamp(score int64) int {
	return int(min(max(score, MinScore), MaxScore))
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= 60 {
		return s
	}
	return string(r[:57]) + "..."
}
