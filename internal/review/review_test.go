package review

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(response string) GradeFunc {
	return func(context.Context, string, string) (string, error) {
		return response, nil
	}
}

func TestBuildPrompt_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "prompt", []byte(BuildPrompt("Updated config.yaml with the new port.", true, "Confirms which file changed")))
}

func TestBuildPrompt_EmptyOutput(t *testing.T) {
	for _, tc := range []struct {
		stdout  string
		present bool
	}{
		{"", false},
		{"", true},
		{"ignored", false},
	} {
		prompt := BuildPrompt(tc.stdout, tc.present, "anything")
		assert.Contains(t, prompt, "---\n"+EmptyOutput+"\n---")
	}
}

func TestGrade_PassesModelAndPrompt(t *testing.T) {
	var gotPrompt, gotModel string
	fn := func(_ context.Context, prompt, model string) (string, error) {
		gotPrompt, gotModel = prompt, model
		return `{"score": 8, "reasoning": "clear"}`, nil
	}

	v, err := Grade(context.Background(), "done", true, Config{Rubric: "says done", Model: "small"}, fn)
	require.NoError(t, err)

	assert.Equal(t, "small", gotModel)
	assert.Contains(t, gotPrompt, "Criteria: says done")
	assert.Equal(t, &Verdict{Score: 8, Reasoning: "clear", Passed: true, Threshold: DefaultThreshold}, v)
}

func TestGrade_ThresholdBoundary(t *testing.T) {
	cfg := Config{Rubric: "x", Threshold: 7}

	v, err := Grade(context.Background(), "out", true, cfg, respond(`{"score": 7, "reasoning": "ok"}`))
	require.NoError(t, err)
	assert.True(t, v.Passed)

	v, err = Grade(context.Background(), "out", true, cfg, respond(`{"score": 6, "reasoning": "meh"}`))
	require.NoError(t, err)
	assert.False(t, v.Passed)
}

func TestGrade_ScoreClamped(t *testing.T) {
	tests := []struct {
		response string
		want     int
		pass     bool
	}{
		{`{"score": 15, "reasoning": "great"}`, 10, true},
		{`{"score": 0, "reasoning": "bad"}`, 1, false},
		{`{"score": -4, "reasoning": "bad"}`, 1, false},
		{`{"score": 99999999999, "reasoning": "great"}`, 10, true},
	}
	for _, tt := range tests {
		v, err := Grade(context.Background(), "out", true, Config{Rubric: "x"}, respond(tt.response))
		require.NoError(t, err, tt.response)
		assert.Equal(t, tt.want, v.Score, tt.response)
		assert.Equal(t, tt.pass, v.Passed, tt.response)
	}
}

func TestGrade_FractionalScoreNeverRoundsUpToPass(t *testing.T) {
	v, err := Grade(context.Background(), "out", true, Config{Rubric: "x", Threshold: 7}, respond(`{"score": 6.5, "reasoning": "borderline"}`))
	assert.Nil(t, v)

	var gradingErr *GradingError
	require.ErrorAs(t, err, &gradingErr)
	assert.Equal(t, StageParse, gradingErr.Stage)
	assert.Contains(t, err.Error(), "6.5")
}

func TestGrade_ExtractsJSONFromSurroundingText(t *testing.T) {
	responses := []string{
		"```json\n{\"score\": 9, \"reasoning\": \"good\"}\n```",
		"Here is my grade: {\"score\": 9, \"reasoning\": \"good\"} Thanks!",
		"  {\"score\": 9, \"reasoning\": \"good\"}\n",
	}
	for _, r := range responses {
		v, err := Grade(context.Background(), "out", true, Config{Rubric: "x"}, respond(r))
		require.NoError(t, err, r)
		assert.Equal(t, 9, v.Score)
		assert.Equal(t, "good", v.Reasoning)
	}
}

func TestGrade_Errors(t *testing.T) {
	boom := errors.New("grader crashed")

	tests := []struct {
		name  string
		fn    GradeFunc
		stage string
	}{
		{"invoke", func(context.Context, string, string) (string, error) { return "", boom }, StageInvoke},
		{"no object", respond("I would rate this a 7."), StageExtract},
		{"invalid json", respond(`{"score": high}`), StageParse},
		{"missing score", respond(`{"reasoning": "no score"}`), StageParse},
		{"non-numeric score", respond(`{"score": "seven"}`), StageParse},
		{"fractional score", respond(`{"score": 7.6, "reasoning": "fine"}`), StageParse},
		{"exponent score", respond(`{"score": 7e0}`), StageParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Grade(context.Background(), "out", true, Config{Rubric: "x"}, tt.fn)
			assert.Nil(t, v)

			var gradingErr *GradingError
			require.ErrorAs(t, err, &gradingErr)
			assert.Equal(t, tt.stage, gradingErr.Stage)
		})
	}

	_, err := Grade(context.Background(), "out", true, Config{Rubric: "x"}, tests[0].fn)
	assert.ErrorIs(t, err, boom)
}

func TestGradeAll_OrderAndIsolation(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(score string) GradeFunc {
		return func(context.Context, string, string) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return `{"score": ` + score + `, "reasoning": "r"}`, nil
		}
	}

	requests := []Request{
		{Stdout: "a", Present: true, Config: Config{Rubric: "x"}, Grade: slow("9")},
		{Stdout: "b", Present: true, Config: Config{Rubric: "x"}, Grade: respond("no json")},
		{Stdout: "c", Present: true, Config: Config{Rubric: "x"}, Grade: slow("3")},
		{Stdout: "d", Present: true, Config: Config{Rubric: "x"}, Grade: slow("7")},
	}

	outcomes := GradeAll(context.Background(), requests, 2)
	require.Len(t, outcomes, 4)

	assert.Equal(t, 9, outcomes[0].Verdict.Score)
	assert.Error(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Verdict)
	assert.Equal(t, 3, outcomes[2].Verdict.Score)
	assert.False(t, outcomes[2].Verdict.Passed)
	assert.Equal(t, 7, outcomes[3].Verdict.Score)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}
