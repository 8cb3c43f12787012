package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tatimblin/aptitude/internal/trace"
)

// Run modes.
const (
	ModeRun     = "run"
	ModeAnalyze = "analyze"
)

// Assertion kinds.
const (
	KindTool   = "tool"
	KindReview = "review"
)

// Run is one recorded test execution.
type Run struct {
	ID          string
	TestName    string
	TestPath    string
	TestHash    string
	Agent       string
	Mode        string
	Fingerprint string
	Passed      bool

	// Stdout is nil when the run produced no captured output, as in
	// analyze mode.
	Stdout *string

	StartedAt time.Time
	Duration  time.Duration

	Actions    []ActionRecord
	Assertions []AssertionRecord
}

// ActionRecord is one stored action of a run.
type ActionRecord struct {
	Seq       int
	Tool      string
	Params    trace.Params
	Timestamp time.Time
}

// AssertionRecord is the stored outcome of one assertion.
type AssertionRecord struct {
	Index       int
	Kind        string
	Description string
	Passed      bool
	Explanation string

	// Score is set for review assertions that were graded.
	Score *int
}

// ActionRecords converts a sequence into storable records.
func ActionRecords(seq *trace.Sequence) []ActionRecord {
	actions := seq.Actions()
	out := make([]ActionRecord, 0, len(actions))
	for _, a := range actions {
		out = append(out, ActionRecord{
			Seq:       a.Seq,
			Tool:      a.Tool,
			Params:    a.Params,
			Timestamp: a.Timestamp,
		})
	}
	return out
}

// WriteRun inserts a run with its actions and assertion outcomes in one
// transaction. Uses ON CONFLICT DO NOTHING for idempotency: rewriting
// an existing run id is silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) (err error) {
	if run.ID == "" {
		return errors.New("write run: empty id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, test_name, test_path, test_hash, agent, mode, fingerprint, passed, stdout, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.TestName,
		run.TestPath,
		run.TestHash,
		run.Agent,
		run.Mode,
		run.Fingerprint,
		boolToInt(run.Passed),
		nullString(run.Stdout),
		formatTime(run.StartedAt),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	// Existing run: leave its children untouched.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tx.Commit()
	}

	for _, a := range run.Actions {
		params, err := marshalParams(a.Params)
		if err != nil {
			return fmt.Errorf("write run: action %d: %w", a.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions (run_id, seq, tool, params, timestamp)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, run.ID, a.Seq, a.Tool, params, formatTime(a.Timestamp))
		if err != nil {
			return fmt.Errorf("write run: action %d: %w", a.Seq, err)
		}
	}

	for _, r := range run.Assertions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assertion_results (run_id, idx, kind, description, passed, explanation, score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, run.ID, r.Index, r.Kind, r.Description, boolToInt(r.Passed), r.Explanation, nullInt(r.Score))
		if err != nil {
			return fmt.Errorf("write run: assertion %d: %w", r.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}
