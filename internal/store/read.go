package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by ReadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Test  string
	Agent string
	Limit int
}

// ListRuns returns run headers, newest first. Actions and assertions
// are not loaded; use ReadRun for those.
// Results are ordered deterministically: ORDER BY started_at DESC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no runs match.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `
		SELECT id, test_name, test_path, test_hash, agent, mode, fingerprint, passed, stdout, started_at, duration_ms
		FROM runs
		WHERE (? = '' OR test_name = ?)
		  AND (? = '' OR agent = ?)
		ORDER BY started_at DESC, id COLLATE BINARY ASC
	`
	args := []any{filter.Test, filter.Test, filter.Agent, filter.Agent}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun retrieves a run with its actions and assertion outcomes.
// Returns ErrRunNotFound if no run has the id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_name, test_path, test_hash, agent, mode, fingerprint, passed, stdout, started_at, duration_ms
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	if run.Actions, err = s.readActions(ctx, id); err != nil {
		return Run{}, err
	}
	if run.Assertions, err = s.readAssertions(ctx, id); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) readActions(ctx context.Context, runID string) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tool, params, timestamp
		FROM actions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []ActionRecord{}
	for rows.Next() {
		var (
			a      ActionRecord
			params string
			ts     string
		)
		if err := rows.Scan(&a.Seq, &a.Tool, &params, &ts); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if a.Params, err = unmarshalParams(params); err != nil {
			return nil, err
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

func (s *Store) readAssertions(ctx context.Context, runID string) ([]AssertionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, description, passed, explanation, score
		FROM assertion_results
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query assertion results: %w", err)
	}
	defer rows.Close()

	results := []AssertionRecord{}
	for rows.Next() {
		var (
			r      AssertionRecord
			passed int
			score  sql.NullInt64
		)
		if err := rows.Scan(&r.Index, &r.Kind, &r.Description, &passed, &r.Explanation, &score); err != nil {
			return nil, fmt.Errorf("scan assertion result: %w", err)
		}
		r.Passed = passed == 1
		if score.Valid {
			n := int(score.Int64)
			r.Score = &n
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assertion results: %w", err)
	}
	return results, nil
}

// TestStats summarizes the history of one test.
type TestStats struct {
	Test   string
	Runs   int
	Passed int

	// Behaviors counts distinct action sequences observed.
	Behaviors int
	LastRun   time.Time
}

// PassRate returns the fraction of passing runs.
func (t TestStats) PassRate() float64 {
	if t.Runs == 0 {
		return 0
	}
	return float64(t.Passed) / float64(t.Runs)
}

// Stats returns per-test aggregates ordered by test name.
func (s *Store) Stats(ctx context.Context) ([]TestStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_name, COUNT(*), SUM(passed), COUNT(DISTINCT fingerprint), MAX(started_at)
		FROM runs
		GROUP BY test_name
		ORDER BY test_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := []TestStats{}
	for rows.Next() {
		var (
			st   TestStats
			last string
		)
		if err := rows.Scan(&st.Test, &st.Runs, &st.Passed, &st.Behaviors, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if st.LastRun, err = parseTime(last); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run      Run
		passed   int
		stdout   sql.NullString
		started  string
		duration int64
	)
	err := sc.Scan(
		&run.ID,
		&run.TestName,
		&run.TestPath,
		&run.TestHash,
		&run.Agent,
		&run.Mode,
		&run.Fingerprint,
		&passed,
		&stdout,
		&started,
		&duration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.Passed = passed == 1
	if stdout.Valid {
		out := stdout.String
		run.Stdout = &out
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	run.Duration = time.Duration(duration) * time.Millisecond
	return run, nil
}
