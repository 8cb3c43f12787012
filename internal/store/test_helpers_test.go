package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tatimblin/aptitude/internal/trace"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestRun creates a run with minimal required fields.
func createTestRun(id, test string, passed bool, started time.Time) Run {
	return Run{
		ID:          id,
		TestName:    test,
		TestPath:    "tests/" + test + ".aptitude.yaml",
		TestHash:    "test-hash",
		Agent:       "claude",
		Mode:        ModeRun,
		Fingerprint: "fp-" + test,
		Passed:      passed,
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
	}
}

func testParams(m map[string]any) trace.Params {
	return trace.ParamsFromMap(m)
}
