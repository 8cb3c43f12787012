package harness

import (
	"fmt"

	"github.com/tatimblin/aptitude/internal/canonical"
)

// Snapshot renders the deterministic part of a result as canonical
// JSON: the test, agent, mode, verdict, the tool/params list and each
// assertion's outcome. Run ID, timings and stdout are left out so two
// runs with identical behavior produce identical snapshots.
func (r *Result) Snapshot() ([]byte, error) {
	actions := make([]any, len(r.Actions))
	for i, a := range r.Actions {
		actions[i] = map[string]any{
			"tool":   a.Tool,
			"params": a.Params.Map(),
		}
	}

	assertions := make([]any, len(r.Assertions))
	for i, a := range r.Assertions {
		m := map[string]any{
			"description": a.Description,
			"kind":        a.Kind,
			"passed":      a.Passed,
		}
		if a.Verdict != nil {
			m["score"] = a.Verdict.Score
		}
		assertions[i] = m
	}

	data, err := canonical.Marshal(map[string]any{
		"test":       r.Test,
		"agent":      r.Agent,
		"mode":       r.Mode,
		"pass":       r.Pass,
		"actions":    actions,
		"assertions": assertions,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", r.Test, err)
	}
	return append(data, '\n'), nil
}
