package review

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds GradeAll when no limit is given.
const DefaultConcurrency = 4

// Request is one grading in a batch.
type Request struct {
	Stdout  string
	Present bool
	Config  Config
	Grade   GradeFunc
}

// Outcome pairs a request with its verdict or error.
type Outcome struct {
	Verdict *Verdict
	Err     error
}

// GradeAll grades requests concurrently, at most limit at a time, and
// returns outcomes in request order. A failing grading does not cancel
// the others.
func GradeAll(ctx context.Context, requests []Request, limit int) []Outcome {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	outcomes := make([]Outcome, len(requests))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			v, err := Grade(ctx, req.Stdout, req.Present, req.Config, req.Grade)
			outcomes[i] = Outcome{Verdict: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
