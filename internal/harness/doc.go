// Package harness runs aptitude tests against agent backends.
//
// A run resolves the test's agent from the registry, launches it on the
// prompt, and judges the resulting canonical action sequence:
//
//   - tool assertions are evaluated by assert.Evaluator
//   - review assertions are graded concurrently by review.GradeAll,
//     through the assertion's grader, the configured grader, or the
//     agent under test, in that order of preference
//
// Analyze judges an existing execution log instead of launching an
// agent. No stdout is captured in that mode.
//
// # Results
//
// Assertion outcomes keep the order of the test file. A Result passes
// only when every assertion passed. An agent that cannot be resolved or
// launched is an error from Run; a review that cannot be graded is a
// failed assertion.
//
// # Determinism
//
// Run IDs and timestamps come from Options.IDs and Options.Now, so tests
// can substitute testutil.SequentialIDs and testutil.DeterministicClock.
//
// # Usage
//
//	h := harness.New(harness.Options{Registry: agent.DefaultRegistry(logger), Config: cfg})
//	result, err := h.Run(ctx, test)
//	if err != nil {
//	    return err
//	}
//	for _, msg := range result.Errors {
//	    fmt.Print(msg)
//	}
package harness
