// Package store provides SQLite-backed run history.
//
// Each test execution is one run, written in a single transaction with
// its actions and per-assertion outcomes:
//   - runs: test identity, agent, mode (run or analyze), verdict and
//     the fingerprint of the action sequence
//   - actions: the canonical action sequence, params as canonical JSON
//   - assertion_results: one row per assertion, with the explanation of
//     a failure and the score of a review
//
// Runs are append-only. Writing a run id twice is a no-op.
//
// # Ordering
//
// Listings are ordered by started_at DESC, id ASC COLLATE BINARY, so
// results are stable for runs that started in the same instant. Actions
// are ordered by seq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
