// Package assert evaluates behavioral assertions against an Action
// Sequence.
//
// A tool assertion names a canonical tool and constrains how it was
// used: whether it was called, how often, in which order relative to
// another tool, and with which parameters on its first, last or nth
// call. The actions of the named tool whose parameters satisfy every
// declared pattern are the qualifying actions; every check operates on
// them.
//
// Parameter patterns are tried as a glob, then as a regular expression,
// then as an exact string. A glob "*" crosses path separators, so
// "*.env" matches "/home/user/.env". A regular expression is an
// unanchored search.
//
// Evaluation never stops at the first failing check. A Result lists
// every failing check and the calls that were observed, so a failing
// test explains itself without a re-run.
//
// Review assertions are declared here but graded by package review.
package assert
