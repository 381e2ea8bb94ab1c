// Package harness runs keeper scenarios for conformance testing.
//
// A scenario is a YAML file describing a keeper configuration, one or more
// registries and a list of steps: checks, performs, admin calls, height
// changes, registry edits, injected maintenance failures, restarts from the
// store, and engine drains. Each step may carry an expectation that is
// compared against what the keeper actually did.
//
// Every scenario runs against a fresh in-memory store, a settable height
// clock and sequential run IDs, so the trace it produces is deterministic
// and can be compared against a golden file:
//
//	go test ./internal/harness -update
//
// regenerates the files under testdata/golden.
//
// Trace format: one JSON object per step, in step order, one per line.
package harness
