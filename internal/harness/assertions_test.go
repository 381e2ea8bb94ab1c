package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Action: ActionPerform, Height: 10, Outcome: OutcomeOK},
		{Step: 1, Action: ActionPerform, Height: 10, Outcome: "NOT_DUE"},
		{Step: 2, Action: ActionCheck, Height: 10, Outcome: OutcomeOK},
		{Step: 3, Action: ActionPerform, Height: 20, Outcome: "NOT_DUE"},
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceCount(trace, Assertion{Action: ActionPerform, Count: 3}))
	require.NoError(t, assertTraceCount(trace, Assertion{Action: ActionPerform, Outcome: "NOT_DUE", Count: 2}))
	require.NoError(t, assertTraceCount(trace, Assertion{Action: ActionDrain, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: ActionPerform, Outcome: OutcomeOK, Count: 2})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceCount, ae.Type)
	assert.Equal(t, "2 occurrences of perform with outcome ok", ae.Expected)
	assert.Equal(t, "1 occurrences", ae.Actual)
	assert.Len(t, ae.Trace, 4)
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of check",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[:1],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 occurrences of check")
	assert.Contains(t, msg, "Actual: 0 occurrences")
	assert.Contains(t, msg, "[0] perform height=10 outcome=ok")
}

func TestAssertionError_NoTrace(t *testing.T) {
	err := &AssertionError{Type: AssertFinalState, Expected: "a", Actual: "b"}
	assert.NotContains(t, err.Error(), "Full trace")
}

func TestAssertions_PassAgainstStore(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionPerform},
		Step{Action: ActionSetBatchLimit, Value: 3},
		Step{Action: ActionPause},
	)
	scenario.Assertions = []Assertion{
		{Type: AssertNotificationCount, Kind: "UpkeepPerformed", Count: 1},
		{Type: AssertNotificationCount, Kind: "BatchLimitUpdated", Count: 1},
		{Type: AssertNotificationCount, Kind: "Unpaused", Count: 0},
		{Type: AssertServiceCount, Registry: "main", Index: 1, Count: 1},
		{Type: AssertServiceCount, Registry: "main", Index: 2, Count: 0},
		{Type: AssertTraceCount, Action: ActionPause, Count: 1},
		{Type: AssertFinalState, Expect: map[string]any{
			"cursor":      2,
			"batch_limit": 3,
			"interval":    10,
			"paused":      true,
			"last_sweep":  0,
			"nonce":       3,
			"registry":    "main",
			"owner":       "owner",
		}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestAssertions_Failures(t *testing.T) {
	scenario := baseScenario(Step{Action: ActionPerform})
	scenario.Assertions = []Assertion{
		{Type: AssertNotificationCount, Kind: "UpkeepPerformed", Count: 2},
		{Type: AssertServiceCount, Registry: "main", Index: 0, Count: 3},
		{Type: AssertServiceCount, Registry: "missing", Index: 0, Count: 1},
		{Type: AssertFinalState, Expect: map[string]any{"cursor": 1}},
		{Type: AssertFinalState, Expect: map[string]any{"color": "blue"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)

	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "2 UpkeepPerformed notifications")
	assert.Contains(t, result.Errors[1], "main[0] serviced 3 times")
	assert.Contains(t, result.Errors[1], "serviced 1 times")
	assert.Contains(t, result.Errors[2], `unknown registry "missing"`)
	assert.Contains(t, result.Errors[3], `field "cursor" = 1`)
	assert.Contains(t, result.Errors[3], `field "cursor" = 2`)
	assert.Contains(t, result.Errors[4], "no such keeper state field")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	msgs := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}}, &AssertionContext{})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], `unknown assertion type "bogus"`)
}
