package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/upkeep/internal/notify"
	"github.com/roach88/upkeep/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s height=%d outcome=%s\n", event.Step, event.Action, event.Height, event.Outcome)
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions read besides the trace.
type AssertionContext struct {
	Ctx      context.Context
	Keeper   *store.Keeper
	Ordinals map[string]int // registry name -> ordinal, for ResourceAddress
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertNotificationCount:
			err = assertNotificationCount(actx, a)
		case AssertServiceCount:
			err = assertServiceCount(actx, a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

// assertTraceCount checks that steps with the action (and outcome, if
// given) appear exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Action
		if assertion.Outcome != "" {
			what += " with outcome " + assertion.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertNotificationCount checks the persisted notification log.
func assertNotificationCount(actx *AssertionContext, assertion Assertion) error {
	notes, err := actx.Keeper.Notifications(actx.Ctx, notify.Kind(assertion.Kind))
	if err != nil {
		return err
	}
	if len(notes) != assertion.Count {
		return &AssertionError{
			Type:     AssertNotificationCount,
			Expected: fmt.Sprintf("%d %s notifications", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d", len(notes)),
		}
	}
	return nil
}

// assertServiceCount checks the persisted service log of one resource.
func assertServiceCount(actx *AssertionContext, assertion Assertion) error {
	ordinal, ok := actx.Ordinals[assertion.Registry]
	if !ok {
		return fmt.Errorf("unknown registry %q", assertion.Registry)
	}
	addr := ResourceAddress(ordinal, int(assertion.Index))
	records, err := actx.Keeper.ResourceHistory(actx.Ctx, addr)
	if err != nil {
		return err
	}
	if len(records) != assertion.Count {
		return &AssertionError{
			Type:     AssertServiceCount,
			Expected: fmt.Sprintf("%s[%d] serviced %d times", assertion.Registry, assertion.Index, assertion.Count),
			Actual:   fmt.Sprintf("serviced %d times", len(records)),
		}
	}
	return nil
}

// assertFinalState compares the persisted keeper state with the expected
// fields. Values are compared by their printed form so YAML integers match
// unsigned state fields.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	state, err := actx.Keeper.Load(actx.Ctx)
	if err != nil {
		return err
	}
	actual := map[string]any{
		"cursor":      state.Cursor,
		"interval":    state.Config.Interval,
		"batch_limit": state.Config.BatchLimit,
		"paused":      state.Config.Paused,
		"last_sweep":  state.LastSweep,
		"nonce":       state.Nonce,
		"registry":    state.RegistryRef,
		"owner":       addressName(state.Config.Owner),
	}

	// Sort keys so the first reported mismatch is deterministic
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   "no such keeper state field",
			}
		}
		if fmt.Sprint(expected) != fmt.Sprint(got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, expected),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}
