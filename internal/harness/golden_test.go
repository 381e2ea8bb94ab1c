package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGolden_Scenarios runs every scenario under testdata/scenarios and
// compares its trace with testdata/golden. Regenerate with:
//
//	go test ./internal/harness -run TestGolden_Scenarios -update
func TestGolden_Scenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "%s: %v", filepath.Base(path), result.Errors)
		})
	}
}

func TestMarshalTrace(t *testing.T) {
	due := true
	cursor := uint64(0)
	trace := []TraceEvent{
		{Step: 0, Action: ActionCheck, Height: 5, Outcome: OutcomeOK, Due: &due, Indices: []uint64{3}, Cursor: &cursor},
		{Step: 1, Action: ActionDrain, Height: 5, Outcome: OutcomeOK, Run: "drain-1", Indices: []uint64{}},
		{Step: 2, Action: ActionPause, Height: 5, Outcome: "PAUSED"},
	}

	out, err := MarshalTrace("demo<&>", trace)
	require.NoError(t, err)

	want := strings.Join([]string{
		`{"scenario":"demo<&>"}`,
		`{"step":0,"action":"check","height":5,"outcome":"ok","due":true,"indices":[3],"cursor":0}`,
		`{"step":1,"action":"drain","height":5,"outcome":"ok","run":"drain-1"}`,
		`{"step":2,"action":"pause","height":5,"outcome":"PAUSED"}`,
	}, "\n") + "\n"
	assert.Equal(t, want, string(out))
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionPerform},
		Step{Action: ActionDrain, Value: 2},
	)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
