package harness

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func baseScenario(steps ...Step) *Scenario {
	return &Scenario{
		Name:        "inline",
		Description: "inline test scenario",
		Keeper:      KeeperSpec{Registry: "main", Interval: 10, BatchLimit: 2},
		Registries:  map[string]int{"main": 3},
		StartHeight: 100,
		Steps:       steps,
	}
}

func TestRun_CheckAndPerform(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionCheck},
		Step{Action: ActionPerform},
		Step{Action: ActionPerform},
		Step{Action: ActionPerform, Expect: &Expect{Outcome: "NOT_DUE"}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 4)

	check := result.Trace[0]
	require.NotNil(t, check.Due)
	assert.True(t, *check.Due)
	assert.Equal(t, []uint64{0, 1}, check.Indices)
	assert.Equal(t, uint64(2), *check.Cursor)
	assert.Empty(t, check.Notification)

	assert.Equal(t, []uint64{0, 1}, result.Trace[1].Indices)
	assert.Equal(t, "UpkeepPerformed", result.Trace[1].Notification)
	// The window [2, 0] wraps; index 0 is not due yet.
	assert.Equal(t, []uint64{2}, result.Trace[2].Indices)
	assert.Equal(t, uint64(1), *result.Trace[2].Cursor)
	assert.Equal(t, "NOT_DUE", result.Trace[3].Outcome)
	assert.Empty(t, result.Trace[3].Notification)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionCheck, Expect: &Expect{Due: ptr(false), Cursor: ptr(uint64(1))}},
		Step{Action: ActionPerform, Expect: &Expect{Outcome: "PAUSED", Indices: []uint64{2}}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step 0 (check): expected due=false, got true",
		"step 0 (check): expected cursor 1, got 2",
		"step 1 (perform): expected outcome PAUSED, got ok",
		"step 1 (perform): expected indices [2], got [0 1]",
	}, result.Errors)
}

func TestRun_HeightActions(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionMine, Value: 5},
		Step{Action: ActionSetHeight, Value: 7},
		Step{Action: ActionMine},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), result.Trace[0].Height)
	assert.Equal(t, uint64(7), result.Trace[1].Height)
	assert.Equal(t, uint64(7), result.Trace[2].Height)
}

func TestRun_RestartKeepsCursor(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionPerform},
		Step{Action: ActionRestart},
		Step{Action: ActionPerform, Expect: &Expect{Indices: []uint64{2}, Cursor: ptr(uint64(1))}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_DrainUsesSequentialRunIDs(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionDrain, Value: 1},
		Step{Action: ActionDrain, Value: 4},
		Step{Action: ActionDrain},
	)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, "drain-1", result.Trace[0].Run)
	assert.Equal(t, []uint64{0, 1}, result.Trace[0].Indices)

	assert.Equal(t, "drain-2", result.Trace[1].Run)
	assert.Equal(t, []uint64{2}, result.Trace[1].Indices)

	// Nothing due: the tick still gets a run ID but services nothing.
	assert.Equal(t, "drain-3", result.Trace[2].Run)
	assert.Empty(t, result.Trace[2].Indices)
	assert.Nil(t, result.Trace[2].Cursor)
	assert.Equal(t, OutcomeOK, result.Trace[2].Outcome)
}

func TestRun_DrainReportsResourceFailure(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionFail, Indices: []uint64{0}},
		Step{Action: ActionDrain, Value: 3},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, "RESOURCE_FAILED", result.Trace[1].Outcome)
	assert.Empty(t, result.Trace[1].Indices)
}

func TestRun_BrokenStepIsAnError(t *testing.T) {
	scenario := baseScenario(
		Step{Action: ActionRemoveResource, Value: 99},
	)

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (remove-resource)")
}

func TestRun_InvalidKeeperConfig(t *testing.T) {
	scenario := baseScenario(Step{Action: ActionCheck})
	scenario.Keeper.BatchLimit = 0

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup")
}

func TestRun_UnknownCaller(t *testing.T) {
	scenario := baseScenario(Step{Action: ActionPause, Caller: "nobody"})

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nobody" is not owner, stranger or an address`)
}

func TestResourceAddress_Distinct(t *testing.T) {
	seen := map[common.Address]bool{}
	for ordinal := 0; ordinal < 3; ordinal++ {
		for i := 0; i < 300; i++ {
			addr := ResourceAddress(ordinal, i)
			require.False(t, seen[addr], "duplicate address for %d/%d", ordinal, i)
			seen[addr] = true
		}
	}
	assert.NotEqual(t, OwnerAddress, ResourceAddress(0, 0xaa))
}

func TestResolveAddress(t *testing.T) {
	addr, err := resolveAddress("")
	require.NoError(t, err)
	assert.Equal(t, OwnerAddress, addr)

	addr, err = resolveAddress("owner")
	require.NoError(t, err)
	assert.Equal(t, OwnerAddress, addr)

	addr, err = resolveAddress("stranger")
	require.NoError(t, err)
	assert.Equal(t, StrangerAddress, addr)

	hex := "0x00000000000000000000000000000000000000cc"
	addr, err = resolveAddress(hex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(hex), addr)
	assert.Equal(t, addr.Hex(), addressName(addr))

	assert.Equal(t, "owner", addressName(OwnerAddress))
	assert.Equal(t, "stranger", addressName(StrangerAddress))

	_, err = resolveAddress("0x1234")
	require.Error(t, err)
}

func TestCompareExpect(t *testing.T) {
	event := TraceEvent{Outcome: OutcomeOK, Indices: []uint64{1}}

	assert.Empty(t, compareExpect(event, &Expect{}))
	assert.Empty(t, compareExpect(event, &Expect{Outcome: "ok", Indices: []uint64{1}}))

	msgs := compareExpect(event, &Expect{Due: ptr(true), Cursor: ptr(uint64(3))})
	assert.Equal(t, []string{
		"expected due=true, got <unset>",
		"expected cursor 3, got <unset>",
	}, msgs)
}
