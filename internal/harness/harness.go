package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/engine"
	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/notify"
	"github.com/roach88/upkeep/internal/store"
	"github.com/roach88/upkeep/internal/testutil"
)

// Addresses used by every scenario.
var (
	OwnerAddress    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	StrangerAddress = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

const keeperName = "scenario"

// ResourceAddress returns the i-th resource of the registry with the given
// ordinal (its position among the scenario's registry names, sorted).
func ResourceAddress(ordinal, i int) common.Address {
	return common.BytesToAddress([]byte{0xee, byte(ordinal), byte(i >> 8), byte(i)})
}

var errInjected = errors.New("injected maintenance failure")

// scriptedMaintainer fails for the resources marked by fail steps.
type scriptedMaintainer struct {
	failing map[common.Address]bool
}

func (m *scriptedMaintainer) Maintain(_ context.Context, resource common.Address) error {
	if m.failing[resource] {
		return fmt.Errorf("%w: %s", errInjected, resource.Hex())
	}
	return nil
}

// Harness is the scenario execution engine.
// It runs steps against a real controller, store and engine with a
// deterministic clock and run IDs.
type Harness struct {
	ctx        context.Context
	store      *store.Store
	keeper     *store.Keeper
	clock      *testutil.HeightClock
	runIDs     *testutil.SequentialRunIDs
	maintainer *scriptedMaintainer
	ctl        *keeper.Controller
	logger     *slog.Logger

	ordinals map[string]int // registry name -> ordinal
	next     map[string]int // registry name -> next resource number
	initial  string         // keeper registry at scenario start

	lastNotification notify.Kind
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Create registries and the keeper
// 2. Execute steps, checking each expect clause
// 3. Evaluate assertions against the store and trace
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		ctx:        context.Background(),
		store:      st,
		keeper:     st.Keeper(keeperName),
		clock:      testutil.NewHeightClock(scenario.StartHeight),
		runIDs:     testutil.NewSequentialRunIDs("drain"),
		maintainer: &scriptedMaintainer{failing: map[common.Address]bool{}},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		ordinals:   map[string]int{},
		next:       map[string]int{},
		initial:    scenario.Keeper.Registry,
	}

	if err := h.setup(scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		event, err := h.execute(i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		result.AddTrace(event)
		if step.Expect != nil {
			for _, msg := range compareExpect(event, step.Expect) {
				result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Action, msg))
			}
		}
	}

	actx := &AssertionContext{
		Ctx:      h.ctx,
		Keeper:   h.keeper,
		Ordinals: h.ordinals,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// setup creates the registries and the keeper, then builds the controller.
func (h *Harness) setup(s *Scenario) error {
	names := make([]string, 0, len(s.Registries))
	for name := range s.Registries {
		names = append(names, name)
	}
	sort.Strings(names)

	for ordinal, name := range names {
		h.ordinals[name] = ordinal
		reg, err := h.store.CreateRegistry(h.ctx, name, OwnerAddress)
		if err != nil {
			return err
		}
		if err := h.addResources(reg, s.Registries[name]); err != nil {
			return err
		}
	}

	mode, err := keeper.ParseMode(s.Keeper.Mode)
	if err != nil {
		return err
	}
	cfg := keeper.Config{
		Owner:      OwnerAddress,
		Interval:   s.Keeper.Interval,
		BatchLimit: s.Keeper.BatchLimit,
		Mode:       mode,
		FieldBits:  s.Keeper.FieldBits,
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := h.keeper.Create(h.ctx, keeper.State{Config: cfg, RegistryRef: s.Keeper.Registry}); err != nil {
		return err
	}
	return h.restart()
}

// restart rebuilds the controller from the store, as a new process would.
func (h *Harness) restart() error {
	state, err := h.keeper.Load(h.ctx)
	if err != nil {
		return err
	}
	reg, err := h.store.OpenRegistry(h.ctx, state.RegistryRef)
	if err != nil {
		return err
	}
	ctl, err := keeper.Restore(state, reg, h.maintainer, h.clock,
		keeper.WithPersister(h.keeper),
		keeper.WithObserver(func(n notify.Notification) {
			h.lastNotification = n.Kind
		}),
		keeper.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}
	h.ctl = ctl
	return nil
}

func (h *Harness) addResources(reg *store.Registry, n int) error {
	name := reg.Ref()
	addrs := make([]common.Address, n)
	for i := range addrs {
		addrs[i] = ResourceAddress(h.ordinals[name], h.next[name])
		h.next[name]++
	}
	return reg.AddAddresses(h.ctx, OwnerAddress, addrs...)
}

// execute runs one step. A returned error means the scenario itself is
// broken; keeper refusals are recorded as the step outcome.
func (h *Harness) execute(index int, step Step) (TraceEvent, error) {
	event := TraceEvent{Step: index, Action: step.Action, Outcome: OutcomeOK}
	h.lastNotification = ""

	var opErr error
	switch step.Action {
	case ActionCheck:
		due, payload, err := h.ctl.CheckDue(h.ctx)
		opErr = err
		if err == nil {
			event.Due = &due
			if due {
				plan, err := keeper.DecodePlan(payload)
				if err != nil {
					return event, err
				}
				event.Indices = plan.Indices
				event.Cursor = &plan.Next
			}
		}

	case ActionPerform:
		report, err := h.ctl.PerformUpkeep(h.ctx, nil)
		opErr = err
		if err == nil {
			event.Indices = servicedIndices(report)
			event.Cursor = &report.Cursor
		}

	case ActionDrain:
		h.drain(step, &event)

	case ActionMine:
		h.clock.Mine(step.Value)

	case ActionSetHeight:
		h.clock.Set(step.Value)

	case ActionSetInterval, ActionSetBatchLimit, ActionSetRegistry,
		ActionPause, ActionUnpause, ActionTransferOwnership:
		err := h.admin(step)
		if err != nil && keeper.CodeOf(err) == "" {
			return event, err
		}
		opErr = err

	case ActionAddResources:
		reg, err := h.store.OpenRegistry(h.ctx, h.registryFor(step))
		if err != nil {
			return event, err
		}
		if err := h.addResources(reg, int(step.Value)); err != nil {
			return event, err
		}

	case ActionRemoveResource:
		reg, err := h.store.OpenRegistry(h.ctx, h.registryFor(step))
		if err != nil {
			return event, err
		}
		addr, err := reg.AddressAt(h.ctx, step.Value)
		if err != nil {
			return event, err
		}
		if err := reg.RemoveAddress(h.ctx, OwnerAddress, addr); err != nil {
			return event, err
		}

	case ActionFail:
		for _, idx := range step.Indices {
			addr, err := h.ctl.Registry().AddressAt(h.ctx, idx)
			if err != nil {
				return event, err
			}
			h.maintainer.failing[addr] = true
		}

	case ActionRecover:
		clear(h.maintainer.failing)

	case ActionRestart:
		if err := h.restart(); err != nil {
			return event, err
		}

	default:
		return event, fmt.Errorf("unknown action %q", step.Action)
	}

	if opErr != nil {
		code := keeper.CodeOf(opErr)
		if code == "" {
			return event, opErr
		}
		event.Outcome = string(code)
	}
	event.Height = h.clock.Height()
	event.Notification = string(h.lastNotification)
	return event, nil
}

func (h *Harness) admin(step Step) error {
	caller, err := resolveAddress(step.Caller)
	if err != nil {
		return err
	}
	switch step.Action {
	case ActionSetInterval:
		return h.ctl.SetInterval(h.ctx, caller, step.Value)
	case ActionSetBatchLimit:
		return h.ctl.SetBatchLimit(h.ctx, caller, step.Value)
	case ActionSetRegistry:
		reg, err := h.store.OpenRegistry(h.ctx, step.Registry)
		if err != nil {
			return err
		}
		return h.ctl.SetRegistry(h.ctx, caller, reg)
	case ActionPause:
		return h.ctl.Pause(h.ctx, caller)
	case ActionUnpause:
		return h.ctl.Unpause(h.ctx, caller)
	case ActionTransferOwnership:
		target, err := resolveAddress(step.Target)
		if err != nil {
			return err
		}
		return h.ctl.TransferOwnership(h.ctx, caller, target)
	}
	return fmt.Errorf("unknown admin action %q", step.Action)
}

// drain runs one engine tick at the current height with a quota of
// step.Value performs.
func (h *Harness) drain(step Step, event *TraceEvent) {
	performs := int(max(step.Value, 1))
	eng := engine.New(h.ctl, engine.NewClockAt(h.clock.Height()), h.runIDs,
		engine.WithMaxPerformsPerTick(performs))
	res := eng.Process(h.ctx, engine.Event{Type: engine.EventTypePoke})

	event.Run = res.RunID
	for _, report := range res.Reports {
		event.Indices = append(event.Indices, servicedIndices(report)...)
		cursor := report.Cursor
		event.Cursor = &cursor
	}
	if res.Err != nil {
		var re *engine.RuntimeError
		switch {
		case keeper.CodeOf(res.Err) != "":
			event.Outcome = string(keeper.CodeOf(res.Err))
		case errors.As(res.Err, &re):
			event.Outcome = string(re.Code)
		default:
			event.Outcome = res.Err.Error()
		}
	}
}

func (h *Harness) registryFor(step Step) string {
	if step.Registry != "" {
		return step.Registry
	}
	return h.initial
}

func servicedIndices(report *keeper.Report) []uint64 {
	out := make([]uint64, len(report.Serviced))
	for i, s := range report.Serviced {
		out[i] = s.Index
	}
	return out
}

// resolveAddress maps "owner", "stranger" or a hex address.
func resolveAddress(name string) (common.Address, error) {
	switch name {
	case "", "owner":
		return OwnerAddress, nil
	case "stranger":
		return StrangerAddress, nil
	}
	if !common.IsHexAddress(name) {
		return common.Address{}, fmt.Errorf("%q is not owner, stranger or an address", name)
	}
	return common.HexToAddress(name), nil
}

// addressName is the inverse of resolveAddress.
func addressName(addr common.Address) string {
	switch addr {
	case OwnerAddress:
		return "owner"
	case StrangerAddress:
		return "stranger"
	}
	return addr.Hex()
}

// compareExpect returns a message for every expectation the event misses.
func compareExpect(event TraceEvent, exp *Expect) []string {
	var msgs []string

	outcome := exp.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}
	if event.Outcome != outcome {
		msgs = append(msgs, fmt.Sprintf("expected outcome %s, got %s", outcome, event.Outcome))
	}
	if exp.Due != nil && (event.Due == nil || *event.Due != *exp.Due) {
		msgs = append(msgs, fmt.Sprintf("expected due=%v, got %s", *exp.Due, formatOptional(event.Due)))
	}
	if exp.Indices != nil && !slices.Equal(event.Indices, exp.Indices) {
		msgs = append(msgs, fmt.Sprintf("expected indices %v, got %v", exp.Indices, event.Indices))
	}
	if exp.Cursor != nil && (event.Cursor == nil || *event.Cursor != *exp.Cursor) {
		msgs = append(msgs, fmt.Sprintf("expected cursor %d, got %s", *exp.Cursor, formatOptional(event.Cursor)))
	}
	return msgs
}

func formatOptional[T any](v *T) string {
	if v == nil {
		return "<unset>"
	}
	return fmt.Sprint(*v)
}
