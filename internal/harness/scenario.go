package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a keeper conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Keeper is the initial keeper configuration.
	Keeper KeeperSpec `yaml:"keeper"`

	// Registries maps registry names to their initial size. The keeper's
	// registry must be listed.
	Registries map[string]int `yaml:"registries"`

	// StartHeight is the clock height before the first step.
	StartHeight uint64 `yaml:"start_height"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store state and trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// KeeperSpec is the keeper configuration of a scenario. The owner is always
// the harness owner address.
type KeeperSpec struct {
	Registry   string `yaml:"registry"`
	Interval   uint64 `yaml:"interval"`
	BatchLimit uint64 `yaml:"batch_limit"`
	Mode       string `yaml:"mode,omitempty"`
	FieldBits  uint   `yaml:"field_bits,omitempty"`
}

// Step is one scenario action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Value is the numeric argument: blocks (mine), height (set-height),
	// interval, batch limit, resource count (add-resources), registry index
	// (remove-resource) or performs per tick (drain).
	Value uint64 `yaml:"value,omitempty"`

	// Caller is "owner" (default), "stranger" or a hex address.
	Caller string `yaml:"caller,omitempty"`

	// Target is the new owner for transfer-ownership, in Caller syntax.
	Target string `yaml:"target,omitempty"`

	// Registry names the registry for set-registry, add-resources and
	// remove-resource. Defaults to the keeper's registry at scenario start.
	Registry string `yaml:"registry,omitempty"`

	// Indices are the registry indices whose maintenance fails (fail).
	Indices []uint64 `yaml:"indices,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is compared against a step's trace event. Unset fields are not
// checked.
type Expect struct {
	// Outcome is "ok" or a keeper error code. Defaults to "ok".
	Outcome string   `yaml:"outcome,omitempty"`
	Due     *bool    `yaml:"due,omitempty"`
	Indices []uint64 `yaml:"indices,omitempty"`
	Cursor  *uint64  `yaml:"cursor,omitempty"`
}

// Step actions.
const (
	ActionCheck             = "check"
	ActionPerform           = "perform"
	ActionMine              = "mine"
	ActionSetHeight         = "set-height"
	ActionSetInterval       = "set-interval"
	ActionSetBatchLimit     = "set-batch-limit"
	ActionSetRegistry       = "set-registry"
	ActionPause             = "pause"
	ActionUnpause           = "unpause"
	ActionTransferOwnership = "transfer-ownership"
	ActionAddResources      = "add-resources"
	ActionRemoveResource    = "remove-resource"
	ActionFail              = "fail"
	ActionRecover           = "recover"
	ActionRestart           = "restart"
	ActionDrain             = "drain"
)

var validActions = []string{
	ActionCheck, ActionPerform, ActionMine, ActionSetHeight,
	ActionSetInterval, ActionSetBatchLimit, ActionSetRegistry,
	ActionPause, ActionUnpause, ActionTransferOwnership,
	ActionAddResources, ActionRemoveResource,
	ActionFail, ActionRecover, ActionRestart, ActionDrain,
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "notification_count": Kind appears exactly Count times in the log
	// - "service_count": the resource at Index of Registry was serviced Count times
	// - "trace_count": steps with Action and Outcome appear Count times
	// - "final_state": persisted keeper state matches Expect
	Type string `yaml:"type"`

	Kind     string `yaml:"kind,omitempty"`
	Registry string `yaml:"registry,omitempty"`
	Index    uint64 `yaml:"index,omitempty"`
	Action   string `yaml:"action,omitempty"`
	Outcome  string `yaml:"outcome,omitempty"`
	Count    int    `yaml:"count,omitempty"`

	// Expect holds final_state fields: cursor, interval, batch_limit,
	// paused, last_sweep, nonce, registry, owner.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertNotificationCount = "notification_count"
	AssertServiceCount      = "service_count"
	AssertTraceCount        = "trace_count"
	AssertFinalState        = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Keeper.Registry == "" {
		return fmt.Errorf("keeper.registry is required")
	}
	if _, ok := s.Registries[s.Keeper.Registry]; !ok {
		return fmt.Errorf("keeper registry %q is not listed in registries", s.Keeper.Registry)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, s, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Scenario, step *Step) error {
	if step.Action == "" {
		return fmt.Errorf("steps[%d]: action is required", index)
	}
	if !slices.Contains(validActions, step.Action) {
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	if step.Registry != "" {
		if _, ok := s.Registries[step.Registry]; !ok {
			return fmt.Errorf("steps[%d]: unknown registry %q", index, step.Registry)
		}
	}
	switch step.Action {
	case ActionSetRegistry:
		if step.Registry == "" {
			return fmt.Errorf("steps[%d]: registry is required for set-registry", index)
		}
	case ActionTransferOwnership:
		if step.Target == "" {
			return fmt.Errorf("steps[%d]: target is required for transfer-ownership", index)
		}
	case ActionFail:
		if len(step.Indices) == 0 {
			return fmt.Errorf("steps[%d]: indices are required for fail", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertNotificationCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for notification_count", index)
		}
	case AssertServiceCount:
		if a.Registry == "" {
			return fmt.Errorf("assertions[%d]: registry is required for service_count", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
