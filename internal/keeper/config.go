package keeper

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/bitfield"
)

// Mode selects how the interval gate is evaluated.
type Mode string

const (
	// ModePerResource gates each resource on its own last-serviced height.
	ModePerResource Mode = "per-resource"
	// ModeGlobal gates the registry on the height of the last completed sweep.
	ModeGlobal Mode = "global"
)

// ParseMode converts a mode name. The empty string selects ModePerResource.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePerResource:
		return ModePerResource, nil
	case ModeGlobal:
		return ModeGlobal, nil
	}
	return "", fmt.Errorf("unknown mode %q: must be %q or %q", s, ModePerResource, ModeGlobal)
}

// DefaultBatchLimit is the batch limit the CLI uses when none is given.
const DefaultBatchLimit = 5

// Config is the owner-controlled configuration of a Controller.
type Config struct {
	// Owner is the only identity allowed to call admin operations.
	Owner common.Address `json:"owner"`

	// Interval is the minimum height gap before a resource (or the registry,
	// in ModeGlobal) is due again. Zero means always due.
	Interval uint64 `json:"interval"`

	// BatchLimit bounds the number of resources serviced per invocation.
	BatchLimit uint64 `json:"batch_limit"`

	Mode Mode `json:"mode"`

	// FieldBits is the packed field width. Fixed at creation.
	FieldBits uint `json:"field_bits"`

	Paused bool `json:"paused"`
}

// WithDefaults fills unset Mode and FieldBits. BatchLimit is never defaulted;
// zero is rejected by Validate.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePerResource
	}
	if c.FieldBits == 0 {
		c.FieldBits = bitfield.DefaultFieldBits
	}
	return c
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Owner == (common.Address{}) {
		return invalidConfig("owner is the zero address")
	}
	if c.BatchLimit == 0 {
		return invalidConfig("batch limit must be greater than zero")
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return invalidConfig(err.Error())
	}
	layout, err := bitfield.NewLayout(c.FieldBits)
	if err != nil {
		return invalidConfig(err.Error())
	}
	return validateInterval(c.Mode, layout, c.Interval)
}

// validateInterval rejects intervals the per-resource gate could never
// observe: elapsed heights are measured in the truncated field domain.
func validateInterval(mode Mode, layout bitfield.Layout, interval uint64) error {
	if mode == ModePerResource && interval > layout.MaxValue() {
		return invalidConfig(fmt.Sprintf("interval %d exceeds the %d-bit field range", interval, layout.FieldBits()))
	}
	return nil
}
