package keeper

import "github.com/holiman/uint256"

// State is everything a Controller persists between invocations.
type State struct {
	Config      Config
	RegistryRef string

	// Cursor is where the next batch resumes. Clamped to zero when it falls
	// outside a shrunken registry.
	Cursor uint64

	// LastSweep is the height at which the last full sweep of the registry
	// finished. It is the gate reference in ModeGlobal.
	LastSweep uint64

	// Nonce counts notifications emitted so far.
	Nonce uint64

	// Words are the packed last-serviced heights, in word-index order.
	Words []uint256.Int
}

// Status is the controller's position in its state machine.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusDue    Status = "due"
	StatusPaused Status = "paused"
)
