package keeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/bitfield"
	"github.com/roach88/upkeep/internal/notify"
)

// staged holds the owner-mutable parts of a controller while an admin
// operation validates and commits them.
type staged struct {
	cfg      Config
	registry Directory
}

// SetInterval changes the gate interval. Emits IntervalUpdated.
func (c *Controller) SetInterval(ctx context.Context, caller common.Address, interval uint64) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if err := validateInterval(s.cfg.Mode, bitfield.MustLayout(s.cfg.FieldBits), interval); err != nil {
			return "", nil, err
		}
		s.cfg.Interval = interval
		return notify.KindIntervalUpdated, notify.Fields{"interval": notify.Uint(interval)}, nil
	})
}

// SetBatchLimit changes the maximum resources serviced per invocation.
// Zero is rejected. Emits BatchLimitUpdated.
func (c *Controller) SetBatchLimit(ctx context.Context, caller common.Address, limit uint64) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if limit == 0 {
			return "", nil, invalidConfig("batch limit must be greater than zero")
		}
		s.cfg.BatchLimit = limit
		return notify.KindBatchLimitUpdated, notify.Fields{"batch_limit": notify.Uint(limit)}, nil
	})
}

// SetRegistry replaces the resource directory. The cursor and packed heights
// are kept; the cursor is clamped on the next invocation if it no longer fits.
// Emits RegistryUpdated.
func (c *Controller) SetRegistry(ctx context.Context, caller common.Address, registry Directory) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if registry == nil {
			return "", nil, invalidConfig("registry is required")
		}
		s.registry = registry
		return notify.KindRegistryUpdated, notify.Fields{"registry": notify.String(registry.Ref())}, nil
	})
}

// Pause stops PerformUpkeep from doing any work. Emits Paused.
func (c *Controller) Pause(ctx context.Context, caller common.Address) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if s.cfg.Paused {
			return "", nil, &Error{Code: CodePaused, Message: "already paused"}
		}
		s.cfg.Paused = true
		return notify.KindPaused, notify.Fields{"account": notify.String(caller.Hex())}, nil
	})
}

// Unpause resumes normal operation. Emits Unpaused.
func (c *Controller) Unpause(ctx context.Context, caller common.Address) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if !s.cfg.Paused {
			return "", nil, &Error{Code: CodeNotPaused, Message: "not paused"}
		}
		s.cfg.Paused = false
		return notify.KindUnpaused, notify.Fields{"account": notify.String(caller.Hex())}, nil
	})
}

// TransferOwnership hands the admin surface to newOwner. Emits
// OwnershipTransferred.
func (c *Controller) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return c.administer(ctx, caller, func(s *staged) (notify.Kind, notify.Fields, error) {
		if newOwner == (common.Address{}) {
			return "", nil, invalidConfig("new owner is the zero address")
		}
		previous := s.cfg.Owner
		s.cfg.Owner = newOwner
		return notify.KindOwnershipTransferred, notify.Fields{
			"previous_owner": notify.String(previous.Hex()),
			"new_owner":      notify.String(newOwner.Hex()),
		}, nil
	})
}

// administer runs one owner-gated mutation: authorize, validate and apply to a
// staged copy, commit, then swap the staged copy in.
func (c *Controller) administer(
	ctx context.Context,
	caller common.Address,
	apply func(s *staged) (notify.Kind, notify.Fields, error),
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.cfg.Owner {
		c.logger.Warn("unauthorized admin call", "caller", caller.Hex())
		return unauthorized()
	}

	s := &staged{cfg: c.cfg, registry: c.registry}
	kind, fields, err := apply(s)
	if err != nil {
		return err
	}

	height := c.heights.Height()
	n, err := notify.New(kind, height, c.nonce, fields)
	if err != nil {
		return err
	}

	next := c.stateLocked()
	next.Config = s.cfg
	next.RegistryRef = s.registry.Ref()
	next.Nonce = c.nonce + 1
	commit := Commit{State: next, Base: c.nonce, WritesConfig: true, Notifications: []notify.Notification{n}}
	if err := c.commitLocked(ctx, commit); err != nil {
		return err
	}

	c.cfg = s.cfg
	c.registry = s.registry
	c.nonce++

	c.logger.Info("keeper configuration updated", "kind", string(kind), "height", height)
	c.emit(n)
	return nil
}
