package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/upkeep/internal/bitfield"
	"github.com/roach88/upkeep/internal/cursor"
	"github.com/roach88/upkeep/internal/gate"
	"github.com/roach88/upkeep/internal/notify"
)

// Controller is the upkeep controller. Construct with New or Restore.
type Controller struct {
	mu sync.Mutex

	cfg        Config
	registry   Directory
	maintainer Maintainer
	heights    HeightSource

	words     *bitfield.Store
	cursor    uint64
	lastSweep uint64
	nonce     uint64

	persister Persister
	observers []func(notify.Notification)
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersister commits every state change to p before it takes effect.
func WithPersister(p Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

// WithObserver registers fn to receive every notification after it commits.
func WithObserver(fn func(notify.Notification)) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// Report describes a successful PerformUpkeep.
type Report struct {
	Height       uint64              `json:"height"`
	Serviced     []Service           `json:"serviced"`
	Cursor       uint64              `json:"cursor"`
	Notification notify.Notification `json:"notification"`
}

// New creates a controller with fresh state: cursor zero, no heights recorded.
func New(cfg Config, registry Directory, maintainer Maintainer, heights HeightSource, opts ...Option) (*Controller, error) {
	return Restore(State{Config: cfg}, registry, maintainer, heights, opts...)
}

// Restore creates a controller from previously persisted state. registry must
// be the directory named by state.RegistryRef (or a replacement for it).
func Restore(state State, registry Directory, maintainer Maintainer, heights HeightSource, opts ...Option) (*Controller, error) {
	cfg := state.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, invalidConfig("registry is required")
	}
	if maintainer == nil {
		return nil, invalidConfig("maintainer is required")
	}
	if heights == nil {
		return nil, invalidConfig("height source is required")
	}

	c := &Controller{
		cfg:        cfg,
		registry:   registry,
		maintainer: maintainer,
		heights:    heights,
		words:      bitfield.FromWords(bitfield.MustLayout(cfg.FieldBits), state.Words),
		cursor:     state.Cursor,
		lastSweep:  state.LastSweep,
		nonce:      state.Nonce,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckDue reports whether PerformUpkeep would do work at the current height.
// It never mutates state. When due, the returned payload is a CBOR-encoded
// Plan that may be passed to PerformUpkeep.
//
// A paused keeper or an empty registry is never due.
func (c *Controller) CheckDue(ctx context.Context) (bool, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Paused {
		return false, nil, nil
	}

	height := c.heights.Height()
	size, err := c.registry.Size(ctx)
	if err != nil {
		return false, nil, directoryError("read registry size", err)
	}

	plan, due := c.planLocked(height, size)
	if !due {
		return false, nil, nil
	}
	payload, err := EncodePlan(plan)
	if err != nil {
		return false, nil, err
	}
	return true, payload, nil
}

// PerformUpkeep services one batch of due resources.
//
// Preconditions are re-validated regardless of any earlier CheckDue: the call
// fails if the keeper is paused or nothing is due. performData may be empty;
// if present it must decode as a Plan, but it is only compared against the
// freshly computed plan for logging.
//
// The first failing maintenance call aborts the whole invocation and no state
// changes are kept.
func (c *Controller) PerformUpkeep(ctx context.Context, performData []byte) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Paused {
		return nil, &Error{Code: CodePaused, Message: "paused"}
	}

	var hint *Plan
	if len(performData) > 0 {
		p, err := DecodePlan(performData)
		if err != nil {
			return nil, err
		}
		hint = &p
	}

	height := c.heights.Height()
	size, err := c.registry.Size(ctx)
	if err != nil {
		return nil, directoryError("read registry size", err)
	}

	plan, due := c.planLocked(height, size)
	if !due {
		return nil, &Error{Code: CodeNotDue, Message: "upkeep not needed"}
	}
	if hint != nil && !hint.Same(plan) {
		c.logger.Debug("perform data is stale, using fresh plan",
			"hint_cursor", hint.Cursor,
			"hint_height", hint.Height,
			"cursor", plan.Cursor,
		)
	}

	staged := c.words.Clone()
	serviced := make([]Service, 0, len(plan.Indices))
	for _, idx := range plan.Indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr, err := c.registry.AddressAt(ctx, idx)
		if err != nil {
			return nil, directoryError("read registry entry", err)
		}
		if err := c.maintainer.Maintain(ctx, addr); err != nil {
			c.logger.Warn("resource maintenance failed",
				"index", idx,
				"resource", addr.Hex(),
				"height", height,
				"error", err,
			)
			return nil, &Error{
				Code:     CodeResourceFailed,
				Message:  "maintenance failed",
				Index:    idx,
				Resource: addr,
				Err:      err,
			}
		}
		staged.Set(idx, height)
		serviced = append(serviced, Service{Index: idx, Resource: addr, Height: height})
	}

	lastSweep := c.lastSweep
	if c.cfg.Mode == ModeGlobal && cursor.CompletesSweep(plan.Indices, size) {
		lastSweep = height
	}

	n, err := notify.New(notify.KindUpkeepPerformed, height, c.nonce, notify.Fields{
		"cursor":   notify.Uint(plan.Next),
		"serviced": notify.Uint(uint64(len(serviced))),
		"start":    notify.Uint(plan.Cursor),
	})
	if err != nil {
		return nil, err
	}

	next := State{
		Config:      c.cfg,
		RegistryRef: c.registry.Ref(),
		Cursor:      plan.Next,
		LastSweep:   lastSweep,
		Nonce:       c.nonce + 1,
		Words:       staged.Words(),
	}
	commit := Commit{State: next, Base: c.nonce, Serviced: serviced, Notifications: []notify.Notification{n}}
	if err := c.commitLocked(ctx, commit); err != nil {
		return nil, err
	}

	c.words = staged
	c.cursor = plan.Next
	c.lastSweep = lastSweep
	c.nonce++

	c.logger.Info("upkeep performed",
		"height", height,
		"serviced", len(serviced),
		"cursor", plan.Next,
	)
	c.emit(n)

	return &Report{
		Height:       height,
		Serviced:     serviced,
		Cursor:       plan.Next,
		Notification: n,
	}, nil
}

// planLocked computes the batch a perform would service at height.
// Must be called with c.mu held.
func (c *Controller) planLocked(height, size uint64) (Plan, bool) {
	if size == 0 {
		return Plan{}, false
	}

	switch c.cfg.Mode {
	case ModeGlobal:
		if !gate.IsDue(height, c.lastSweep, c.cfg.Interval) {
			return Plan{}, false
		}
		start := cursor.Clamp(c.cursor, size)
		indices, next := cursor.NextBatch(start, size, c.cfg.BatchLimit)
		return Plan{Height: height, Cursor: start, Next: next, Indices: indices}, true

	default:
		due := c.dueAt(height)
		start, ok := cursor.FirstDue(c.cursor, size, due)
		if !ok {
			return Plan{}, false
		}
		window, next := cursor.NextBatch(start, size, c.cfg.BatchLimit)
		indices := make([]uint64, 0, len(window))
		for _, idx := range window {
			if due(idx) {
				indices = append(indices, idx)
			}
		}
		return Plan{Height: height, Cursor: start, Next: next, Indices: indices}, true
	}
}

// dueAt returns the per-resource gate evaluated at height.
func (c *Controller) dueAt(height uint64) func(uint64) bool {
	bits := c.cfg.FieldBits
	return func(idx uint64) bool {
		return gate.IsDueWrapped(height, c.words.Get(idx), c.cfg.Interval, bits)
	}
}

func (c *Controller) commitLocked(ctx context.Context, commit Commit) error {
	if c.persister == nil {
		return nil
	}
	if err := c.persister.Commit(ctx, commit); err != nil {
		if errors.Is(err, ErrStale) {
			c.logger.Warn("commit lost to another writer", "base_nonce", commit.Base)
			return &Error{Code: CodeConflict, Message: "state changed by another writer", Err: err}
		}
		return &Error{Code: CodePersist, Message: "commit state", Err: err}
	}
	return nil
}

func (c *Controller) emit(n notify.Notification) {
	for _, fn := range c.observers {
		fn(n)
	}
}

// Config returns the current configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Registry returns the current directory.
func (c *Controller) Registry() Directory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// State returns a snapshot of everything the controller persists.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Config:      c.cfg,
		RegistryRef: c.registry.Ref(),
		Cursor:      c.cursor,
		LastSweep:   c.lastSweep,
		Nonce:       c.nonce,
		Words:       c.words.Words(),
	}
}

// LastServiced returns the packed (truncated) height at which the resource at
// index was last serviced, zero if never.
func (c *Controller) LastServiced(index uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.words.Get(index)
}

// Remaining returns how many heights must pass before CheckDue reports due.
// It is zero when the keeper is already due, paused, or has no resources.
// In ModePerResource it is the least remaining over the whole registry.
func (c *Controller) Remaining(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Paused {
		return 0, nil
	}
	size, err := c.registry.Size(ctx)
	if err != nil {
		return 0, directoryError("read registry size", err)
	}
	if size == 0 {
		return 0, nil
	}

	height := c.heights.Height()
	if c.cfg.Mode == ModeGlobal {
		return gate.Remaining(height, c.lastSweep, c.cfg.Interval), nil
	}
	least := c.cfg.Interval
	for idx := uint64(0); idx < size && least > 0; idx++ {
		least = min(least, gate.RemainingWrapped(height, c.words.Get(idx), c.cfg.Interval, c.cfg.FieldBits))
	}
	return least, nil
}

// Status reports Paused, Due or Idle.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	if c.Config().Paused {
		return StatusPaused, nil
	}
	due, _, err := c.CheckDue(ctx)
	if err != nil {
		return "", err
	}
	if due {
		return StatusDue, nil
	}
	return StatusIdle, nil
}
