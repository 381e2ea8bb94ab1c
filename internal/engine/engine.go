package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/upkeep/internal/keeper"
)

// Upkeeper is the automation surface of a keeper. Implemented by
// *keeper.Controller.
type Upkeeper interface {
	CheckDue(ctx context.Context) (bool, []byte, error)
	PerformUpkeep(ctx context.Context, performData []byte) (*keeper.Report, error)
}

// RunIDGenerator generates unique IDs for tick correlation in logs.
// Implemented by UUIDv7Generator (production) and testutil.SequentialRunIDs (tests).
type RunIDGenerator interface {
	Generate() string
}

// DefaultMaxPerformsPerTick is one batch per tick.
const DefaultMaxPerformsPerTick = 1

// Result describes one processed tick.
type Result struct {
	RunID   string
	Height  uint64
	Reports []*keeper.Report

	// QuotaReached is set when the keeper was still due after the last
	// perform the quota allowed.
	QuotaReached bool

	// Err is a *RuntimeError wrapping the keeper error that ended the tick.
	Err error
}

// Performed returns the number of successful performs.
func (r Result) Performed() int {
	return len(r.Reports)
}

// Engine is the single-writer tick loop.
//
// Thread-safety model:
//   - Tick(), Poke(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Process(): must not be called while Run is active
type Engine struct {
	keeper      Upkeeper
	clock       *Clock
	queue       *eventQueue
	runIDs      RunIDGenerator
	maxPerforms int
	hooks       []func(Result)
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxPerformsPerTick sets how many performs a single tick may make while
// the keeper stays due. Values below 1 are treated as 1.
func WithMaxPerformsPerTick(n int) EngineOption {
	return func(e *Engine) {
		e.maxPerforms = max(n, 1)
	}
}

// WithResultHook registers fn to receive every tick result, in tick order.
// Hooks run on the Run goroutine.
func WithResultHook(fn func(Result)) EngineOption {
	return func(e *Engine) {
		e.hooks = append(e.hooks, fn)
	}
}

// New creates an Engine. The clock must be the keeper's height source.
func New(k Upkeeper, clock *Clock, runIDs RunIDGenerator, opts ...EngineOption) *Engine {
	e := &Engine{
		keeper:      k,
		clock:       clock,
		queue:       newEventQueue(),
		runIDs:      runIDs,
		maxPerforms: DefaultMaxPerformsPerTick,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the engine's height clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Tick enqueues a tick that advances the height by blocks.
// Returns false if the engine has been stopped.
func (e *Engine) Tick(blocks uint64) bool {
	return e.queue.Enqueue(Event{Type: EventTypeTick, Blocks: blocks})
}

// Poke enqueues a check at the current height.
// Returns false if the engine has been stopped.
func (e *Engine) Poke() bool {
	return e.queue.Enqueue(Event{Type: EventTypePoke})
}

// Stop closes the queue. Run drains queued ticks and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drive enqueues a tick of blocks every interval until ctx is done.
func (e *Engine) Drive(ctx context.Context, every time.Duration, blocks uint64) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.Tick(blocks) {
				return
			}
		}
	}
}

// Run starts the single-writer tick loop.
// Blocks until the context is cancelled or Stop() is called and the queue
// is drained.
//
// ERROR HANDLING: a failing check or perform is logged with the run ID and
// delivered to result hooks; the loop continues with the next tick.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "height", e.clock.Height(), "max_performs_per_tick", e.maxPerforms)

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.Process(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// A stale signal can arrive after its event was already
			// dequeued, so only a closed, empty queue ends the loop.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Process handles one event synchronously and returns its result.
// Result hooks are called before it returns.
func (e *Engine) Process(ctx context.Context, event Event) Result {
	var res Result
	switch event.Type {
	case EventTypeTick:
		e.clock.Advance(event.Blocks)
	case EventTypePoke:
	default:
		res.Err = fmt.Errorf("unknown event type: %d", event.Type)
		slog.Error("event processing failed", "type", int(event.Type), "error", res.Err)
		e.deliver(res)
		return res
	}

	res.RunID = e.runIDs.Generate()
	res.Height = e.clock.Height()
	e.drain(ctx, &res)

	if res.Err != nil {
		slog.Error("tick failed",
			"run", res.RunID,
			"height", res.Height,
			"performed", res.Performed(),
			"error", res.Err,
		)
	} else {
		slog.Debug("tick processed",
			"run", res.RunID,
			"height", res.Height,
			"performed", res.Performed(),
			"quota_reached", res.QuotaReached,
		)
	}
	e.deliver(res)
	return res
}

// drain performs while the keeper is due and the quota allows.
func (e *Engine) drain(ctx context.Context, res *Result) {
	quota := NewQuotaEnforcer(e.maxPerforms)
	for {
		due, payload, err := e.keeper.CheckDue(ctx)
		if err != nil {
			res.Err = &RuntimeError{
				Code:    ErrCodeCheckFailed,
				Message: "check failed",
				RunID:   res.RunID,
				Height:  res.Height,
				Err:     err,
			}
			return
		}
		if !due {
			return
		}
		if err := quota.Check(res.RunID); err != nil {
			res.QuotaReached = IsQuotaError(err)
			return
		}

		report, err := e.keeper.PerformUpkeep(ctx, payload)
		if err != nil {
			re := &RuntimeError{
				Code:    ErrCodePerformFailed,
				Message: "perform failed",
				RunID:   res.RunID,
				Height:  res.Height,
				Err:     err,
			}
			if code := keeper.CodeOf(err); code != "" {
				re.Details = map[string]string{"keeper_code": string(code)}
			}
			res.Err = re
			return
		}
		res.Reports = append(res.Reports, report)
	}
}

func (e *Engine) deliver(res Result) {
	for _, fn := range e.hooks {
		fn(res)
	}
}
