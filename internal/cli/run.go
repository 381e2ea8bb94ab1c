package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/config"
	"github.com/roach88/upkeep/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Height      uint64
	Ticks       int
	Every       time.Duration
	Blocks      uint64
	MaxPerforms int
	Timeout     time.Duration

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunSummary is the JSON payload of run.
type RunSummary struct {
	Ticks    int          `json:"ticks"`
	Performs int          `json:"performs"`
	Failures int          `json:"failures"`
	Height   uint64       `json:"height"`
	Results  []TickResult `json:"results"`
}

// TickResult is one tick in a RunSummary.
type TickResult struct {
	RunID        string   `json:"run_id"`
	Height       uint64   `json:"height"`
	Serviced     []uint64 `json:"serviced"`
	QuotaReached bool     `json:"quota_reached,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [-- command [args...]]",
		Short: "Drive the keeper from a local height clock",
		Long: `Run the single-writer engine: every tick advances the height and, while
the keeper is due, performs up to --max-performs batches.

With --ticks the engine processes that many ticks back to back and exits.
Otherwise it ticks every --every until interrupted. Engine settings not
given as flags come from the config file's engine section.

Example:
  upkeep run --height 1000 --ticks 50 --blocks 10
  upkeep run -c keeper.yaml --every 12s -- ./compact.sh {resource}`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "starting height")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "process this many ticks and exit (0 = run until interrupted)")
	cmd.Flags().DurationVar(&opts.Every, "every", config.DefaultTick, "wall-clock time between ticks")
	cmd.Flags().Uint64Var(&opts.Blocks, "blocks", config.DefaultBlocksPerTick, "height advance per tick")
	cmd.Flags().IntVar(&opts.MaxPerforms, "max-performs", engine.DefaultMaxPerformsPerTick, "performs per tick while still due")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-resource command timeout (0 = none)")

	return cmd
}

func runEngine(opts *RunOptions, command []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Ticks < 0 {
		return invalidArgs(formatter, fmt.Errorf("--ticks must not be negative"))
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "run failed", err)
	}
	defer sess.Close()

	every, blocks, maxPerforms := opts.Every, opts.Blocks, opts.MaxPerforms
	if f := sess.file; f != nil {
		flags := cmd.Flags()
		if !flags.Changed("every") {
			every = f.Engine.Tick
		}
		if !flags.Changed("blocks") {
			blocks = f.Engine.BlocksPerTick
		}
		if !flags.Changed("max-performs") {
			maxPerforms = f.Engine.MaxPerformsPerTick
		}
	}
	if every <= 0 {
		return invalidArgs(formatter, fmt.Errorf("--every must be positive"))
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	m, err := sess.maintainer(command, opts.Timeout)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	clock := engine.NewClockAt(opts.Height)
	live, err := sess.live(ctx, clock, m)
	if err != nil {
		return fail(formatter, "run failed", err)
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}

	summary := RunSummary{Results: []TickResult{}}
	eng := engine.New(live, clock, runIDs,
		engine.WithMaxPerformsPerTick(maxPerforms),
		engine.WithResultHook(func(res engine.Result) {
			tick := summarize(res)
			summary.Ticks++
			summary.Performs += res.Performed()
			if res.Err != nil {
				summary.Failures++
			}
			summary.Height = res.Height
			summary.Results = append(summary.Results, tick)
			if formatter.Format != "json" {
				printTick(formatter, tick)
			}
		}),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Ticks > 0 {
		for range opts.Ticks {
			eng.Tick(blocks)
		}
		eng.Stop()
	} else {
		fmt.Fprintln(formatter.diag(), "Engine started. Press Ctrl-C to stop.")
		go eng.Drive(ctx, every, blocks)
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fail(formatter, "engine error", err)
	}
	slog.Info("engine stopped", "ticks", summary.Ticks, "performs", summary.Performs)

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	}
	if summary.Failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d tick(s) failed", summary.Failures))
	}
	return nil
}

func summarize(res engine.Result) TickResult {
	tick := TickResult{
		RunID:        res.RunID,
		Height:       res.Height,
		Serviced:     []uint64{},
		QuotaReached: res.QuotaReached,
	}
	for _, r := range res.Reports {
		for _, s := range r.Serviced {
			tick.Serviced = append(tick.Serviced, s.Index)
		}
	}
	if res.Err != nil {
		tick.Error = res.Err.Error()
	}
	return tick
}

func printTick(formatter *OutputFormatter, tick TickResult) {
	switch {
	case tick.Error != "":
		fmt.Fprintf(formatter.Writer, "height %d: error: %s\n", tick.Height, tick.Error)
	case len(tick.Serviced) > 0:
		fmt.Fprintf(formatter.Writer, "height %d: serviced %v\n", tick.Height, tick.Serviced)
	default:
		formatter.Verbosef("height %d: not due", tick.Height)
	}
}
