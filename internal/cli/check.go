package cli

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/maintain"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Height uint64
}

// CheckResult is the JSON payload of check.
type CheckResult struct {
	Height    uint64       `json:"height"`
	Due       bool         `json:"due"`
	Remaining uint64       `json:"remaining,omitempty"` // heights until due, zero when paused
	Plan      *keeper.Plan `json:"plan,omitempty"`
	Payload   string       `json:"payload,omitempty"` // 0x-prefixed CBOR
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an upkeep is due",
		Long: `Report whether an upkeep is due at the given height.

Check never changes state. When due, it prints the batch a perform would
service and the payload to pass to "upkeep perform --data".

Example:
  upkeep check --height 1200`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "current execution height (required)")
	_ = cmd.MarkFlagRequired("height")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "check failed", err)
	}
	defer sess.Close()

	ctl, err := sess.controller(ctx, fixedHeight(opts.Height), maintain.Nop{})
	if err != nil {
		return fail(formatter, "check failed", err)
	}
	due, payload, err := ctl.CheckDue(ctx)
	if err != nil {
		return fail(formatter, "check failed", err)
	}

	result := CheckResult{Height: opts.Height, Due: due}
	if !due {
		if result.Remaining, err = ctl.Remaining(ctx); err != nil {
			return fail(formatter, "check failed", err)
		}
	}
	if due {
		plan, err := keeper.DecodePlan(payload)
		if err != nil {
			return fail(formatter, "check failed", err)
		}
		result.Plan = &plan
		result.Payload = hexutil.Encode(payload)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	if !due {
		fmt.Fprintf(formatter.Writer, "Not due at height %d%s\n", opts.Height, remainingNote(result.Remaining))
		return nil
	}
	fmt.Fprintf(formatter.Writer, "Due at height %d: indices %v (cursor %d -> %d)\n",
		opts.Height, result.Plan.Indices, result.Plan.Cursor, result.Plan.Next)
	fmt.Fprintf(formatter.Writer, "Payload: %s\n", result.Payload)
	return nil
}

func remainingNote(n uint64) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(" (%d heights remaining)", n)
}

// PerformOptions holds flags for the perform command.
type PerformOptions struct {
	*RootOptions
	Height  uint64
	Data    string
	Timeout time.Duration
}

// NewPerformCommand creates the perform command.
func NewPerformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PerformOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "perform [-- command [args...]]",
		Short: "Service one batch of due resources",
		Long: `Service one batch of due resources at the given height.

The maintenance command runs once per resource. "{resource}" in its
arguments is replaced by the resource address; without it the address is
appended. The address is also exported as UPKEEP_RESOURCE. Without a
command, the config file's maintain.command is used, or nothing is run.

If any resource fails, nothing is recorded and the exit code is 1.

Example:
  upkeep perform --height 1200 -- ./compact.sh {resource}
  upkeep perform --height 1200 --data 0xa4...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPerform(opts, args, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "current execution height (required)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "payload from check (0x-prefixed hex)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-resource command timeout (0 = none)")
	_ = cmd.MarkFlagRequired("height")

	return cmd
}

func runPerform(opts *PerformOptions, command []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	var data []byte
	if opts.Data != "" {
		decoded, err := hexutil.Decode(opts.Data)
		if err != nil {
			return invalidArgs(formatter, fmt.Errorf("--data: %w", err))
		}
		data = decoded
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "perform failed", err)
	}
	defer sess.Close()

	m, err := sess.maintainer(command, opts.Timeout)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	ctl, err := sess.controller(ctx, fixedHeight(opts.Height), m)
	if err != nil {
		return fail(formatter, "perform failed", err)
	}

	formatter.Verbosef("performing upkeep at height %d", opts.Height)
	report, err := ctl.PerformUpkeep(ctx, data)
	if err != nil {
		return fail(formatter, "perform failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "Serviced %d resource(s) at height %d, cursor now %d\n",
		len(report.Serviced), report.Height, report.Cursor)
	for _, s := range report.Serviced {
		fmt.Fprintf(formatter.Writer, "  [%d] %s\n", s.Index, s.Resource.Hex())
	}
	return nil
}
