package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/maintain"
	"github.com/roach88/upkeep/internal/notify"
)

// AdminOptions holds flags shared by the admin subcommands.
type AdminOptions struct {
	*RootOptions
	Caller string
	Height uint64
}

// adminFunc applies one owner-only operation.
type adminFunc func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error

// NewAdminCommand creates the admin command group.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner-only keeper configuration",
		Long: `Change the keeper configuration. Every subcommand must be called by the
owner (--caller) and records a notification at --height.

Example:
  upkeep admin set-interval 300 --caller 0x...aa --height 1200
  upkeep admin pause --caller 0x...aa`,
	}

	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", "calling address (required)")
	cmd.PersistentFlags().Uint64Var(&opts.Height, "height", 0, "height recorded in the notification")
	_ = cmd.MarkPersistentFlagRequired("caller")

	cmd.AddCommand(adminCommand(opts, "set-interval <interval>", "Set the interval gate", 1,
		func(args []string) (adminFunc, error) {
			v, err := parseUint(args[0])
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				return ctl.SetInterval(ctx, caller, v)
			}, nil
		}))
	cmd.AddCommand(adminCommand(opts, "set-batch-limit <limit>", "Set the batch limit", 1,
		func(args []string) (adminFunc, error) {
			v, err := parseUint(args[0])
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				return ctl.SetBatchLimit(ctx, caller, v)
			}, nil
		}))
	cmd.AddCommand(adminCommand(opts, "set-registry <name>", "Point the keeper at another registry", 1,
		func(args []string) (adminFunc, error) {
			name := args[0]
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				reg, err := sess.store.OpenRegistry(ctx, name)
				if err != nil {
					return err
				}
				return ctl.SetRegistry(ctx, caller, reg)
			}, nil
		}))
	cmd.AddCommand(adminCommand(opts, "pause", "Pause upkeeps", 0,
		func([]string) (adminFunc, error) {
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				return ctl.Pause(ctx, caller)
			}, nil
		}))
	cmd.AddCommand(adminCommand(opts, "unpause", "Resume upkeeps", 0,
		func([]string) (adminFunc, error) {
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				return ctl.Unpause(ctx, caller)
			}, nil
		}))
	cmd.AddCommand(adminCommand(opts, "transfer-ownership <address>", "Transfer ownership", 1,
		func(args []string) (adminFunc, error) {
			owner, err := parseAddress(args[0])
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, sess *session, ctl *keeper.Controller, caller common.Address) error {
				return ctl.TransferOwnership(ctx, caller, owner)
			}, nil
		}))

	return cmd
}

func adminCommand(opts *AdminOptions, use, short string, nargs int, parse func([]string) (adminFunc, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(nargs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts.RootOptions, cmd)
			apply, err := parse(args)
			if err != nil {
				return invalidArgs(formatter, err)
			}
			return runAdmin(opts, apply, formatter, cmd)
		},
	}
}

func runAdmin(opts *AdminOptions, apply adminFunc, formatter *OutputFormatter, cmd *cobra.Command) error {
	ctx := cmd.Context()

	caller, err := parseAddress(opts.Caller)
	if err != nil {
		return invalidArgs(formatter, fmt.Errorf("--caller: %w", err))
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "admin failed", err)
	}
	defer sess.Close()

	var emitted []notify.Notification
	ctl, err := sess.controller(ctx, fixedHeight(opts.Height), maintain.Nop{},
		keeper.WithObserver(func(n notify.Notification) {
			emitted = append(emitted, n)
		}))
	if err != nil {
		return fail(formatter, "admin failed", err)
	}
	if err := apply(ctx, sess, ctl, caller); err != nil {
		return fail(formatter, "admin failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(emitted)
	}
	for _, n := range emitted {
		fmt.Fprintf(formatter.Writer, "%s at height %d %s\n", n.Kind, n.Height, formatFields(n.Fields))
	}
	return nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an unsigned integer", s)
	}
	return v, nil
}

// formatFields renders notification fields in key order.
func formatFields(f notify.Fields) string {
	var b strings.Builder
	for i, k := range f.SortedKeys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, f[k])
	}
	return b.String()
}
