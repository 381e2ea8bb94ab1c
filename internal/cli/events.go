package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/notify"
	"github.com/roach88/upkeep/internal/store"
)

var errNoKeeper = errors.New("keeper not found")

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Kind     string
	Services bool
	Limit    int
	Resource string
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the notification or service log",
		Long: `Show the keeper's notifications in emission order.

With --services, show the service log instead: one entry per resource
serviced by a successful upkeep. --resource narrows it to one resource.

Example:
  upkeep events --kind IntervalUpdated
  upkeep events --services --limit 20
  upkeep events --services --resource 0x...ee`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only notifications of this kind")
	cmd.Flags().BoolVar(&opts.Services, "services", false, "show the service log")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "last N services (0 = all)")
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "services of one resource")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "events failed", err)
	}
	defer sess.Close()

	exists, err := sess.keeper.Exists(ctx)
	if err != nil {
		return fail(formatter, "events failed", err)
	}
	if !exists {
		return fail(formatter, "events failed", fmt.Errorf("%q: %w", sess.keeper.Name(), errNoKeeper))
	}

	if !opts.Services {
		notes, err := sess.keeper.Notifications(ctx, notify.Kind(opts.Kind))
		if err != nil {
			return fail(formatter, "events failed", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(notes)
		}
		for _, n := range notes {
			fmt.Fprintf(formatter.Writer, "#%d %s at height %d %s\n", n.Nonce, n.Kind, n.Height, formatFields(n.Fields))
		}
		return nil
	}

	var records []store.ServiceRecord
	if opts.Resource != "" {
		addr, err := parseAddress(opts.Resource)
		if err != nil {
			return invalidArgs(formatter, fmt.Errorf("--resource: %w", err))
		}
		records, err = sess.keeper.ResourceHistory(ctx, addr)
		if err != nil {
			return fail(formatter, "events failed", err)
		}
	} else {
		records, err = sess.keeper.Services(ctx, opts.Limit)
		if err != nil {
			return fail(formatter, "events failed", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(records)
	}
	for _, r := range records {
		fmt.Fprintf(formatter.Writer, "height %d [%d] %s\n", r.Height, r.Index, r.Resource.Hex())
	}
	return nil
}
