package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/maintain"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Height    uint64
	Resources bool
}

// StatusResult is the JSON payload of status.
type StatusResult struct {
	Keeper       string           `json:"keeper"`
	Status       keeper.Status    `json:"status,omitempty"`
	Height       uint64           `json:"height,omitempty"`
	Remaining    uint64           `json:"remaining,omitempty"`
	Config       keeper.Config    `json:"config"`
	Registry     string           `json:"registry"`
	RegistrySize uint64           `json:"registry_size"`
	Cursor       uint64           `json:"cursor"`
	LastSweep    uint64           `json:"last_sweep"`
	Nonce        uint64           `json:"nonce"`
	Resources    []ResourceStatus `json:"resources,omitempty"`
}

// ResourceStatus is one registry entry with its packed last-serviced height.
type ResourceStatus struct {
	Index        uint64         `json:"index"`
	Resource     common.Address `json:"resource"`
	LastServiced uint64         `json:"last_serviced"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show keeper state",
		Long: `Show the keeper's configuration and persisted state.

With --height, also report whether the keeper is idle, due or paused at
that height. Last-serviced heights are stored truncated to the field
width.

Example:
  upkeep status
  upkeep status --height 1200 --resources`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Height, "height", 0, "evaluate due status at this height")
	cmd.Flags().BoolVar(&opts.Resources, "resources", false, "list resources with last-serviced heights")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "status failed", err)
	}
	defer sess.Close()

	ctl, err := sess.controller(ctx, fixedHeight(opts.Height), maintain.Nop{})
	if err != nil {
		return fail(formatter, "status failed", err)
	}
	state := ctl.State()
	size, err := ctl.Registry().Size(ctx)
	if err != nil {
		return fail(formatter, "status failed", err)
	}

	result := StatusResult{
		Keeper:       sess.keeper.Name(),
		Config:       state.Config,
		Registry:     state.RegistryRef,
		RegistrySize: size,
		Cursor:       state.Cursor,
		LastSweep:    state.LastSweep,
		Nonce:        state.Nonce,
	}
	if state.Config.Paused {
		result.Status = keeper.StatusPaused
	}
	if cmd.Flags().Changed("height") {
		status, err := ctl.Status(ctx)
		if err != nil {
			return fail(formatter, "status failed", err)
		}
		result.Status = status
		result.Height = opts.Height
		if status == keeper.StatusIdle {
			if result.Remaining, err = ctl.Remaining(ctx); err != nil {
				return fail(formatter, "status failed", err)
			}
		}
	}
	if opts.Resources {
		for i := range size {
			addr, err := ctl.Registry().AddressAt(ctx, i)
			if err != nil {
				return fail(formatter, "status failed", err)
			}
			result.Resources = append(result.Resources, ResourceStatus{
				Index:        i,
				Resource:     addr,
				LastServiced: ctl.LastServiced(i),
			})
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Keeper:      %s\n", result.Keeper)
	if result.Status != "" {
		fmt.Fprintf(w, "Status:      %s%s\n", result.Status, remainingNote(result.Remaining))
	}
	fmt.Fprintf(w, "Owner:       %s\n", result.Config.Owner.Hex())
	fmt.Fprintf(w, "Registry:    %s (%d resources)\n", result.Registry, result.RegistrySize)
	fmt.Fprintf(w, "Interval:    %d\n", result.Config.Interval)
	fmt.Fprintf(w, "Batch limit: %d\n", result.Config.BatchLimit)
	fmt.Fprintf(w, "Mode:        %s (%d-bit fields)\n", result.Config.Mode, result.Config.FieldBits)
	fmt.Fprintf(w, "Cursor:      %d\n", result.Cursor)
	if result.Config.Mode == keeper.ModeGlobal {
		fmt.Fprintf(w, "Last sweep:  %d\n", result.LastSweep)
	}
	for _, r := range result.Resources {
		fmt.Fprintf(w, "  [%d] %s last serviced %d\n", r.Index, r.Resource.Hex(), r.LastServiced)
	}
	return nil
}
