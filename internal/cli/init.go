package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/bitfield"
	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Owner      string
	Registry   string
	Interval   uint64
	BatchLimit uint64
	Mode       string
	FieldBits  uint
}

// InitResult is the JSON payload of a successful init.
type InitResult struct {
	Keeper          string        `json:"keeper"`
	Registry        string        `json:"registry"`
	RegistryCreated bool          `json:"registry_created"`
	Config          keeper.Config `json:"config"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a keeper",
		Long: `Create a keeper in the database.

The registry is created (owned by the keeper owner) if it does not exist.
Values from --config are used for any flag that is not given.

Example:
  upkeep init --owner 0x00000000000000000000000000000000000000aa --registry pool --interval 100
  upkeep init -c keeper.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner address")
	cmd.Flags().StringVar(&opts.Registry, "registry", "", "registry name")
	cmd.Flags().Uint64Var(&opts.Interval, "interval", 0, "minimum height gap between services")
	cmd.Flags().Uint64Var(&opts.BatchLimit, "batch-limit", keeper.DefaultBatchLimit, "resources serviced per upkeep")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(keeper.ModePerResource), "gate mode (per-resource|global)")
	cmd.Flags().UintVar(&opts.FieldBits, "field-bits", bitfield.DefaultFieldBits, "packed field width (8|16|32|64)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "init failed", err)
	}
	defer sess.Close()

	cfg, registry, err := initConfig(opts, sess, cmd)
	if err != nil {
		return invalidArgs(formatter, err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(formatter, "init failed", err)
	}

	created := false
	if _, err := sess.store.OpenRegistry(ctx, registry); err != nil {
		if !store.IsNotFound(err) {
			return fail(formatter, "init failed", err)
		}
		if _, err := sess.store.CreateRegistry(ctx, registry, cfg.Owner); err != nil {
			return fail(formatter, "init failed", err)
		}
		created = true
	}

	state := keeper.State{Config: cfg, RegistryRef: registry}
	if err := sess.keeper.Create(ctx, state); err != nil {
		return fail(formatter, "init failed", err)
	}

	result := InitResult{
		Keeper:          sess.keeper.Name(),
		Registry:        registry,
		RegistryCreated: created,
		Config:          cfg,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Keeper %q created (registry %q, interval %d, batch limit %d, %s, %d-bit fields)\n",
		result.Keeper, registry, cfg.Interval, cfg.BatchLimit, cfg.Mode, cfg.FieldBits)
	return nil
}

// initConfig merges the config file with the flags. Flags win when set.
func initConfig(opts *InitOptions, sess *session, cmd *cobra.Command) (keeper.Config, string, error) {
	flags := cmd.Flags()
	owner, registry := opts.Owner, opts.Registry
	interval, limit := opts.Interval, opts.BatchLimit
	mode, bits := opts.Mode, opts.FieldBits

	if f := sess.file; f != nil {
		if !flags.Changed("owner") {
			owner = f.Owner
		}
		if !flags.Changed("registry") {
			registry = f.Registry
		}
		if !flags.Changed("interval") {
			interval = f.Interval
		}
		if !flags.Changed("batch-limit") {
			limit = f.BatchLimit
		}
		if !flags.Changed("mode") {
			mode = f.Mode
		}
		if !flags.Changed("field-bits") {
			bits = f.FieldBits
		}
	}

	if owner == "" {
		return keeper.Config{}, "", fmt.Errorf("--owner is required")
	}
	if registry == "" {
		return keeper.Config{}, "", fmt.Errorf("--registry is required")
	}
	addr, err := parseAddress(owner)
	if err != nil {
		return keeper.Config{}, "", fmt.Errorf("--owner: %w", err)
	}
	m, err := keeper.ParseMode(mode)
	if err != nil {
		return keeper.Config{}, "", fmt.Errorf("--mode: %w", err)
	}

	return keeper.Config{
		Owner:      addr,
		Interval:   interval,
		BatchLimit: limit,
		Mode:       m,
		FieldBits:  bits,
	}, registry, nil
}
