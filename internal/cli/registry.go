package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// RegistryOptions holds flags for the registry subcommands.
type RegistryOptions struct {
	*RootOptions
	Owner  string
	Caller string
}

// RegistryListing is the JSON payload of "registry list <name>".
type RegistryListing struct {
	Name      string           `json:"name"`
	Owner     common.Address   `json:"owner"`
	Addresses []common.Address `json:"addresses"`
}

// NewRegistryCommand creates the registry command group.
func NewRegistryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegistryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage resource registries",
		Long: `Manage the ordered resource lists keepers maintain.

A registry is owned by the address that created it; only the owner may
add or remove entries. Removing an entry shifts later entries down, so
keeper cursors past it move to the next resource.`,
	}

	create := &cobra.Command{
		Use:           "create <name>",
		Short:         "Create an empty registry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryCreate(opts, args[0], cmd)
		},
	}
	create.Flags().StringVar(&opts.Owner, "owner", "", "owner address (required)")
	_ = create.MarkFlagRequired("owner")

	add := &cobra.Command{
		Use:           "add <name> <address>...",
		Short:         "Append addresses",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryAdd(opts, args[0], args[1:], cmd)
		},
	}
	add.Flags().StringVar(&opts.Caller, "caller", "", "calling address (required)")
	_ = add.MarkFlagRequired("caller")

	remove := &cobra.Command{
		Use:           "remove <name> <address>",
		Short:         "Remove the first entry equal to address",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryRemove(opts, args[0], args[1], cmd)
		},
	}
	remove.Flags().StringVar(&opts.Caller, "caller", "", "calling address (required)")
	_ = remove.MarkFlagRequired("caller")

	list := &cobra.Command{
		Use:           "list [name]",
		Short:         "List registries, or the entries of one",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runRegistryNames(opts, cmd)
			}
			return runRegistryList(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(create, add, remove, list)
	return cmd
}

func runRegistryCreate(opts *RegistryOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	owner, err := parseAddress(opts.Owner)
	if err != nil {
		return invalidArgs(formatter, fmt.Errorf("--owner: %w", err))
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "registry create failed", err)
	}
	defer sess.Close()

	if _, err := sess.store.CreateRegistry(cmd.Context(), name, owner); err != nil {
		return fail(formatter, "registry create failed", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(RegistryListing{Name: name, Owner: owner, Addresses: []common.Address{}})
	}
	fmt.Fprintf(formatter.Writer, "Registry %q created (owner %s)\n", name, owner.Hex())
	return nil
}

func runRegistryAdd(opts *RegistryOptions, name string, raw []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	caller, err := parseAddress(opts.Caller)
	if err != nil {
		return invalidArgs(formatter, fmt.Errorf("--caller: %w", err))
	}
	addrs := make([]common.Address, len(raw))
	for i, s := range raw {
		if addrs[i], err = parseAddress(s); err != nil {
			return invalidArgs(formatter, err)
		}
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "registry add failed", err)
	}
	defer sess.Close()

	reg, err := sess.store.OpenRegistry(ctx, name)
	if err != nil {
		return fail(formatter, "registry add failed", err)
	}
	if err := reg.AddAddresses(ctx, caller, addrs...); err != nil {
		return fail(formatter, "registry add failed", err)
	}
	return outputRegistry(formatter, reg.Ref(), cmd, sess)
}

func runRegistryRemove(opts *RegistryOptions, name, raw string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	caller, err := parseAddress(opts.Caller)
	if err != nil {
		return invalidArgs(formatter, fmt.Errorf("--caller: %w", err))
	}
	addr, err := parseAddress(raw)
	if err != nil {
		return invalidArgs(formatter, err)
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "registry remove failed", err)
	}
	defer sess.Close()

	reg, err := sess.store.OpenRegistry(ctx, name)
	if err != nil {
		return fail(formatter, "registry remove failed", err)
	}
	if err := reg.RemoveAddress(ctx, caller, addr); err != nil {
		return fail(formatter, "registry remove failed", err)
	}
	return outputRegistry(formatter, name, cmd, sess)
}

func runRegistryNames(opts *RegistryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}
	defer sess.Close()

	names, err := sess.store.Registries(cmd.Context())
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(names)
	}
	for _, name := range names {
		fmt.Fprintln(formatter.Writer, name)
	}
	return nil
}

func runRegistryList(opts *RegistryOptions, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}
	defer sess.Close()

	return outputRegistry(formatter, name, cmd, sess)
}

func outputRegistry(formatter *OutputFormatter, name string, cmd *cobra.Command, sess *session) error {
	ctx := cmd.Context()
	reg, err := sess.store.OpenRegistry(ctx, name)
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}
	owner, err := reg.Owner(ctx)
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}
	addrs, err := reg.Addresses(ctx)
	if err != nil {
		return fail(formatter, "registry list failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(RegistryListing{Name: name, Owner: owner, Addresses: addrs})
	}
	fmt.Fprintf(formatter.Writer, "Registry %q (owner %s, %d resources)\n", name, owner.Hex(), len(addrs))
	for i, addr := range addrs {
		fmt.Fprintf(formatter.Writer, "  [%d] %s\n", i, addr.Hex())
	}
	return nil
}
