package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/config"
	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/maintain"
	"github.com/roach88/upkeep/internal/store"
)

// session is the per-command view of the database and config file.
type session struct {
	file   *config.File // nil without --config
	store  *store.Store
	keeper *store.Keeper
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openSession loads the config file, if any, and opens the database.
// Flags take precedence over the config file.
func openSession(opts *RootOptions) (*session, error) {
	var file *config.File
	if opts.Config != "" {
		f, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		file = f
	}

	path, name := opts.Database, opts.Keeper
	if file != nil {
		path = firstNonEmpty(path, file.Database)
		name = firstNonEmpty(name, file.Keeper)
	}
	path = firstNonEmpty(path, config.DefaultDatabase)
	name = firstNonEmpty(name, config.DefaultKeeper)

	slog.Debug("opening database", "path", path, "keeper", name)
	st, err := store.Open(path)
	if err != nil {
		return nil, &dbError{err: err}
	}
	return &session{file: file, store: st, keeper: st.Keeper(name)}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// controller restores the keeper from the database.
func (s *session) controller(ctx context.Context, heights keeper.HeightSource, m keeper.Maintainer, opts ...keeper.Option) (*keeper.Controller, error) {
	state, err := s.keeper.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.restore(ctx, state, heights, m, opts...)
}

// restore builds a controller from already loaded state.
func (s *session) restore(ctx context.Context, state keeper.State, heights keeper.HeightSource, m keeper.Maintainer, opts ...keeper.Option) (*keeper.Controller, error) {
	reg, err := s.store.OpenRegistry(ctx, state.RegistryRef)
	if err != nil {
		return nil, err
	}
	opts = append([]keeper.Option{
		keeper.WithPersister(s.keeper),
		keeper.WithLogger(slog.Default()),
	}, opts...)
	return keeper.Restore(state, reg, m, heights, opts...)
}

// liveKeeper is the engine's view of a stored keeper. Before every check it
// compares the stored nonce with the controller's and rebuilds the controller
// when another process has committed in between.
type liveKeeper struct {
	sess    *session
	heights keeper.HeightSource
	m       keeper.Maintainer
	ctl     *keeper.Controller
}

func (s *session) live(ctx context.Context, heights keeper.HeightSource, m keeper.Maintainer) (*liveKeeper, error) {
	ctl, err := s.controller(ctx, heights, m)
	if err != nil {
		return nil, err
	}
	return &liveKeeper{sess: s, heights: heights, m: m, ctl: ctl}, nil
}

func (l *liveKeeper) refresh(ctx context.Context) error {
	nonce, err := l.sess.keeper.Nonce(ctx)
	if err != nil {
		return err
	}
	if nonce == l.ctl.State().Nonce {
		return nil
	}
	state, err := l.sess.keeper.Load(ctx)
	if err != nil {
		return err
	}
	ctl, err := l.sess.restore(ctx, state, l.heights, l.m)
	if err != nil {
		return err
	}
	slog.Info("keeper changed by another writer, reloaded", "nonce", state.Nonce)
	l.ctl = ctl
	return nil
}

// CheckDue reloads stale state, then checks.
func (l *liveKeeper) CheckDue(ctx context.Context) (bool, []byte, error) {
	if err := l.refresh(ctx); err != nil {
		return false, nil, err
	}
	return l.ctl.CheckDue(ctx)
}

// PerformUpkeep performs with the current controller. A lost race fails
// with keeper.CodeConflict and the next check reloads.
func (l *liveKeeper) PerformUpkeep(ctx context.Context, performData []byte) (*keeper.Report, error) {
	return l.ctl.PerformUpkeep(ctx, performData)
}

// maintainer picks the maintainer: an explicit command, then the config
// file, then Nop.
func (s *session) maintainer(command []string, timeout time.Duration) (keeper.Maintainer, error) {
	if len(command) > 0 {
		return maintain.NewExec(command, timeout)
	}
	if s.file != nil {
		return s.file.Maintainer()
	}
	return maintain.Nop{}, nil
}

// fixedHeight is the height supplied by the invoking host.
type fixedHeight uint64

func (h fixedHeight) Height() uint64 { return uint64(h) }

type dbError struct{ err error }

func (e *dbError) Error() string { return fmt.Sprintf("open database: %v", e.err) }
func (e *dbError) Unwrap() error { return e.err }

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
