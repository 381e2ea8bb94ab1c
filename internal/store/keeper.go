package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/notify"
)

// ErrExists is returned when creating a keeper or registry whose name is taken.
var ErrExists = errors.New("already exists")

// Keeper is the persisted state of one named keeper. It implements
// keeper.Persister.
type Keeper struct {
	s    *Store
	name string
}

var _ keeper.Persister = (*Keeper)(nil)

// Keeper returns a handle for the named keeper. The keeper need not exist yet.
func (s *Store) Keeper(name string) *Keeper {
	return &Keeper{s: s, name: name}
}

// Keepers returns the names of every stored keeper in name order.
func (s *Store) Keepers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM keepers ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query keepers: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan keeper: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keepers: %w", err)
	}
	return names, nil
}

// Name returns the keeper's name.
func (k *Keeper) Name() string {
	return k.name
}

// Exists reports whether the keeper has been created.
func (k *Keeper) Exists(ctx context.Context) (bool, error) {
	var n int
	err := k.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keepers WHERE name = ?`, k.name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query keeper %q: %w", k.name, err)
	}
	return n > 0, nil
}

// Nonce returns the stored nonce. It changes with every commit.
func (k *Keeper) Nonce(ctx context.Context) (uint64, error) {
	var nonce int64
	err := k.s.db.QueryRowContext(ctx, `SELECT nonce FROM keepers WHERE name = ?`, k.name).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("load keeper %q: %w", k.name, err)
	}
	return fromSQL(nonce), nil
}

// Create stores the initial state of a new keeper. Fails with ErrExists if
// the name is taken.
func (k *Keeper) Create(ctx context.Context, state keeper.State) error {
	return k.s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM keepers WHERE name = ?`, k.name).Scan(&n); err != nil {
			return fmt.Errorf("create keeper %q: %w", k.name, err)
		}
		if n > 0 {
			return fmt.Errorf("create keeper %q: %w", k.name, ErrExists)
		}
		if err := k.insertState(ctx, tx, state); err != nil {
			return err
		}
		return k.writeWords(ctx, tx, state.Words)
	})
}

// Commit applies a keeper commit in a single transaction: state, packed
// words, service log and notification log. Notifications already stored
// (same ID) are skipped.
//
// The state row is only updated while its nonce still equals c.Base;
// otherwise Commit fails with an error wrapping keeper.ErrStale and nothing
// is written. Config and registry columns are written only when
// c.WritesConfig is set. A keeper that does not exist yet is created by a
// commit with base nonce zero.
func (k *Keeper) Commit(ctx context.Context, c keeper.Commit) error {
	return k.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := k.updateState(ctx, tx, c); err != nil {
			return err
		}
		if err := k.writeWords(ctx, tx, c.State.Words); err != nil {
			return err
		}
		for _, svc := range c.Serviced {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO services (keeper, position, resource, height)
				VALUES (?, ?, ?, ?)
			`, k.name, toSQL(svc.Index), svc.Resource.Hex(), toSQL(svc.Height))
			if err != nil {
				return fmt.Errorf("write service: %w", err)
			}
		}
		for _, n := range c.Notifications {
			if err := k.writeNotification(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// updateState compares the stored nonce with c.Base and swaps in the new
// state in one statement.
func (k *Keeper) updateState(ctx context.Context, tx *sql.Tx, c keeper.Commit) error {
	st, cfg := c.State, c.State.Config

	var (
		res sql.Result
		err error
	)
	if c.WritesConfig {
		res, err = tx.ExecContext(ctx, `
			UPDATE keepers SET
				owner = ?, gate_interval = ?, batch_limit = ?, mode = ?, field_bits = ?,
				paused = ?, registry_ref = ?, cursor = ?, last_sweep = ?, nonce = ?
			WHERE name = ? AND nonce = ?
		`,
			cfg.Owner.Hex(), toSQL(cfg.Interval), toSQL(cfg.BatchLimit), string(cfg.Mode), int64(cfg.FieldBits),
			cfg.Paused, st.RegistryRef, toSQL(st.Cursor), toSQL(st.LastSweep), toSQL(st.Nonce),
			k.name, toSQL(c.Base),
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE keepers SET cursor = ?, last_sweep = ?, nonce = ?
			WHERE name = ? AND nonce = ?
		`, toSQL(st.Cursor), toSQL(st.LastSweep), toSQL(st.Nonce), k.name, toSQL(c.Base))
	}
	if err != nil {
		return fmt.Errorf("write keeper %q: %w", k.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write keeper %q: %w", k.name, err)
	}
	if n == 1 {
		return nil
	}

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT nonce FROM keepers WHERE name = ?`, k.name).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows) && c.Base == 0:
		return k.insertState(ctx, tx, st)
	case err != nil:
		return fmt.Errorf("write keeper %q: %w", k.name, err)
	}
	return fmt.Errorf("write keeper %q: stored nonce %d, commit based on %d: %w",
		k.name, fromSQL(stored), c.Base, keeper.ErrStale)
}

func (k *Keeper) insertState(ctx context.Context, tx *sql.Tx, st keeper.State) error {
	cfg := st.Config
	_, err := tx.ExecContext(ctx, `
		INSERT INTO keepers
		(name, owner, gate_interval, batch_limit, mode, field_bits, paused, registry_ref, cursor, last_sweep, nonce)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		k.name,
		cfg.Owner.Hex(),
		toSQL(cfg.Interval),
		toSQL(cfg.BatchLimit),
		string(cfg.Mode),
		int64(cfg.FieldBits),
		cfg.Paused,
		st.RegistryRef,
		toSQL(st.Cursor),
		toSQL(st.LastSweep),
		toSQL(st.Nonce),
	)
	if err != nil {
		return fmt.Errorf("write keeper %q: %w", k.name, err)
	}
	return nil
}

func (k *Keeper) writeWords(ctx context.Context, tx *sql.Tx, words []uint256.Int) error {
	for i := range words {
		word := words[i].Bytes32()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO keeper_words (keeper, word_index, word)
			VALUES (?, ?, ?)
			ON CONFLICT(keeper, word_index) DO UPDATE SET word = excluded.word
		`, k.name, int64(i), word[:])
		if err != nil {
			return fmt.Errorf("write word %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM keeper_words WHERE keeper = ? AND word_index >= ?
	`, k.name, int64(len(words))); err != nil {
		return fmt.Errorf("trim words: %w", err)
	}
	return nil
}

func (k *Keeper) writeNotification(ctx context.Context, tx *sql.Tx, n notify.Notification) error {
	fields, err := notify.MarshalCanonical(n.Fields)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (id, keeper, kind, height, nonce, fields)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, n.ID, k.name, string(n.Kind), toSQL(n.Height), toSQL(n.Nonce), string(fields))
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Load reads the keeper's state. Returns an error satisfying IsNotFound if
// the keeper does not exist.
func (k *Keeper) Load(ctx context.Context) (keeper.State, error) {
	var (
		st                                        keeper.State
		owner, mode                               string
		interval, batch, cursor, lastSweep, nonce int64
		fieldBits                                 int64
	)
	err := k.s.db.QueryRowContext(ctx, `
		SELECT owner, gate_interval, batch_limit, mode, field_bits, paused, registry_ref, cursor, last_sweep, nonce
		FROM keepers WHERE name = ?
	`, k.name).Scan(&owner, &interval, &batch, &mode, &fieldBits, &st.Config.Paused, &st.RegistryRef, &cursor, &lastSweep, &nonce)
	if err != nil {
		return keeper.State{}, fmt.Errorf("load keeper %q: %w", k.name, err)
	}

	st.Config.Owner = common.HexToAddress(owner)
	st.Config.Interval = fromSQL(interval)
	st.Config.BatchLimit = fromSQL(batch)
	st.Config.Mode = keeper.Mode(mode)
	st.Config.FieldBits = uint(fieldBits)
	st.Cursor = fromSQL(cursor)
	st.LastSweep = fromSQL(lastSweep)
	st.Nonce = fromSQL(nonce)

	words, err := k.loadWords(ctx)
	if err != nil {
		return keeper.State{}, err
	}
	st.Words = words
	return st, nil
}

func (k *Keeper) loadWords(ctx context.Context) ([]uint256.Int, error) {
	rows, err := k.s.db.QueryContext(ctx, `
		SELECT word_index, word FROM keeper_words
		WHERE keeper = ?
		ORDER BY word_index ASC
	`, k.name)
	if err != nil {
		return nil, fmt.Errorf("query words: %w", err)
	}
	defer rows.Close()

	var words []uint256.Int
	for rows.Next() {
		var (
			idx int64
			raw []byte
		)
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		for int64(len(words)) < idx {
			words = append(words, uint256.Int{})
		}
		var w uint256.Int
		w.SetBytes32(raw)
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate words: %w", err)
	}
	return words, nil
}

// toSQL stores a uint64 bit-for-bit in a signed SQLite integer.
func toSQL(v uint64) int64 { return int64(v) }

func fromSQL(v int64) uint64 { return uint64(v) }
