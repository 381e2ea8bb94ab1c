package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/keeper"
)

// Registry is an owner-gated, ordered list of resource addresses stored in
// SQLite. It implements keeper.Directory; its Ref is its name.
//
// Addresses may repeat. Removal preserves the order of the remaining entries.
type Registry struct {
	s    *Store
	name string
}

var _ keeper.Directory = (*Registry)(nil)

// CreateRegistry creates an empty registry owned by owner.
func (s *Store) CreateRegistry(ctx context.Context, name string, owner common.Address) (*Registry, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM registries WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("create registry %q: %w", name, err)
		}
		if n > 0 {
			return fmt.Errorf("create registry %q: %w", name, ErrExists)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO registries (name, owner) VALUES (?, ?)`, name, owner.Hex()); err != nil {
			return fmt.Errorf("create registry %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Registry{s: s, name: name}, nil
}

// OpenRegistry returns an existing registry. Returns an error satisfying
// IsNotFound if there is none.
func (s *Store) OpenRegistry(ctx context.Context, name string) (*Registry, error) {
	r := &Registry{s: s, name: name}
	if _, err := r.Owner(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Registries returns every registry name in name order.
func (s *Store) Registries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM registries ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query registries: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan registry: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registries: %w", err)
	}
	return names, nil
}

// Ref returns the registry name.
func (r *Registry) Ref() string {
	return r.name
}

// Owner returns the registry owner.
func (r *Registry) Owner(ctx context.Context) (common.Address, error) {
	var owner string
	err := r.s.db.QueryRowContext(ctx, `SELECT owner FROM registries WHERE name = ?`, r.name).Scan(&owner)
	if err != nil {
		return common.Address{}, fmt.Errorf("registry %q: %w", r.name, err)
	}
	return common.HexToAddress(owner), nil
}

// Size returns the number of entries.
func (r *Registry) Size(ctx context.Context) (uint64, error) {
	var n int64
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registry_entries WHERE registry = ?`, r.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("registry %q size: %w", r.name, err)
	}
	return uint64(n), nil
}

// AddressAt returns the entry at index.
func (r *Registry) AddressAt(ctx context.Context, index uint64) (common.Address, error) {
	var addr string
	err := r.s.db.QueryRowContext(ctx, `
		SELECT address FROM registry_entries WHERE registry = ? AND position = ?
	`, r.name, toSQL(index)).Scan(&addr)
	if err != nil {
		return common.Address{}, fmt.Errorf("registry %q entry %d: %w", r.name, index, err)
	}
	return common.HexToAddress(addr), nil
}

// Addresses returns every entry in order.
func (r *Registry) Addresses(ctx context.Context) ([]common.Address, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT address FROM registry_entries WHERE registry = ? ORDER BY position ASC
	`, r.name)
	if err != nil {
		return nil, fmt.Errorf("query registry %q: %w", r.name, err)
	}
	defer rows.Close()

	out := []common.Address{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		out = append(out, common.HexToAddress(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry %q: %w", r.name, err)
	}
	return out, nil
}

// AddAddresses appends addrs in order. Only the owner may add.
func (r *Registry) AddAddresses(ctx context.Context, caller common.Address, addrs ...common.Address) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.authorize(ctx, tx, caller); err != nil {
			return err
		}
		var n int64
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM registry_entries WHERE registry = ?`, r.name).Scan(&n); err != nil {
			return fmt.Errorf("add addresses: %w", err)
		}
		for i, addr := range addrs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO registry_entries (registry, position, address) VALUES (?, ?, ?)
			`, r.name, n+int64(i), addr.Hex())
			if err != nil {
				return fmt.Errorf("add address %s: %w", addr.Hex(), err)
			}
		}
		return nil
	})
}

// RemoveAddress removes the first entry equal to addr and shifts later
// entries down by one. Only the owner may remove. Returns an error satisfying
// IsNotFound if addr is not listed.
func (r *Registry) RemoveAddress(ctx context.Context, caller, addr common.Address) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.authorize(ctx, tx, caller); err != nil {
			return err
		}
		var pos int64
		err := tx.QueryRowContext(ctx, `
			SELECT position FROM registry_entries
			WHERE registry = ? AND address = ?
			ORDER BY position ASC LIMIT 1
		`, r.name, addr.Hex()).Scan(&pos)
		if err != nil {
			return fmt.Errorf("remove address %s: %w", addr.Hex(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM registry_entries WHERE registry = ? AND position = ?
		`, r.name, pos); err != nil {
			return fmt.Errorf("remove address %s: %w", addr.Hex(), err)
		}
		// Shift in two steps through negative positions so no intermediate
		// update collides with the primary key.
		if _, err := tx.ExecContext(ctx, `
			UPDATE registry_entries SET position = -position WHERE registry = ? AND position > ?
		`, r.name, pos); err != nil {
			return fmt.Errorf("compact registry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE registry_entries SET position = -position - 1 WHERE registry = ? AND position < 0
		`, r.name); err != nil {
			return fmt.Errorf("compact registry: %w", err)
		}
		return nil
	})
}

func (r *Registry) authorize(ctx context.Context, tx *sql.Tx, caller common.Address) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner FROM registries WHERE name = ?`, r.name).Scan(&owner)
	if err != nil {
		return fmt.Errorf("registry %q: %w", r.name, err)
	}
	if common.HexToAddress(owner) != caller {
		return fmt.Errorf("registry %q: %w", r.name, ErrUnauthorized)
	}
	return nil
}
