package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/notify"
)

// ServiceRecord is one row of the service log.
type ServiceRecord struct {
	Seq int64 `json:"seq"`
	keeper.Service
}

// Notifications returns the keeper's notifications in emission order.
// An empty kind returns every kind.
//
// Returns an empty slice (not nil) if none exist.
func (k *Keeper) Notifications(ctx context.Context, kind notify.Kind) ([]notify.Notification, error) {
	query := `
		SELECT id, kind, height, nonce, fields
		FROM notifications
		WHERE keeper = ?
		ORDER BY seq ASC
	`
	args := []any{k.name}
	if kind != "" {
		query = `
			SELECT id, kind, height, nonce, fields
			FROM notifications
			WHERE keeper = ? AND kind = ?
			ORDER BY seq ASC
		`
		args = append(args, string(kind))
	}

	rows, err := k.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []notify.Notification{}
	for rows.Next() {
		var (
			n             notify.Notification
			kindStr       string
			fields        string
			height, nonce int64
		)
		if err := rows.Scan(&n.ID, &kindStr, &height, &nonce, &fields); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = notify.Kind(kindStr)
		n.Height = fromSQL(height)
		n.Nonce = fromSQL(nonce)
		if err := json.Unmarshal([]byte(fields), &n.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// Services returns the last limit entries of the service log in order.
// A limit of zero or less returns the whole log.
func (k *Keeper) Services(ctx context.Context, limit int) ([]ServiceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := k.s.db.QueryContext(ctx, `
		SELECT seq, position, resource, height FROM (
			SELECT seq, position, resource, height
			FROM services
			WHERE keeper = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, k.name, limit)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	return scanServices(rows)
}

// ResourceHistory returns every service of one resource, oldest first.
func (k *Keeper) ResourceHistory(ctx context.Context, resource common.Address) ([]ServiceRecord, error) {
	rows, err := k.s.db.QueryContext(ctx, `
		SELECT seq, position, resource, height
		FROM services
		WHERE keeper = ? AND resource = ?
		ORDER BY seq ASC
	`, k.name, resource.Hex())
	if err != nil {
		return nil, fmt.Errorf("query resource history: %w", err)
	}
	return scanServices(rows)
}

func scanServices(rows *sql.Rows) ([]ServiceRecord, error) {
	defer rows.Close()

	out := []ServiceRecord{}
	for rows.Next() {
		var (
			rec              ServiceRecord
			addr             string
			position, height int64
		)
		if err := rows.Scan(&rec.Seq, &position, &addr, &height); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		rec.Index = fromSQL(position)
		rec.Resource = common.HexToAddress(addr)
		rec.Height = fromSQL(height)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}
