package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oasisprotocol/fairdraw/storage"
)

var _ storage.SessionStore = (*Client)(nil)

// Load implements storage.SessionStore.
func (c *Client) Load(ctx context.Context, id string) (*storage.Snapshot, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	var (
		snap    storage.Snapshot
		version int64
	)
	err := c.QueryRow(ctx, `
		SELECT version, phase, active, snapshot
		FROM fairdraw.sessions
		WHERE id = $1
	`, id).Scan(&version, &snap.Phase, &snap.Active, &snap.Data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("postgres: load %s: %w", id, err)
	}
	snap.Version = uint64(version)
	return &snap, nil
}

// Save implements storage.SessionStore. Creation relies on the primary key
// and updates on a version predicate, so concurrent writers are arbitrated
// by the database.
func (c *Client) Save(ctx context.Context, id string, snapshot *storage.Snapshot, expectedVersion uint64) error {
	if c.closed.Load() {
		return storage.ErrClosed
	}

	var sql string
	args := []interface{}{id, snapshot.Phase, snapshot.Active, snapshot.Data}
	if expectedVersion == 0 {
		sql = `
			INSERT INTO fairdraw.sessions (id, phase, active, version, snapshot)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (id) DO NOTHING
		`
	} else {
		sql = `
			UPDATE fairdraw.sessions
			SET phase = $2, active = $3, snapshot = $4, version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $5
		`
		args = append(args, int64(expectedVersion))
	}

	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var actual uint64
	switch current, err := c.Load(ctx, id); {
	case err == nil:
		actual = current.Version
	case errors.Is(err, storage.ErrNotFound):
	default:
		c.logger.Warn("failed to read version after rejected save", "session_id", id, "err", err)
	}
	return &storage.ConflictError{ID: id, Expected: expectedVersion, Actual: actual}
}

// ListActive implements storage.SessionStore.
func (c *Client) ListActive(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := c.Query(ctx, `
		SELECT id
		FROM fairdraw.sessions
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list active: %w", err)
	}
	return ids, nil
}

// List implements storage.SessionStore.
func (c *Client) List(ctx context.Context, after string, limit int) ([]string, error) {
	if c.closed.Load() {
		return nil, storage.ErrClosed
	}
	rows, err := c.Query(ctx, `
		SELECT id
		FROM fairdraw.sessions
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return ids, nil
}
