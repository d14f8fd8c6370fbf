package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS cursors (
	channel      TEXT PRIMARY KEY,
	cursor_value BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tombstones (
	post_id    TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tombstones_expires_at_idx ON tombstones (expires_at);`

// Repository implements domain.CursorRepository and
// domain.TombstoneRepository using PostgreSQL.
type Repository struct {
	db *sql.DB
}

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, ensures the schema exists, and returns a new Repository. The
// caller should call Close when the repository is no longer needed.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetCursor retrieves the saved push cursor for a channel.
func (r *Repository) GetCursor(ctx context.Context, channel string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE channel = $1`, channel,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the push cursor for a channel.
func (r *Repository) UpdateCursor(ctx context.Context, channel string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (channel, cursor_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel) DO UPDATE SET cursor_value = $2, updated_at = $3`,
		channel, cursor, time.Now().UTC(),
	)
	return err
}

// SaveTombstone records a removed post until expiresAt.
func (r *Repository) SaveTombstone(ctx context.Context, postID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tombstones (post_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (post_id) DO UPDATE SET expires_at = $2`,
		postID, expiresAt.UTC(),
	)
	return err
}

// ActiveTombstones returns tombstones expiring after now.
func (r *Repository) ActiveTombstones(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT post_id, expires_at FROM tombstones WHERE expires_at > $1`, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id  string
			exp time.Time
		)
		if err := rows.Scan(&id, &exp); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out[id] = exp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}

// PurgeTombstones removes expired tombstones in one transaction and
// returns the number of rows deleted.
func (r *Repository) PurgeTombstones(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM tombstones WHERE expires_at <= $1`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired tombstones: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}
