package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cursors (
	channel      TEXT PRIMARY KEY,
	cursor_value INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tombstones (
	post_id    TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);`

// Repository implements domain.CursorRepository and
// domain.TombstoneRepository on a local SQLite file. Times are stored as
// unix milliseconds.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database at path, creating the schema if needed.
// The caller should call Close when the repository is no longer needed.
func NewRepository(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

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
		`SELECT cursor_value FROM cursors WHERE channel = ?`, channel,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", channel, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the push cursor for a channel.
func (r *Repository) UpdateCursor(ctx context.Context, channel string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (channel, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (channel) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		channel, cursor, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update cursor %s: %w", channel, err)
	}
	return nil
}

// SaveTombstone records a removed post until expiresAt. Saving again
// moves the expiry.
func (r *Repository) SaveTombstone(ctx context.Context, postID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tombstones (post_id, expires_at)
		VALUES (?, ?)
		ON CONFLICT (post_id) DO UPDATE SET expires_at = excluded.expires_at`,
		postID, expiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save tombstone %s: %w", postID, err)
	}
	return nil
}

// ActiveTombstones returns tombstones expiring after now.
func (r *Repository) ActiveTombstones(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT post_id, expires_at FROM tombstones WHERE expires_at > ?`, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id     string
			millis int64
		)
		if err := rows.Scan(&id, &millis); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out[id] = time.UnixMilli(millis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}

// PurgeTombstones deletes tombstones that expired at or before now and
// returns how many were removed.
func (r *Repository) PurgeTombstones(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tombstones WHERE expires_at <= ?`, now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
