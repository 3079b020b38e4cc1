package linkage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS verifications (
	requester_id    INTEGER PRIMARY KEY,
	roblox_id       INTEGER NOT NULL,
	roblox_username TEXT    NOT NULL,
	linked_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verifications_roblox_id ON verifications (roblox_id);
`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary initializes) the linkage database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// SQLite handles one writer at a time; serialize on a single connection
	// instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// GetByRequester retrieves the linkage for a Discord user.
func (s *SQLiteStore) GetByRequester(ctx context.Context, requesterID int64) (*Linkage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT requester_id, roblox_id, roblox_username, linked_at
		 FROM verifications WHERE requester_id = ?`, requesterID)

	return scanLinkage(row)
}

// GetByRoblox retrieves the linkage for a Roblox user.
func (s *SQLiteStore) GetByRoblox(ctx context.Context, robloxID int64) (*Linkage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT requester_id, roblox_id, roblox_username, linked_at
		 FROM verifications WHERE roblox_id = ?`, robloxID)

	return scanLinkage(row)
}

// Upsert creates or replaces the linkage keyed on RequesterID.
func (s *SQLiteStore) Upsert(ctx context.Context, link *Linkage) error {
	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (requester_id, roblox_id, roblox_username, linked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(requester_id) DO UPDATE SET
			roblox_id       = excluded.roblox_id,
			roblox_username = excluded.roblox_username,
			linked_at       = excluded.linked_at`,
		link.RequesterID, link.RobloxID, link.RobloxUsername, link.LinkedAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting linkage: %w", err)
	}

	return nil
}

// Delete removes the linkage for a Discord user.
func (s *SQLiteStore) Delete(ctx context.Context, requesterID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE requester_id = ?`, requesterID)
	if err != nil {
		return fmt.Errorf("deleting linkage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanLinkage(row *sql.Row) (*Linkage, error) {
	var (
		link     Linkage
		linkedAt int64
	)

	err := row.Scan(&link.RequesterID, &link.RobloxID, &link.RobloxUsername, &linkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("scanning linkage: %w", err)
	}

	link.LinkedAt = time.Unix(linkedAt, 0).UTC()

	return &link, nil
}
