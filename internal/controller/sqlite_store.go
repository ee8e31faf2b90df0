package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store using the controllers table.
// The schema is created by the embedded migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns every row of the controllers table.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, temperature, level, enabled FROM controllers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying controllers: %w", err)
	}
	defer rows.Close()

	states := make(map[string]State)
	for rows.Next() {
		var (
			name    string
			st      State
			enabled int
		)
		if err := rows.Scan(&name, &st.Temperature, &st.Level, &enabled); err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		st.Enabled = enabled != 0
		states[name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating controllers: %w", err)
	}

	if err := validateLoaded(states); err != nil {
		return nil, err
	}
	return states, nil
}

// Save replaces the table contents with snap in a single transaction and
// records the snapshot version.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM controllers`); err != nil {
		return fmt.Errorf("clearing controllers: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO controllers (name, temperature, level, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx,
			e.Name, e.State.Temperature, e.State.Level, boolToInt(e.State.Enabled), now,
		); err != nil {
			return fmt.Errorf("inserting %q: %w", e.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, version, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at`,
		int64(snap.Version), now, //nolint:gosec // Registry versions stay far below MaxInt64
	); err != nil {
		return fmt.Errorf("recording snapshot version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LastSaved returns the version and time of the most recent Save.
// ok is false if the table has never been written.
func (s *SQLiteStore) LastSaved(ctx context.Context) (version uint64, savedAt time.Time, ok bool, err error) {
	var (
		v  int64
		ts string
	)
	err = s.db.QueryRowContext(ctx, `SELECT version, saved_at FROM snapshot_meta WHERE id = 1`).Scan(&v, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("querying snapshot meta: %w", err)
	}

	savedAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parsing saved_at: %w", err)
	}
	return uint64(v), savedAt, true, nil //nolint:gosec // Stored from a uint64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
