// SQLite-backed HostSource, for a single-node fleetroll install that wants
// its fleet membership to survive restarts without standing up PostgreSQL.
package hostsource

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGo
)

// SQLiteStore implements HostSource against a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed host source. Use
// ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS hosts (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		address TEXT NOT NULL,
		pool    TEXT NOT NULL DEFAULT '',
		alive   INTEGER NOT NULL DEFAULT 1
	)`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert registers or updates a host row.
func (s *SQLiteStore) Upsert(ctx context.Context, h Host, alive bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, name, address, pool, alive) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, address=excluded.address, pool=excluded.pool, alive=excluded.alive
	`, h.ID, h.Name, h.Address, h.Pool, boolToInt(alive))
	return err
}

// GetHosts returns every row in the hosts table.
func (s *SQLiteStore) GetHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, pool FROM hosts`)
	if err != nil {
		return nil, &Error{Cause: err}
	}
	defer rows.Close()

	var out []Host
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.Name, &h.Address, &h.Pool); err != nil {
			return nil, &Error{Cause: err}
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Cause: err}
	}
	return out, nil
}

// ShouldBeAlive looks up the alive flag; on any error it fails safe (true).
func (s *SQLiteStore) ShouldBeAlive(ctx context.Context, host Host) bool {
	var alive int
	err := s.db.QueryRowContext(ctx, `SELECT alive FROM hosts WHERE id = ?`, host.ID).Scan(&alive)
	if err != nil {
		return true
	}
	return alive != 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
