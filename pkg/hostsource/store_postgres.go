// PostgreSQL-backed HostSource, for multi-instance fleetroll control planes
// that need the fleet table shared across more than one process.
package hostsource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection parameters for the fleet table's database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-full"
}

// DSN returns a libpq connection string for cfg.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore implements HostSource against a shared PostgreSQL fleet table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens (and migrates) a PostgreSQL-backed host source.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS fleetroll_hosts (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		address TEXT NOT NULL,
		pool    TEXT NOT NULL DEFAULT '',
		alive   BOOLEAN NOT NULL DEFAULT TRUE
	)`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Upsert registers or updates a host row.
func (s *PostgresStore) Upsert(ctx context.Context, h Host, alive bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fleetroll_hosts (id, name, address, pool, alive) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(id) DO UPDATE SET
			name=EXCLUDED.name, address=EXCLUDED.address, pool=EXCLUDED.pool, alive=EXCLUDED.alive
	`, h.ID, h.Name, h.Address, h.Pool, alive)
	return err
}

// GetHosts returns every row in the fleet table.
func (s *PostgresStore) GetHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, pool FROM fleetroll_hosts ORDER BY id`)
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
func (s *PostgresStore) ShouldBeAlive(ctx context.Context, host Host) bool {
	var alive bool
	err := s.db.QueryRowContext(ctx, `SELECT alive FROM fleetroll_hosts WHERE id = $1`, host.ID).Scan(&alive)
	if err != nil {
		return true
	}
	return alive
}
