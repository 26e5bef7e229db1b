package hostsource

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// Config selects and configures a HostSource backend.
type Config struct {
	Backend    string // "memory", "sqlite", "postgres"
	DataDir    string
	SQLitePath string
	Postgres   *PostgresConfig
}

// New creates the configured HostSource. "memory" is the default and is
// non-durable; "sqlite" and "postgres" persist the fleet table.
func New(cfg Config, logger *slog.Logger) (HostSource, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Info("host source: using in-memory backend (non-durable)")
		return NewMemoryStore(), nil

	case "sqlite":
		dbPath := cfg.SQLitePath
		if dbPath == "" {
			if cfg.DataDir == "" {
				return nil, fmt.Errorf("sqlite host source requires sqlite_path or data_dir")
			}
			dbPath = filepath.Join(cfg.DataDir, "fleetroll-hosts.db")
		}
		logger.Info("host source: using SQLite backend", "path", dbPath)
		return NewSQLiteStore(dbPath)

	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres host source requires postgres config")
		}
		logger.Info("host source: using PostgreSQL backend", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return NewPostgresStore(*cfg.Postgres)

	default:
		return nil, fmt.Errorf("unknown host source backend: %q (supported: memory, sqlite, postgres)", cfg.Backend)
	}
}
