// Package store exposes a deployment-profile-based constructor for
// core.Store: SQLite for the single-node Lite profile, Postgres for the
// horizontally-scaled Standard profile.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/store/postgres"
	"github.com/scalepilot/autoscale/internal/store/sqlite"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and configures a backend. Only the fields relevant to the
// chosen Backend need to be set.
type Config struct {
	Backend Backend

	// SQLite
	SQLitePath string

	// Postgres
	PostgresDSN             string
	PostgresMaxConns        int32
	PostgresMinConns        int32
}

// New constructs the backend named by cfg.Backend. The concrete type
// returned (*postgres.Store or *sqlite.Store) also implements
// lock.RowStore, so callers wiring a DBLock type-assert to it rather than
// opening a second connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (core.Store, error) {
	switch cfg.Backend {
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires SQLitePath")
		}
		return sqlite.New(ctx, cfg.SQLitePath, logger)

	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires PostgresDSN")
		}
		return postgres.New(ctx, postgres.Config{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.PostgresMaxConns,
			MinConns: cfg.PostgresMinConns,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
