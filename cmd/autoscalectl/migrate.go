package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/scalepilot/autoscale/internal/config"
)

// newMigrateCommand returns the "migrate" subcommand: goose up/down/status
// against the configured store backend, using the dialect-specific SQL
// under migrations/postgres or migrations/sqlite.
func newMigrateCommand(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the store's schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default: migrations/<backend>)")

	cmd.AddCommand(
		newMigrateUpCommand(configPath, &dir),
		newMigrateDownCommand(configPath, &dir),
		newMigrateStatusCommand(configPath, &dir),
	)
	return cmd
}

func newMigrateUpCommand(configPath, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, resolvedDir, err := openMigrationDB(*configPath, *dir)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := goose.Up(db, resolvedDir); err != nil {
				return fmt.Errorf("applying migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newMigrateDownCommand(configPath, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, resolvedDir, err := openMigrationDB(*configPath, *dir)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := goose.Down(db, resolvedDir); err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			fmt.Println("migration rolled back")
			return nil
		},
	}
}

func newMigrateStatusCommand(configPath, dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, resolvedDir, err := openMigrationDB(*configPath, *dir)
			if err != nil {
				return err
			}
			defer db.Close()
			return goose.Status(db, resolvedDir)
		},
	}
}

// openMigrationDB loads cfg, picks the dialect and driver for the
// configured store backend, and opens a goose-managed *sql.DB plus the
// default migrations directory for that backend.
func openMigrationDB(configPath, dirOverride string) (*sql.DB, string, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, "", err
	}

	var driverName, dialect, dsn, defaultDir string
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		driverName, dialect, dsn, defaultDir = "pgx", "postgres", cfg.Store.PostgresDSN, "migrations/postgres"
	case config.StoreBackendSQLite:
		driverName, dialect, dsn, defaultDir = "sqlite", "sqlite3", cfg.Store.SQLitePath, "migrations/sqlite"
	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if err := goose.SetDialect(dialect); err != nil {
		return nil, "", fmt.Errorf("setting goose dialect: %w", err)
	}

	db, err := goose.OpenDBWithDriver(driverName, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("opening migration database: %w", err)
	}

	dir := dirOverride
	if dir == "" {
		dir = defaultDir
	}
	return db, dir, nil
}
