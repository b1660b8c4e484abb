package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/Arttribute/agent-commons-sub004/internal/config"
)

// MigrationsTable keeps checkpoint schema versions apart from other
// migrations sharing the database.
const MigrationsTable = "checkpoint_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EnsureSchema creates the named schema when it does not exist. An empty
// schema is a no-op.
func EnsureSchema(ctx context.Context, db *DB, schema string) error {
	if schema == "" {
		return nil
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// MigrationDSN returns the DSN handed to golang-migrate, scoped to the
// configured schema.
func MigrationDSN(cfg config.DatabaseConfig) (string, error) {
	params := map[string]string{"x-migrations-table": MigrationsTable}
	if cfg.Schema != "" {
		params["search_path"] = cfg.Schema
	}
	return WithQueryParams(GetDSN(cfg), params)
}

func newMigrate(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	// Create source from embedded files
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dsn, err := MigrationDSN(cfg)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations runs all pending checkpoint migrations. Safe to call on every
// start; an up-to-date schema is left untouched.
func RunMigrations(ctx context.Context, db *DB, cfg config.DatabaseConfig) error {
	if err := EnsureSchema(ctx, db, cfg.Schema); err != nil {
		return err
	}

	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RollbackMigration rolls back the last migration
func RollbackMigration(cfg config.DatabaseConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	return nil
}
