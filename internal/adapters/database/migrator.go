package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migrator struct {
	db *sqlx.DB

	logger *slog.Logger
}

func NewDatabaseMigrator(db *sqlx.DB, logger *slog.Logger) *migrator {
	return &migrator{
		db:     db,
		logger: logger,
	}
}

// Migrate creates schemaName if needed and applies every pending migration to it
func (m *migrator) Migrate(ctx context.Context, schemaName string) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrate: failed to connect to db: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return fmt.Errorf("migrate: failed to create schema: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return fmt.Errorf("migrate: failed to set search path: %w", err)
	}

	migratorInstance, err := newMigrateInstance(ctx, conn, schemaName)
	if err != nil {
		return err
	}
	defer migratorInstance.Close()

	m.logger.InfoContext(ctx, "Starting migrations", "schema", schemaName)
	if err := migratorInstance.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate: failed to migrate: %w", err)
		}
		m.logger.InfoContext(ctx, "No migrations to run", "schema", schemaName)
	}

	version, dirty, err := migratorInstance.Version()
	if err != nil {
		return fmt.Errorf("migrate: failed to read version: %w", err)
	}
	m.logger.InfoContext(ctx, "Migrations completed", "schema", schemaName, "version", version, "dirty", dirty)

	return nil
}

func newMigrateInstance(ctx context.Context, conn *sql.Conn, schemaName string) (*migrate.Migrate, error) {
	migrationSource, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to create driver from embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName: DB_NAME,
		SchemaName:   schemaName,
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to create postgres driver: %w", err)
	}

	migratorInstance, err := migrate.NewWithInstance("iofs", migrationSource, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to create migration instance: %w", err)
	}
	return migratorInstance, nil
}
