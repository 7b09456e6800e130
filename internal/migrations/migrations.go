// Package migrations applies the embedded schema for the pipeline's sink
// tables (top_sales_by_city, top_sales_by_salesman), the lineage store and
// the change-capture trigger on the source sales table.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var schemaFiles embed.FS

// RunMigrations brings the database up to the embedded schema version. With
// apply=false it only reports where the schema stands, for deployments that
// manage DDL out of band.
func RunMigrations(db *sql.DB, apply bool) error {
	src, err := iofs.New(schemaFiles, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if dirty {
		slog.Warn("[Migrations] Schema left dirty by an interrupted migration",
			"version", version,
			"action", "forcing version and retrying",
		)

		// The schema ships as a single baseline migration, so forcing the
		// recorded version back to itself is a safe reset.
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("clear dirty schema state at version %d: %w", version, err)
		}
		slog.Info("[Migrations] Cleared dirty schema state", "version", version)
	}

	if !apply {
		slog.Info("[Migrations] Auto-migration disabled, leaving schema as is",
			"current_version", version,
			"dirty", dirty,
		)
		return nil
	}

	slog.Info("[Migrations] Applying schema migrations", "current_version", version)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema already current", "version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	applied, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version after apply: %w", err)
	}

	slog.Info("[Migrations] Schema migrated",
		"from_version", version,
		"to_version", applied,
	)

	return nil
}
