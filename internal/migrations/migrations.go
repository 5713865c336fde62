// Package migrations applies the embedded schema to Postgres and ClickHouse.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	clickmigrations "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// Postgres migrates the links and click_events tables to the latest version.
// It runs over its own connection, closed before returning, so the
// application pool keeps all of its connections.
func Postgres(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres migration connection: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to init postgres migration driver: %w", err)
	}

	return up(postgresFS, "postgres", "postgres", driver, true)
}

// ClickHouse migrates the click_events table to the latest version.
func ClickHouse(db *sql.DB) error {
	driver, err := clickmigrations.WithInstance(db, &clickmigrations.Config{})
	if err != nil {
		return fmt.Errorf("failed to init clickhouse migration driver: %w", err)
	}

	// db belongs to the caller's repository and stays open.
	return up(clickhouseFS, "clickhouse", "clickhouse", driver, false)
}

// up applies every pending migration. With closeDriver set the migrate
// instance is closed afterwards, which releases the driver's connection
// and database handle.
func up(fsys embed.FS, dir, name string, driver database.Driver, closeDriver bool) (err error) {
	source, err := iofs.New(fsys, dir)
	if err != nil {
		if closeDriver {
			driver.Close()
		}
		return fmt.Errorf("failed to open %s migrations: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		source.Close()
		if closeDriver {
			driver.Close()
		}
		return fmt.Errorf("failed to init %s migrations: %w", name, err)
	}
	if closeDriver {
		defer func() {
			srcErr, dbErr := m.Close()
			if closeErr := errors.Join(srcErr, dbErr); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close %s migrations: %w", name, closeErr)
			}
		}()
	} else {
		defer source.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply %s migrations: %w", name, err)
	}

	return nil
}
