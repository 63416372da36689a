package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Migrate applies every pending migration for the dialect. Already applied
// migrations are skipped, so it is safe to call on each start.
// It returns the resulting schema version.
func Migrate(db *sql.DB, dialect Dialect) (uint, error) {
	m, err := newMigrator(db, dialect)
	if err != nil {
		return 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("getting migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration state is dirty at version %d", version)
	}
	return version, nil
}

// Rollback reverts every migration. This destroys all data.
func Rollback(db *sql.DB, dialect Dialect) error {
	m, err := newMigrator(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// migrator must not be closed: closing it closes db.
func newMigrator(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch dialect {
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		dir = "migrations/sqlite"
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
		dir = "migrations/postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s driver: %w", dialect, err)
	}

	source, err := iofs.New(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
