package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema for dialect to db and returns the
// resulting schema version.
//
// The migrate instance is not closed: its database driver would close db.
func Migrate(db *sql.DB, dialect Dialect) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+dialect.migrationsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return 0, fmt.Errorf("unsupported dialect %q", dialect.driverName)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to initialise migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect.driverName, driver)
	if err != nil {
		return 0, fmt.Errorf("failed to initialise migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
