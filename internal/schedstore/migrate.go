package schedstore

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies every pending migration against an
// already-open *sql.DB, using the named migrate database driver
// ("sqlite" or "postgres") — adapted from the teacher's sqlite
// bootstrap, generalized to cover both backends this package supports.
func runMigrations(db *sql.DB, dbName string, logger zerolog.Logger) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("schedstore: migration source: %w", err)
	}

	var driver migrate.Database
	switch dbName {
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("schedstore: unknown migrate driver %q", dbName)
	}
	if err != nil {
		return fmt.Errorf("schedstore: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("schedstore: migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("schedstore: migration version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("schedstore database is dirty, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("schedstore: force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("schedstore: migrate up: %w", err)
	}
	return nil
}
