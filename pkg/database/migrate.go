package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func newMigrator(db *sql.DB, migrations fs.FS) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies (or rolls back) the embedded migrations. steps <= 0 means all of them.
// It refuses to run against a dirty schema.
func Migrate(db *sql.DB, migrations fs.FS, dir Direction, steps int) (uint, error) {
	m, err := newMigrator(db, migrations)
	if err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("check migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is dirty at version %d; force a version before migrating", version)
	}

	switch {
	case dir == Up && steps > 0:
		err = m.Steps(steps)
	case dir == Up:
		err = m.Up()
	case dir == Down && steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return version, fmt.Errorf("migrate %s: %w", dir, err)
	}

	newVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return version, err
	}
	return newVersion, nil
}

// Version reports the applied migration version and the dirty flag.
func Version(db *sql.DB, migrations fs.FS) (uint, bool, error) {
	m, err := newMigrator(db, migrations)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force marks version as applied without running it, clearing the dirty flag.
func Force(db *sql.DB, migrations fs.FS, version int) error {
	m, err := newMigrator(db, migrations)
	if err != nil {
		return err
	}
	return m.Force(version)
}
