package database

import (
	"errors"
	"fmt"

	"sentinal-call/pkg/database/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(databaseURL string) (*MigrateResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}
	return version(m, changed)
}

// MigrateDown rolls back `steps` migrations, or all of them when steps <= 0.
func MigrateDown(databaseURL string, steps int) (*MigrateResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration down: %w", err)
	}
	return version(m, changed)
}

// MigrationStatus reports the current schema version.
func MigrationStatus(databaseURL string) (*MigrateResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return version(m, false)
}

func version(m *migrate.Migrate, changed bool) (*MigrateResult, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrateResult{Changed: changed}, nil
	}
	if err != nil {
		return nil, err
	}
	return &MigrateResult{Version: v, Dirty: dirty, Changed: changed}, nil
}
