// Package migration applies versioned SQL migrations with golang-migrate.
//
// Files are named VERSION_title.up.sql and VERSION_title.down.sql and are
// normally embedded next to the package that owns the tables:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	m := migration.New(db.GormDB, migration.Source{FS: migrations, Dir: "migrations"}, migration.SQLite)
//	applied, err := m.Up()
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

// DriverFunc wraps an open pool in a migrate database driver.
type DriverFunc func(*sql.DB) (database.Driver, error)

// SQLite suits pools opened with the gorm sqlite dialector.
func SQLite(db *sql.DB) (database.Driver, error) {
	return sqlite3.WithInstance(db, &sqlite3.Config{})
}

// Source locates the migration files.
type Source struct {
	FS  fs.FS
	Dir string
}

// Migrator moves one database between versions of one Source.
type Migrator struct {
	db     *gorm.DB
	src    Source
	driver DriverFunc
}

func New(db *gorm.DB, src Source, driver DriverFunc) *Migrator {
	return &Migrator{db: db, src: src, driver: driver}
}

// Up applies every pending migration and returns the resulting version.
// Nothing pending is not an error.
func (m *Migrator) Up() (uint, error) {
	if err := m.step("up", (*migrate.Migrate).Up); err != nil {
		return 0, err
	}
	v, _, err := m.Version()
	return v, err
}

// Down reverts every applied migration.
func (m *Migrator) Down() error {
	return m.step("down", (*migrate.Migrate).Down)
}

// Version is the applied version, 0 for a database never migrated.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *Migrator) step(name string, run func(*migrate.Migrate) error) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	if err := run(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s %s: %w", name, m.src.Dir, err)
	}
	return nil
}

// open must not be paired with Close on the result: that closes the pool
// shared with gorm.
func (m *Migrator) open() (*migrate.Migrate, error) {
	pool, err := m.db.DB()
	if err != nil {
		return nil, err
	}
	driver, err := m.driver(pool)
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(m.src.FS, m.src.Dir)
	if err != nil {
		return nil, fmt.Errorf("migration source %s: %w", m.src.Dir, err)
	}
	return migrate.NewWithInstance("iofs", src, "database", driver)
}
