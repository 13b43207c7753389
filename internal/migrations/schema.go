package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

var log = logrus.WithField("component", "migrations")

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	return up(m)
}

func up(m *migrate.Migrate) error {
	currentVersion := uint(0)
	if v, dirty, verr := m.Version(); verr == nil {
		currentVersion = v
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("current database schema version")
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		log.Info("no existing migration version (fresh database)")
	} else {
		log.WithError(verr).Warn("unable to determine current version")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.WithField("version", currentVersion).Info("no new migrations to apply; database is up to date")
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.WithField("version", v).Info("successfully applied migrations")
	} else {
		log.WithError(err).Warn("applied migrations but failed to read new version")
	}

	return nil
}

// FixDirtyDatabase recovers from a migration that failed halfway. The dirty
// version is rolled back to the last clean one and pending migrations are
// re-applied. A clean database is left untouched apart from applying
// pending migrations.
func FixDirtyDatabase(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := forceClean(m); err != nil {
		return err
	}
	return up(m)
}

// forceClean resets a dirty schema version to the version before it, or to
// no version at all when the first migration is the dirty one.
func forceClean(m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: read version: %w", err)
	}
	if !dirty {
		return nil
	}

	clean := lastCleanVersion(v)
	log.WithFields(logrus.Fields{"dirty_version": v, "forced_version": clean}).Warn("forcing dirty database to last clean version")
	if err := m.Force(clean); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", clean, err)
	}
	return nil
}

func lastCleanVersion(dirty uint) int {
	if dirty <= 1 {
		return database.NilVersion
	}
	return int(dirty) - 1
}

// ForceVersion sets the recorded schema version without running any migration.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	log.WithField("version", version).Info("schema version forced")
	return nil
}

// Version reports the recorded schema version. A fresh database reports 0.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	return version(m)
}

func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: read version: %w", err)
	}
	return v, dirty, nil
}
