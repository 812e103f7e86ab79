// Package database provides the sqlite connection, schema migrations and the
// Store used for bots, runtime state, command definitions and permissions.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/botfleet/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

const (
	driverName = "sqlite"

	// busyTimeoutMillis covers the lifecycle writes that race with scheduled jobs.
	busyTimeoutMillis = 5000
	connMaxLifetime   = 5 * time.Minute
)

// NewDB opens the fleet database at path, brings the schema up to date and returns the pool.
// path may be a plain file path or a file: DSN.
func NewDB(path string) (*sqlx.DB, error) {
	log := slog.Default().With("component", "database")

	db, err := sqlx.Connect(driverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open fleet database %q: %w", path, err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(connMaxLifetime)

	version, err := migrateUp(db.DB, FilePath(path), log)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database after migration error", "error", closeErr)
		}
		return nil, err
	}

	log.Info("Fleet database ready", "path", path, "schema_version", version)
	return db, nil
}

// CloseDB closes the pool. A nil db is ignored.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Failed to close fleet database", "component", "database", "error", err)
		return
	}
	slog.Debug("Fleet database closed", "component", "database")
}

// SchemaVersion returns the applied migration version and whether the last migration
// left the schema dirty.
func SchemaVersion(db *sqlx.DB, path string) (uint, bool, error) {
	migrator, err := newMigrator(db.DB, FilePath(path))
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// migrateUp applies the embedded migrations and returns the resulting version.
func migrateUp(db *sql.DB, name string, log *slog.Logger) (uint, error) {
	migrator, err := newMigrator(db, name)
	if err != nil {
		return 0, err
	}

	switch err := migrator.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug("Schema already up to date")
	case err != nil:
		return 0, fmt.Errorf("failed to migrate fleet database: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// newMigrator binds the embedded migrations to db. The migrator must not be closed:
// closing it closes db.
func newMigrator(db *sql.DB, name string) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("cannot migrate a nil database")
	}
	if name == "" {
		return nil, errors.New("cannot migrate a database without a file name")
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: name})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare sqlite migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, driverName, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return migrator, nil
}

// DSN adds the foreign key and busy timeout pragmas to path unless it already sets pragmas.
func DSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", path, sep, busyTimeoutMillis)
}

// FilePath strips the file: scheme and query from a DSN and unescapes the rest.
func FilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if before, _, found := strings.Cut(path, "?"); found {
		path = before
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}
