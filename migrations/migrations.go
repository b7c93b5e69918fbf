// Package migrations embeds the business rule schema for each supported
// database and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Source returns the embedded migrations for driver.
func Source(driver string) (source.Driver, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return iofs.New(files, driver)
	default:
		return nil, fmt.Errorf("no migrations for database driver %q", driver)
	}
}

// DatabaseURL converts a store URL into the URL golang-migrate expects.
// PostgreSQL URLs are used as-is; a SQLite path becomes sqlite3://<path>.
func DatabaseURL(driver, url string) (string, error) {
	switch driver {
	case DriverPostgres:
		return url, nil
	case DriverSQLite:
		if strings.HasPrefix(url, "sqlite3://") {
			return url, nil
		}
		return "sqlite3://" + strings.TrimPrefix(url, "file:"), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New creates a migrator for driver and url using the embedded migrations.
// The caller must Close it.
func New(driver, url string) (*migrate.Migrate, error) {
	src, err := Source(driver)
	if err != nil {
		return nil, err
	}
	dbURL, err := DatabaseURL(driver, url)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// NewFromDir creates a migrator reading migrations from dir on disk instead
// of the embedded files. The caller must Close it.
func NewFromDir(driver, dir, url string) (*migrate.Migrate, error) {
	dbURL, err := DatabaseURL(driver, url)
	if err != nil {
		return nil, err
	}

	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// Up applies every pending migration. An up-to-date database is not an error.
func Up(driver, url string) error {
	m, err := New(driver, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
