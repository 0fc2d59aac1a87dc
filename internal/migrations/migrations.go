// Package migrations applies the versioned data corrections of the ledger.
// Tables are created by the store's auto-migration; the files under sql/ only
// repair data, and every statement is safe to run on already repaired rows.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/core-coin/settlement/pkg/logger"
)

// Table records the applied data migration version. It is kept apart from
// any schema migration table other services may own in the same database.
const Table = "settlement_data_migrations"

//go:embed sql/*.sql
var files embed.FS

// Runner applies pending data migrations.
type Runner struct {
	logger *logger.Logger
	m      *migrate.Migrate
	// owned is false when the database handle belongs to the caller.
	owned bool
}

// PostgresURL builds the connection URL golang-migrate expects.
func PostgresURL(user, password, dbname, host string, port int) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + dbname,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	q.Set("x-migrations-table", Table)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPostgres opens its own connection to the database at dbURL.
func NewPostgres(dbURL string, logger *logger.Logger) (*Runner, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration files: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("could not create migration instance: %w", err)
	}
	return &Runner{logger: logger, m: m, owned: true}, nil
}

// NewSQLite runs migrations over an existing sqlite handle.
func NewSQLite(db *sql.DB, logger *logger.Logger) (*Runner, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: Table})
	if err != nil {
		return nil, fmt.Errorf("could not create sqlite migration driver: %w", err)
	}
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration files: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("could not create migration instance: %w", err)
	}
	return &Runner{logger: logger, m: m}, nil
}

// Up applies every pending migration. Running it again is a no-op.
func (r *Runner) Up() error {
	err := r.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("Data migrations are up to date")
		return nil
	}
	if err != nil {
		r.logger.Error("Could not apply data migrations", "error", err)
		return fmt.Errorf("could not apply migrations: %w", err)
	}

	version, _, err := r.m.Version()
	if err != nil {
		return fmt.Errorf("could not read migration version: %w", err)
	}
	r.logger.Info("Data migrations successfully applied", "version", version)
	return nil
}

// Version returns the last applied migration, and false when none ran yet.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if dirty {
		return version, true, fmt.Errorf("migration %d is dirty", version)
	}
	return version, true, nil
}

// Close releases the runner. Database handles passed in by the caller stay open.
func (r *Runner) Close() error {
	if !r.owned {
		return nil
	}
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}
