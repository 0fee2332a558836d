package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Migrate brings the schema up to the latest embedded version. It is safe to
// call on an already migrated database.
func (s *Store) Migrate() error {
	m, closeFn, err := s.migrator()
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate schema: %w", classify(err))
	}
	return nil
}

// SchemaVersion returns the applied migration version and whether the last
// migration was left half-applied. It returns ErrNotInitialized before Migrate.
func (s *Store) SchemaVersion() (uint, bool, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("schema version: %w", ErrNotInitialized)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", classify(err))
	}
	return version, dirty, nil
}

// migrator builds a migrate instance for the store's backend. The returned
// close function releases what the migrator owns without closing s.db.
func (s *Store) migrator() (*migrate.Migrate, func(), error) {
	dir := "migrations/sqlite"
	if s.postgres {
		dir = "migrations/postgres"
	}

	src, err := iofs.New(migrations, dir)
	if err != nil {
		return nil, nil, err
	}

	if s.postgres {
		// The pgx driver pins a connection and closes its *sql.DB on Close,
		// so it gets a pool of its own.
		cfg, err := pgx.ParseConfig(s.dsn)
		if err != nil {
			src.Close()
			return nil, nil, err
		}
		db := stdlib.OpenDB(*cfg)
		driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			src.Close()
			db.Close()
			return nil, nil, err
		}
		m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
		if err != nil {
			src.Close()
			driver.Close()
			return nil, nil, err
		}
		return m, func() { m.Close() }, nil
	}

	// The sqlite driver closes the *sql.DB it was given, and an in-memory
	// database cannot be reopened, so only the source is released here.
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return m, func() { src.Close() }, nil
}
