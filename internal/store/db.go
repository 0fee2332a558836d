package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout bounds how long a write waits for a lock held by another
// writer before failing with ErrStorageUnavailable.
const DefaultBusyTimeout = 5 * time.Second

// Store provides transactional access to the pacscript metadata cache.
// It is backed by SQLite (a file path or ":memory:") or PostgreSQL (a
// postgres:// URL).
type Store struct {
	db          *sql.DB
	dsn         string
	postgres    bool
	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithBusyTimeout sets the lock wait bound of the underlying engine.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.busyTimeout = d
	}
}

// IsPostgresDSN reports whether dsn names a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// New opens the cache at dsn. Use ":memory:" for in-memory databases
// (useful for testing). The schema is not touched; call Migrate before use.
func New(dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		dsn:         dsn,
		postgres:    IsPostgresDSN(dsn),
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.postgres {
		s.db, err = openPostgres(dsn, s.busyTimeout)
	} else {
		s.db, err = openSQLite(dsn, s.busyTimeout)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.Ping(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to open database: %w", classify(err))
	}

	return s, nil
}

func openSQLite(path string, busyTimeout time.Duration) (*sql.DB, error) {
	// Pragmas go in the DSN so they apply to every connection the pool opens.
	// Immediate transactions take the write lock up front, so concurrent
	// writers queue on busy_timeout instead of failing on lock upgrade.
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", path+sep+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time, and an in-memory database
	// lives only as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

func openPostgres(dsn string, lockTimeout time.Duration) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = make(map[string]string)
	}
	cfg.RuntimeParams["lock_timeout"] = fmt.Sprintf("%dms", lockTimeout.Milliseconds())

	return stdlib.OpenDB(*cfg), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Backend returns "postgres" or "sqlite".
func (s *Store) Backend() string {
	if s.postgres {
		return "postgres"
	}
	return "sqlite"
}

// querier is the subset of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries written with "?" placeholders against either backend.
type conn struct {
	q        querier
	postgres bool
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (c conn) rebind(query string) string {
	if !c.postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// timeArg encodes a timestamp column value. PostgreSQL keeps microseconds and
// would round the rest, so the value is truncated first; SQLite stores the
// full nanosecond text.
func (c conn) timeArg(t time.Time) string {
	if c.postgres {
		t = t.Truncate(time.Microsecond)
	}
	return formatTime(t)
}

// reader returns a conn for single-statement reads outside a transaction.
func (s *Store) reader() conn {
	return conn{q: s.db, postgres: s.postgres}
}

// withTx runs fn in a single transaction. The transaction is rolled back if
// fn fails or ctx is cancelled, and committed otherwise.
func (s *Store) withTx(ctx context.Context, fn func(c conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	if err := fn(conn{q: tx, postgres: s.postgres}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

// escapeLike escapes the LIKE wildcards in s; pair with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
