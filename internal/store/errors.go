package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Errors reported by the cache. Every error returned by a Store method that
// falls into one of these classes wraps the sentinel, so callers test with
// errors.Is and read the offending key from the message.
var (
	ErrDuplicateRecord      = errors.New("duplicate record")
	ErrDanglingReference    = errors.New("dangling reference")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrReferencedEntity     = errors.New("entity is still referenced")
	ErrNotFound             = errors.New("not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")

	// ErrNotInitialized is returned when the schema has not been migrated.
	ErrNotInitialized = errors.New("cache not initialized: run 'pacache migrate' first")
)

// PostgreSQL SQLSTATE codes the cache cares about.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgLockNotAvailable    = "55P03"
	pgDeadlockDetected    = "40P01"
	pgQueryCanceled       = "57014"
	pgUndefinedTable      = "42P01"
)

// classify maps a driver error onto the cache's error taxonomy. The returned
// error wraps both the sentinel and the original error. Errors that do not
// belong to a known class are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := sentinelFor(err); sentinel != nil && !errors.Is(err, sentinel) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func sentinelFor(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return ErrDuplicateRecord
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrDanglingReference
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
			return ErrMissingRequiredField
		}
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
			return ErrStorageUnavailable
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateRecord
		case pgForeignKeyViolation:
			return ErrDanglingReference
		case pgNotNullViolation, pgCheckViolation:
			return ErrMissingRequiredField
		case pgLockNotAvailable, pgDeadlockDetected, pgQueryCanceled:
			return ErrStorageUnavailable
		case pgUndefinedTable:
			return ErrNotInitialized
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return ErrStorageUnavailable
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return ErrStorageUnavailable
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ErrStorageUnavailable
	}

	// Fall back to the engine's message for errors wrapped by other layers.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrDuplicateRecord
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrDanglingReference
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return ErrStorageUnavailable
	case strings.Contains(msg, "no such table"):
		return ErrNotInitialized
	}
	return nil
}

// FieldError reports a required attribute that is absent or out of range.
type FieldError struct {
	Key   string
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("pacscript %s: %s: %s", e.Key, ErrMissingRequiredField, e.Field)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingRequiredField
}
