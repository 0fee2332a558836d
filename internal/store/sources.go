package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackwell-systems/pacache/internal/pacscript"
)

// Source operations

// UpsertSource registers a source or replaces its last_updated and
// preference if it is already known.
func (s *Store) UpsertSource(ctx context.Context, src *pacscript.Source) error {
	if src.URL == "" {
		return fmt.Errorf("source: %w: url", ErrMissingRequiredField)
	}
	if src.LastUpdated.IsZero() {
		return fmt.Errorf("source %s: %w: last_updated", src.URL, ErrMissingRequiredField)
	}

	query := `
		INSERT INTO source (url, last_updated, preference)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_updated = excluded.last_updated,
			preference = excluded.preference
	`

	return s.withTx(ctx, func(c conn) error {
		_, err := c.exec(ctx, query, src.URL, c.timeArg(src.LastUpdated), src.Preference)
		if err != nil {
			return fmt.Errorf("failed to upsert source %s: %w", src.URL, classify(err))
		}
		return nil
	})
}

// GetSource retrieves a source by URL.
func (s *Store) GetSource(ctx context.Context, url string) (*pacscript.Source, error) {
	return getSource(ctx, s.reader(), url)
}

func getSource(ctx context.Context, c conn, url string) (*pacscript.Source, error) {
	query := `
		SELECT url, last_updated, preference
		FROM source
		WHERE url = ?
	`

	var src pacscript.Source
	var lastUpdated string
	err := c.queryRow(ctx, query, url).Scan(&src.URL, &lastUpdated, &src.Preference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", url, classify(err))
	}

	src.LastUpdated, err = parseTime(lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_updated for source %s: %w", url, err)
	}

	return &src, nil
}

// ListSources returns all sources ordered by preference, then URL.
func (s *Store) ListSources(ctx context.Context) ([]*pacscript.Source, error) {
	query := `
		SELECT url, last_updated, preference
		FROM source
		ORDER BY preference, url
	`

	rows, err := s.reader().query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", classify(err))
	}
	defer rows.Close()

	var sources []*pacscript.Source
	for rows.Next() {
		var src pacscript.Source
		var lastUpdated string

		if err := rows.Scan(&src.URL, &lastUpdated, &src.Preference); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}

		src.LastUpdated, err = parseTime(lastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_updated for source %s: %w", src.URL, err)
		}

		sources = append(sources, &src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", classify(err))
	}

	return sources, nil
}

// DeleteSource removes a source. It fails with ErrReferencedEntity while any
// pacscript still points at it.
func (s *Store) DeleteSource(ctx context.Context, url string) error {
	return s.withTx(ctx, func(c conn) error {
		var refs int
		err := c.queryRow(ctx, `SELECT COUNT(*) FROM pacscript WHERE source = ?`, url).Scan(&refs)
		if err != nil {
			return fmt.Errorf("failed to count references to source %s: %w", url, classify(err))
		}
		if refs > 0 {
			return fmt.Errorf("source %s: %w by %d pacscript(s)", url, ErrReferencedEntity, refs)
		}

		result, err := c.exec(ctx, `DELETE FROM source WHERE url = ?`, url)
		if err != nil {
			err = classify(err)
			if errors.Is(err, ErrDanglingReference) {
				// A referencing row committed between the count and the delete.
				return fmt.Errorf("source %s: %w (%v)", url, ErrReferencedEntity, err)
			}
			return fmt.Errorf("failed to delete source %s: %w", url, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("source %s: %w", url, ErrNotFound)
		}
		return nil
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
