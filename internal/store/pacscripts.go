package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blackwell-systems/pacache/internal/pacscript"
)

const pacscriptColumns = `name, install_status, version, url, homepage, description, repology,
		maintainer, source, installed_size, download_size, date,
		apt_optional_dependencies, pacscript_optional_dependencies`

// statusOrder sorts rows by install status in declaration order rather than
// by the persisted text.
const statusOrder = `CASE install_status WHEN 'NOT_INSTALLED' THEN 0 WHEN 'DIRECT' THEN 1 ELSE 2 END`

// Filter narrows ListPacscripts. Zero values match everything.
type Filter struct {
	Status *pacscript.InstallStatus
	Source string
	// Name matches case-insensitively anywhere in the pacscript name.
	Name   string
	Limit  int
	Offset int
}

// Transition describes a status change of one pacscript.
type Transition struct {
	Name string
	From pacscript.InstallStatus
	To   pacscript.InstallStatus

	// RemoveOld deletes the From row once the To row is written.
	RemoveOld bool

	// Update, if set, overrides attributes of the copied row. Changes to the
	// name or status are ignored.
	Update func(p *pacscript.Pacscript)
}

// Pacscript operations

// InsertPacscript adds a new row with its dependency links. Missing catalog
// entries are created in the same transaction. Required dependencies are
// stored as sets: duplicates collapse and they read back sorted by name.
// Blank or space-padded dependency names are rejected.
func (s *Store) InsertPacscript(ctx context.Context, p *pacscript.Pacscript) error {
	if err := validatePacscript(p); err != nil {
		return err
	}
	return s.withTx(ctx, func(c conn) error {
		return insertPacscript(ctx, c, p)
	})
}

// UpdatePacscript replaces every non-key attribute and the dependency links of
// an existing row.
func (s *Store) UpdatePacscript(ctx context.Context, p *pacscript.Pacscript) error {
	if err := validatePacscript(p); err != nil {
		return err
	}

	query := `
		UPDATE pacscript SET
			version = ?, url = ?, homepage = ?, description = ?, repology = ?,
			maintainer = ?, source = ?, installed_size = ?, download_size = ?, date = ?,
			apt_optional_dependencies = ?, pacscript_optional_dependencies = ?
		WHERE name = ? AND install_status = ?
	`

	return s.withTx(ctx, func(c conn) error {
		if err := checkSource(ctx, c, p); err != nil {
			return err
		}

		args, err := attributeArgs(c, p)
		if err != nil {
			return err
		}
		args = append(args, p.Name, p.InstallStatus)

		result, err := c.exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update pacscript %s: %w", p.Key(), classify(err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("pacscript %s: %w", p.Key(), ErrNotFound)
		}

		if err := unlinkDependencies(ctx, c, p.Key()); err != nil {
			return err
		}
		return linkDependencies(ctx, c, p)
	})
}

// GetPacscript retrieves one row by its key.
func (s *Store) GetPacscript(ctx context.Context, name string, status pacscript.InstallStatus) (*pacscript.Pacscript, error) {
	var p *pacscript.Pacscript
	err := s.withTx(ctx, func(c conn) error {
		var err error
		p, err = getPacscript(ctx, c, pacscript.Key{Name: name, Status: status})
		return err
	})
	return p, err
}

// QueryByName returns every row sharing name, ordered by install status.
func (s *Store) QueryByName(ctx context.Context, name string) ([]*pacscript.Pacscript, error) {
	query := `SELECT ` + pacscriptColumns + ` FROM pacscript WHERE name = ? ORDER BY ` + statusOrder
	return s.selectPacscripts(ctx, query, name)
}

// QueryByStatus returns every row with the given status, ordered by name.
func (s *Store) QueryByStatus(ctx context.Context, status pacscript.InstallStatus) ([]*pacscript.Pacscript, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid install status %d", int(status))
	}
	query := `SELECT ` + pacscriptColumns + ` FROM pacscript WHERE install_status = ? ORDER BY name`
	return s.selectPacscripts(ctx, query, status)
}

// ListPacscripts returns the rows matching f, ordered by name then status.
func (s *Store) ListPacscripts(ctx context.Context, f Filter) ([]*pacscript.Pacscript, error) {
	var where []string
	var args []any

	if f.Status != nil {
		where = append(where, "install_status = ?")
		args = append(args, *f.Status)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Name != "" {
		where = append(where, `LOWER(name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+strings.ToLower(escapeLike(f.Name))+"%")
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + pacscriptColumns + ` FROM pacscript`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY name, " + statusOrder)

	switch {
	case f.Limit > 0:
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	case f.Offset > 0 && !s.postgres:
		// SQLite only accepts OFFSET after a LIMIT clause.
		sb.WriteString(" LIMIT -1")
	}
	if f.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, f.Offset)
	}

	return s.selectPacscripts(ctx, sb.String(), args...)
}

// TransitionStatus copies the From row to the To status, applies t.Update and
// removes the From row when t.RemoveOld is set. It returns the new row.
func (s *Store) TransitionStatus(ctx context.Context, t Transition) (*pacscript.Pacscript, error) {
	if !t.From.Valid() || !t.To.Valid() {
		return nil, fmt.Errorf("invalid transition %s -> %s", t.From, t.To)
	}
	if t.From == t.To {
		return nil, fmt.Errorf("pacscript %s: %w: transition to the same status",
			pacscript.Key{Name: t.Name, Status: t.To}, ErrDuplicateRecord)
	}

	var next *pacscript.Pacscript
	err := s.withTx(ctx, func(c conn) error {
		from := pacscript.Key{Name: t.Name, Status: t.From}
		current, err := getPacscript(ctx, c, from)
		if err != nil {
			return err
		}

		next = current.Clone()
		next.InstallStatus = t.To
		if t.Update != nil {
			t.Update(next)
		}
		next.Name = t.Name
		next.InstallStatus = t.To

		if err := validatePacscript(next); err != nil {
			return err
		}
		if err := insertPacscript(ctx, c, next); err != nil {
			return err
		}

		if t.RemoveOld {
			return deletePacscript(ctx, c, from)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// DeletePacscript removes one row. Its dependency links go with it; catalog
// entries stay until PruneDependencies.
func (s *Store) DeletePacscript(ctx context.Context, name string, status pacscript.InstallStatus) error {
	return s.withTx(ctx, func(c conn) error {
		return deletePacscript(ctx, c, pacscript.Key{Name: name, Status: status})
	})
}

func validatePacscript(p *pacscript.Pacscript) error {
	if !p.InstallStatus.Valid() {
		return &FieldError{Key: p.Key().String(), Field: "install_status"}
	}
	if field := p.MissingField(); field != "" {
		return &FieldError{Key: p.Key().String(), Field: field}
	}
	if p.InstalledSize != nil && *p.InstalledSize < 0 {
		return &FieldError{Key: p.Key().String(), Field: "installed_size"}
	}
	for _, kind := range pacscript.DependencyKinds {
		for _, name := range p.Dependencies(kind) {
			if name == "" || strings.TrimSpace(name) != name {
				return &FieldError{Key: p.Key().String(), Field: kind.String() + "_dependencies"}
			}
		}
	}
	return nil
}

func checkSource(ctx context.Context, c conn, p *pacscript.Pacscript) error {
	if p.Source == "" {
		return nil
	}
	if _, err := getSource(ctx, c, p.Source); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("pacscript %s: %w: source %s does not exist", p.Key(), ErrDanglingReference, p.Source)
		}
		return err
	}
	return nil
}

func insertPacscript(ctx context.Context, c conn, p *pacscript.Pacscript) error {
	if err := checkSource(ctx, c, p); err != nil {
		return err
	}

	args, err := attributeArgs(c, p)
	if err != nil {
		return err
	}
	args = append([]any{p.Name, p.InstallStatus}, args...)

	query := `
		INSERT INTO pacscript (name, install_status, version, url, homepage, description, repology,
			maintainer, source, installed_size, download_size, date,
			apt_optional_dependencies, pacscript_optional_dependencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := c.exec(ctx, query, args...); err != nil {
		err = classify(err)
		if errors.Is(err, ErrDuplicateRecord) {
			return fmt.Errorf("pacscript %s: %w", p.Key(), err)
		}
		return fmt.Errorf("failed to insert pacscript %s: %w", p.Key(), err)
	}

	return linkDependencies(ctx, c, p)
}

// attributeArgs returns the non-key columns in pacscriptColumns order.
func attributeArgs(c conn, p *pacscript.Pacscript) ([]any, error) {
	repology, err := encodeMap(p.Repology)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal repology for %s: %w", p.Key(), err)
	}
	aptOptional, err := encodeMap(p.APTOptionalDependencies)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apt optional dependencies for %s: %w", p.Key(), err)
	}
	pacOptional, err := encodeMap(p.PacscriptOptionalDependencies)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pacscript optional dependencies for %s: %w", p.Key(), err)
	}

	var installedSize any
	if p.InstalledSize != nil {
		installedSize = *p.InstalledSize
	}

	return []any{
		p.Version,
		p.URL,
		nullString(p.Homepage),
		p.Description,
		repology,
		nullString(p.Maintainer),
		nullString(p.Source),
		installedSize,
		p.DownloadSize,
		c.timeArg(p.Date),
		aptOptional,
		pacOptional,
	}, nil
}

func getPacscript(ctx context.Context, c conn, key pacscript.Key) (*pacscript.Pacscript, error) {
	query := `SELECT ` + pacscriptColumns + ` FROM pacscript WHERE name = ? AND install_status = ?`
	p, err := scanPacscript(c.queryRow(ctx, query, key.Name, key.Status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pacscript %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pacscript %s: %w", key, classify(err))
	}
	if err := loadDependencies(ctx, c, p); err != nil {
		return nil, err
	}
	return p, nil
}

// selectPacscripts runs query and loads the dependency links of every row in
// one transaction.
func (s *Store) selectPacscripts(ctx context.Context, query string, args ...any) ([]*pacscript.Pacscript, error) {
	var result []*pacscript.Pacscript
	err := s.withTx(ctx, func(c conn) error {
		rows, err := c.query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query pacscripts: %w", classify(err))
		}

		// Rows are drained before the link queries run on the same connection.
		var list []*pacscript.Pacscript
		for rows.Next() {
			p, err := scanPacscript(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan pacscript row: %w", err)
			}
			list = append(list, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating pacscripts: %w", classify(err))
		}
		rows.Close()

		for _, p := range list {
			if err := loadDependencies(ctx, c, p); err != nil {
				return err
			}
		}
		result = list
		return nil
	})
	return result, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPacscript(row rowScanner) (*pacscript.Pacscript, error) {
	var p pacscript.Pacscript
	var homepage, repology, maintainer, source, aptOptional, pacOptional sql.NullString
	var installedSize sql.NullInt64
	var date string

	err := row.Scan(
		&p.Name,
		&p.InstallStatus,
		&p.Version,
		&p.URL,
		&homepage,
		&p.Description,
		&repology,
		&maintainer,
		&source,
		&installedSize,
		&p.DownloadSize,
		&date,
		&aptOptional,
		&pacOptional,
	)
	if err != nil {
		return nil, err
	}

	p.Homepage = homepage.String
	p.Maintainer = maintainer.String
	p.Source = source.String
	if installedSize.Valid {
		size := installedSize.Int64
		p.InstalledSize = &size
	}

	p.Date, err = parseTime(date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date for %s: %w", p.Key(), err)
	}
	if p.Repology, err = decodeMap(repology); err != nil {
		return nil, fmt.Errorf("failed to unmarshal repology for %s: %w", p.Key(), err)
	}
	if p.APTOptionalDependencies, err = decodeMap(aptOptional); err != nil {
		return nil, fmt.Errorf("failed to unmarshal apt optional dependencies for %s: %w", p.Key(), err)
	}
	if p.PacscriptOptionalDependencies, err = decodeMap(pacOptional); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pacscript optional dependencies for %s: %w", p.Key(), err)
	}

	return &p, nil
}

func deletePacscript(ctx context.Context, c conn, key pacscript.Key) error {
	result, err := c.exec(ctx, `DELETE FROM pacscript WHERE name = ? AND install_status = ?`, key.Name, key.Status)
	if err != nil {
		return fmt.Errorf("failed to delete pacscript %s: %w", key, classify(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pacscript %s: %w", key, ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeMap stores a nil map as NULL and anything else as a JSON object.
func encodeMap(m map[string]string) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeMap(s sql.NullString) (map[string]string, error) {
	if !s.Valid {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
