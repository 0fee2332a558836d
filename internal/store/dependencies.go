package store

import (
	"context"
	"fmt"

	"github.com/blackwell-systems/pacache/internal/pacscript"
)

// depTables names the catalog and junction tables of a dependency kind.
type depTables struct {
	catalog string
	link    string
}

func tablesFor(kind pacscript.DependencyKind) depTables {
	if kind == pacscript.APTDependency {
		return depTables{catalog: "aptdependency", link: "aptdependency_pacscript_link"}
	}
	return depTables{catalog: "pacscriptdependency", link: "pacscript_dependencylink"}
}

// Dependency operations

// Dependents returns the keys of every pacscript that requires the named
// dependency, ordered by name then status.
func (s *Store) Dependents(ctx context.Context, kind pacscript.DependencyKind, dependency string) ([]pacscript.Key, error) {
	t := tablesFor(kind)
	query := `
		SELECT pacscript_name, pacscript_install_status
		FROM ` + t.link + `
		WHERE dependency_name = ?
		ORDER BY pacscript_name, CASE pacscript_install_status
			WHEN 'NOT_INSTALLED' THEN 0 WHEN 'DIRECT' THEN 1 ELSE 2 END
	`

	rows, err := s.reader().query(ctx, query, dependency)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents of %s dependency %s: %w", kind, dependency, classify(err))
	}
	defer rows.Close()

	var keys []pacscript.Key
	for rows.Next() {
		var key pacscript.Key
		if err := rows.Scan(&key.Name, &key.Status); err != nil {
			return nil, fmt.Errorf("failed to scan dependent row: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", classify(err))
	}

	return keys, nil
}

// ListDependencies returns the catalog of a kind with the number of pacscript
// rows linking to each entry, ordered by name.
func (s *Store) ListDependencies(ctx context.Context, kind pacscript.DependencyKind) ([]pacscript.DependencyUsage, error) {
	t := tablesFor(kind)
	query := `
		SELECT d.name, COUNT(l.dependency_name)
		FROM ` + t.catalog + ` d
		LEFT JOIN ` + t.link + ` l ON l.dependency_name = d.name
		GROUP BY d.name
		ORDER BY d.name
	`

	rows, err := s.reader().query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s dependencies: %w", kind, classify(err))
	}
	defer rows.Close()

	var deps []pacscript.DependencyUsage
	for rows.Next() {
		u := pacscript.DependencyUsage{Kind: kind}
		if err := rows.Scan(&u.Name, &u.Dependents); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		deps = append(deps, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", classify(err))
	}

	return deps, nil
}

// PruneDependencies deletes catalog entries no pacscript links to and returns
// the number removed per kind.
func (s *Store) PruneDependencies(ctx context.Context) (map[pacscript.DependencyKind]int64, error) {
	removed := make(map[pacscript.DependencyKind]int64, len(pacscript.DependencyKinds))
	err := s.withTx(ctx, func(c conn) error {
		for _, kind := range pacscript.DependencyKinds {
			t := tablesFor(kind)
			query := `DELETE FROM ` + t.catalog + ` WHERE name NOT IN (SELECT dependency_name FROM ` + t.link + `)`
			result, err := c.exec(ctx, query)
			if err != nil {
				return fmt.Errorf("failed to prune %s dependencies: %w", kind, classify(err))
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			removed[kind] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// linkDependencies find-or-creates the catalog entries of p and links them.
func linkDependencies(ctx context.Context, c conn, p *pacscript.Pacscript) error {
	for _, kind := range pacscript.DependencyKinds {
		t := tablesFor(kind)
		for _, name := range pacscript.NormalizeDependencies(p.Dependencies(kind)) {
			_, err := c.exec(ctx, `INSERT INTO `+t.catalog+` (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
			if err != nil {
				return fmt.Errorf("failed to record %s dependency %s: %w", kind, name, classify(err))
			}

			_, err = c.exec(ctx,
				`INSERT INTO `+t.link+` (dependency_name, pacscript_name, pacscript_install_status) VALUES (?, ?, ?)`,
				name, p.Name, p.InstallStatus)
			if err != nil {
				return fmt.Errorf("failed to link pacscript %s to %s dependency %s: %w", p.Key(), kind, name, classify(err))
			}
		}
	}
	return nil
}

func unlinkDependencies(ctx context.Context, c conn, key pacscript.Key) error {
	for _, kind := range pacscript.DependencyKinds {
		t := tablesFor(kind)
		_, err := c.exec(ctx,
			`DELETE FROM `+t.link+` WHERE pacscript_name = ? AND pacscript_install_status = ?`,
			key.Name, key.Status)
		if err != nil {
			return fmt.Errorf("failed to unlink %s dependencies of %s: %w", kind, key, classify(err))
		}
	}
	return nil
}

// loadDependencies fills the required dependency lists of p from the
// junction tables.
func loadDependencies(ctx context.Context, c conn, p *pacscript.Pacscript) error {
	for _, kind := range pacscript.DependencyKinds {
		t := tablesFor(kind)
		rows, err := c.query(ctx,
			`SELECT dependency_name FROM `+t.link+` WHERE pacscript_name = ? AND pacscript_install_status = ? ORDER BY dependency_name`,
			p.Name, p.InstallStatus)
		if err != nil {
			return fmt.Errorf("failed to load %s dependencies of %s: %w", kind, p.Key(), classify(err))
		}

		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan dependency row: %w", err)
			}
			names = append(names, name)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("error iterating dependencies: %w", classify(err))
		}

		if kind == pacscript.APTDependency {
			p.APTDependencies = names
		} else {
			p.PacscriptDependencies = names
		}
	}
	return nil
}
