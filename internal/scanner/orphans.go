package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/blackwell-systems/pacache/internal/pacscript"
)

// DependencyGraph maps each installed pacscript name to the pacscripts it
// requires. Rows of both installed statuses are merged by name.
func (s *Scanner) DependencyGraph(ctx context.Context) (map[string][]string, error) {
	installed, err := s.installed(ctx)
	if err != nil {
		return nil, err
	}

	graph := make(map[string][]string)
	for _, p := range installed {
		graph[p.Name] = pacscript.NormalizeDependencies(append(graph[p.Name], p.PacscriptDependencies...))
	}
	return graph, nil
}

// Orphans returns the names of pacscripts installed only as a dependency
// that no installed pacscript requires any more.
func (s *Scanner) Orphans(ctx context.Context) ([]string, error) {
	installed, err := s.installed(ctx)
	if err != nil {
		return nil, err
	}

	required := make(map[string]bool)
	direct := make(map[string]bool)
	for _, p := range installed {
		for _, dep := range p.PacscriptDependencies {
			required[dep] = true
		}
		if p.InstallStatus == pacscript.Direct {
			direct[p.Name] = true
		}
	}

	var orphans []string
	for _, p := range installed {
		if p.InstallStatus != pacscript.Indirect || required[p.Name] || direct[p.Name] {
			continue
		}
		orphans = append(orphans, p.Name)
	}

	sort.Strings(orphans)
	return orphans, nil
}

func (s *Scanner) installed(ctx context.Context) ([]*pacscript.Pacscript, error) {
	var all []*pacscript.Pacscript
	for _, status := range []pacscript.InstallStatus{pacscript.Direct, pacscript.Indirect} {
		rows, err := s.store.QueryByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s pacscripts: %w", status, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}
