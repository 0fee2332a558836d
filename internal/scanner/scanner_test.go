package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/pacache/internal/pacscript"
	"github.com/blackwell-systems/pacache/internal/store"
)

const sourceURL = "https://pacstall.dev/packagelist"

var testDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	return s
}

func newTestScanner(t *testing.T) (*Scanner, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	sc := New(s)
	sc.now = func() time.Time { return testDate }
	return sc, s
}

func TestNew(t *testing.T) {
	s := setupTestStore(t)

	scanner := New(s)
	if scanner == nil {
		t.Fatal("expected non-nil scanner")
	}
	if scanner.store != s {
		t.Fatal("scanner store does not match provided store")
	}
}

const listing = `[
	{
		"name": "neofetch",
		"version": "7.1.0",
		"url": "https://pacstall.dev/scripts/neofetch.pacscript",
		"description": "system info",
		"download_size": 512,
		"date": "2024-02-01T00:00:00Z",
		"apt_dependencies": ["bash"]
	},
	{
		"name": "fastfetch-git",
		"version": "2.8.0",
		"url": "https://pacstall.dev/scripts/fastfetch-git.pacscript",
		"description": "faster system info",
		"download_size": 0,
		"date": "2024-02-02T00:00:00Z",
		"repology": {"project": "fastfetch"},
		"pacscript_dependencies": ["libfoo"]
	}
]`

func TestImportSource(t *testing.T) {
	sc, s := newTestScanner(t)
	ctx := context.Background()

	summary, err := sc.ImportSource(ctx, sourceURL, 1, strings.NewReader(listing))
	if err != nil {
		t.Fatalf("ImportSource() failed: %v", err)
	}
	if summary != (ImportSummary{Added: 2}) {
		t.Errorf("summary = %+v, want 2 added", summary)
	}

	src, err := s.GetSource(ctx, sourceURL)
	if err != nil {
		t.Fatalf("GetSource() failed: %v", err)
	}
	if src.Preference != 1 || !src.LastUpdated.Equal(testDate) {
		t.Errorf("source = %+v, want preference 1 updated at %v", src, testDate)
	}

	p, err := s.GetPacscript(ctx, "fastfetch-git", pacscript.NotInstalled)
	if err != nil {
		t.Fatalf("GetPacscript() failed: %v", err)
	}
	if p.Source != sourceURL || p.Repology["project"] != "fastfetch" {
		t.Errorf("imported row = %+v", p)
	}
	if len(p.PacscriptDependencies) != 1 || p.PacscriptDependencies[0] != "libfoo" {
		t.Errorf("PacscriptDependencies = %v, want [libfoo]", p.PacscriptDependencies)
	}
}

func TestImportSource_Refresh(t *testing.T) {
	sc, s := newTestScanner(t)
	ctx := context.Background()

	if _, err := sc.ImportSource(ctx, sourceURL, 0, strings.NewReader(listing)); err != nil {
		t.Fatalf("first ImportSource() failed: %v", err)
	}

	refreshed := `[{
		"name": "neofetch",
		"version": "7.2.0",
		"url": "https://pacstall.dev/scripts/neofetch.pacscript",
		"description": "system info",
		"download_size": 600,
		"date": "2024-03-01T00:00:00Z"
	}]`
	summary, err := sc.ImportSource(ctx, sourceURL, 0, strings.NewReader(refreshed))
	if err != nil {
		t.Fatalf("second ImportSource() failed: %v", err)
	}
	if summary != (ImportSummary{Updated: 1, Removed: 1}) {
		t.Errorf("summary = %+v, want 1 updated and 1 removed", summary)
	}

	p, err := s.GetPacscript(ctx, "neofetch", pacscript.NotInstalled)
	if err != nil {
		t.Fatalf("GetPacscript() failed: %v", err)
	}
	if p.Version != "7.2.0" || p.DownloadSize != 600 {
		t.Errorf("refreshed row = %s %d, want 7.2.0 600", p.Version, p.DownloadSize)
	}
	if len(p.APTDependencies) != 0 {
		t.Errorf("APTDependencies = %v, want links replaced", p.APTDependencies)
	}

	if _, err := s.GetPacscript(ctx, "fastfetch-git", pacscript.NotInstalled); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale row should be removed, got %v", err)
	}
}

func TestImportSource_KeepsInstalledRows(t *testing.T) {
	sc, s := newTestScanner(t)
	ctx := context.Background()

	if _, err := sc.ImportSource(ctx, sourceURL, 0, strings.NewReader(listing)); err != nil {
		t.Fatalf("ImportSource() failed: %v", err)
	}
	_, err := s.TransitionStatus(ctx, store.Transition{Name: "neofetch", From: pacscript.NotInstalled, To: pacscript.Direct})
	if err != nil {
		t.Fatalf("TransitionStatus() failed: %v", err)
	}

	if _, err := sc.ImportSource(ctx, sourceURL, 0, strings.NewReader("[]")); err != nil {
		t.Fatalf("ImportSource() of empty listing failed: %v", err)
	}

	if _, err := s.GetPacscript(ctx, "neofetch", pacscript.Direct); err != nil {
		t.Errorf("installed row should survive a refresh: %v", err)
	}
}

func TestImportSource_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{
			name:  "download size",
			data:  `[{"name": "foo", "version": "1", "url": "u", "description": "d", "date": "2024-01-01T00:00:00Z"}]`,
			field: "download_size",
		},
		{
			name:  "date",
			data:  `[{"name": "foo", "version": "1", "url": "u", "description": "d", "download_size": 1}]`,
			field: "date",
		},
		{
			name:  "version",
			data:  `[{"name": "foo", "url": "u", "description": "d", "download_size": 1, "date": "2024-01-01T00:00:00Z"}]`,
			field: "version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, _ := newTestScanner(t)

			_, err := sc.ImportSource(context.Background(), sourceURL, 0, strings.NewReader(tt.data))
			if !errors.Is(err, store.ErrMissingRequiredField) {
				t.Fatalf("ImportSource() error = %v, want ErrMissingRequiredField", err)
			}
			var fieldErr *store.FieldError
			if !errors.As(err, &fieldErr) || fieldErr.Field != tt.field {
				t.Errorf("error %v should name field %s", err, tt.field)
			}
		})
	}
}

func TestImportSource_MalformedJSON(t *testing.T) {
	sc, s := newTestScanner(t)
	ctx := context.Background()

	if _, err := sc.ImportSource(ctx, sourceURL, 0, strings.NewReader(`{"name": "foo"}`)); err == nil {
		t.Fatal("ImportSource() should reject a non-array document")
	}
	if _, err := s.GetSource(ctx, sourceURL); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("source should not be registered on decode failure, got %v", err)
	}
}

func insertInstalled(t *testing.T, s *store.Store, name string, status pacscript.InstallStatus, deps ...string) {
	t.Helper()
	p := &pacscript.Pacscript{
		Name:                  name,
		InstallStatus:         status,
		Version:               "1.0",
		URL:                   "https://pacstall.dev/scripts/" + name,
		Description:           name,
		Date:                  testDate,
		PacscriptDependencies: deps,
	}
	if err := s.InsertPacscript(context.Background(), p); err != nil {
		t.Fatalf("InsertPacscript(%s) failed: %v", name, err)
	}
}

func TestDependencyGraph(t *testing.T) {
	sc, s := newTestScanner(t)

	insertInstalled(t, s, "app", pacscript.Direct, "libfoo", "libbar")
	insertInstalled(t, s, "libfoo", pacscript.Indirect, "libbaz")
	insertInstalled(t, s, "libbar", pacscript.Indirect)
	insertInstalled(t, s, "available", pacscript.NotInstalled, "libfoo")

	graph, err := sc.DependencyGraph(context.Background())
	if err != nil {
		t.Fatalf("DependencyGraph() failed: %v", err)
	}

	if len(graph) != 3 {
		t.Errorf("expected graph with 3 packages, got %d: %v", len(graph), graph)
	}
	if deps := graph["app"]; len(deps) != 2 || deps[0] != "libbar" || deps[1] != "libfoo" {
		t.Errorf("graph[app] = %v, want [libbar libfoo]", deps)
	}
	if _, ok := graph["available"]; ok {
		t.Error("not-installed rows should not appear in the graph")
	}
}

func TestOrphans(t *testing.T) {
	sc, s := newTestScanner(t)

	insertInstalled(t, s, "app", pacscript.Direct, "libfoo")
	insertInstalled(t, s, "libfoo", pacscript.Indirect)
	insertInstalled(t, s, "libold", pacscript.Indirect)
	insertInstalled(t, s, "tool", pacscript.Indirect)
	insertInstalled(t, s, "tool", pacscript.Direct)

	orphans, err := sc.Orphans(context.Background())
	if err != nil {
		t.Fatalf("Orphans() failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "libold" {
		t.Errorf("Orphans() = %v, want [libold]", orphans)
	}
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantField string
	}{
		{
			name:      "missing download size",
			json:      `{"name": "foo", "version": "1", "url": "u", "description": "d", "date": "2024-03-01T10:00:00Z"}`,
			wantField: "download_size",
		},
		{
			name:      "missing date",
			json:      `{"name": "foo", "version": "1", "url": "u", "description": "d", "download_size": 0}`,
			wantField: "date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeRecord(strings.NewReader(tt.json))
			if err != nil {
				t.Fatalf("DecodeRecord failed: %v", err)
			}
			_, err = rec.Pacscript()
			var fieldErr *store.FieldError
			if !errors.As(err, &fieldErr) || fieldErr.Field != tt.wantField {
				t.Errorf("Pacscript() error = %v, want missing %s", err, tt.wantField)
			}
		})
	}

	rec, err := DecodeRecord(strings.NewReader(`{
		"name": "foo", "install_status": "direct", "version": "1", "url": "u",
		"description": "d", "download_size": 0, "installed_size": 2048,
		"date": "2024-03-01T10:00:00Z"
	}`))
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	p, err := rec.Pacscript()
	if err != nil {
		t.Fatalf("Pacscript() failed: %v", err)
	}
	if p.InstallStatus != pacscript.Direct || p.DownloadSize != 0 || p.InstalledSize == nil || *p.InstalledSize != 2048 {
		t.Errorf("Pacscript() = %+v", p)
	}
	if !p.Date.Equal(testDate) {
		t.Errorf("Date = %v, want %v", p.Date, testDate)
	}
}
