package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// env builds a lookup function over a fixed environment.
func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func mustParse(t *testing.T, data string) Document {
	t.Helper()
	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return doc
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		env        map[string]string
		wantJobs   int
		wantEditor string
	}{
		{
			name:       "both set",
			doc:        "[settings]\njobs = 10\neditor = \"nvim\"\n",
			env:        map[string]string{"EDITOR": "vim"},
			wantJobs:   10,
			wantEditor: "nvim",
		},
		{
			name:       "jobs defaults to cpu count",
			doc:        "[settings]\neditor = \"nvim\"\n",
			wantJobs:   runtime.NumCPU(),
			wantEditor: "nvim",
		},
		{
			name:       "editor from VISUAL",
			doc:        "[settings]\njobs = 10\n",
			env:        map[string]string{"VISUAL": "TEST_EDITOR"},
			wantJobs:   10,
			wantEditor: "TEST_EDITOR",
		},
		{
			name:       "editor fallback",
			doc:        "[settings]\njobs = 10\n",
			wantJobs:   10,
			wantEditor: DefaultEditor,
		},
		{
			name:       "EDITOR before VISUAL",
			doc:        "[settings]\njobs = 10\n",
			env:        map[string]string{"EDITOR": "emacs", "VISUAL": "code"},
			wantJobs:   10,
			wantEditor: "emacs",
		},
		{
			name:       "empty EDITOR counts as set",
			doc:        "[settings]\n",
			env:        map[string]string{"EDITOR": "", "VISUAL": "code"},
			wantJobs:   runtime.NumCPU(),
			wantEditor: "",
		},
		{
			name:       "no settings table",
			doc:        "[repository]\nofficial = \"https://example.com\"\n",
			wantJobs:   runtime.NumCPU(),
			wantEditor: DefaultEditor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Resolve(mustParse(t, tt.doc), env(tt.env))
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}
			if s.Jobs != tt.wantJobs {
				t.Errorf("Jobs = %d, want %d", s.Jobs, tt.wantJobs)
			}
			if s.Editor != tt.wantEditor {
				t.Errorf("Editor = %q, want %q", s.Editor, tt.wantEditor)
			}
		})
	}
}

func TestResolve_InvalidTypes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "jobs string", doc: "[settings]\njobs = \"ten\"\n"},
		{name: "jobs zero", doc: "[settings]\njobs = 0\n"},
		{name: "editor integer", doc: "[settings]\neditor = 3\n"},
		{name: "settings not a table", doc: "settings = 5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(mustParse(t, tt.doc), env(nil))
			if !errors.Is(err, ErrInvalidType) {
				t.Errorf("Resolve() error = %v, want ErrInvalidType", err)
			}
		})
	}
}

func TestLoad_CreatesDefaultFile(t *testing.T) {
	t.Setenv("EDITOR", "nano")
	path := filepath.Join(t.TempDir(), "pacstall", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %s, want %s", cfg.Path, path)
	}
	if cfg.Settings.Editor != "nano" {
		t.Errorf("Settings.Editor = %q, want nano", cfg.Settings.Editor)
	}
	if _, ok := cfg.Repositories()[OfficialRepository]; !ok {
		t.Errorf("default config should declare the %s repository, got %v", OfficialRepository, cfg.Repositories())
	}
}

func TestLoad_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[settings]
jobs = 3

[repository]
official = "https://example.com/official"
extra = "https://example.com/extra"
broken = 42
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Settings.Jobs != 3 {
		t.Errorf("Settings.Jobs = %d, want 3", cfg.Settings.Jobs)
	}

	repos := cfg.Repositories()
	if len(repos) != 2 || repos["extra"] != "https://example.com/extra" {
		t.Errorf("Repositories() = %v, want official and extra", repos)
	}

	names := cfg.RepositoryNames()
	want := []string{"broken", "extra", "official"}
	if len(names) != len(want) {
		t.Fatalf("RepositoryNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("RepositoryNames()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[settings\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed TOML")
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %s, want %s", got, DefaultPath)
	}

	t.Setenv(EnvPath, "/tmp/pacstall.toml")
	if got := Path(); got != "/tmp/pacstall.toml" {
		t.Errorf("Path() = %s, want override", got)
	}
}
