// Package config loads, resolves and validates the pacstall configuration
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultPath is where pacstall keeps its configuration.
	DefaultPath = "/etc/pacstall/config.toml"

	// EnvPath overrides DefaultPath.
	EnvPath = "PACSTALL_CONFIG"

	// DefaultEditor is used when neither the file nor the environment names
	// an editor.
	DefaultEditor = "sensible-editor"

	// OfficialRepository is the source name the validator expects to find.
	OfficialRepository = "official"
)

var (
	ErrMissingConfigValue = errors.New("missing config value")
	ErrInvalidSourceURL   = errors.New("invalid source URL")
	ErrInvalidType        = errors.New("invalid config value type")
)

// defaultFile is written when the config file does not exist yet.
const defaultFile = `# pacstall configuration

[settings]
# jobs = 4
# editor = "nvim"

[repository]
official = "https://raw.githubusercontent.com/pacstall/pacstall-programs/master"
`

// Document is a parsed config file: TOML tables decode to Document-shaped
// maps, integers to int64 and strings to string.
type Document map[string]any

// Settings are the resolved runtime settings.
type Settings struct {
	Jobs   int    `json:"jobs" yaml:"jobs"`
	Editor string `json:"editor" yaml:"editor"`
}

// Config is a loaded config file.
type Config struct {
	Path     string   `json:"path" yaml:"path"`
	Raw      Document `json:"-" yaml:"-"`
	Settings Settings `json:"settings" yaml:"settings"`
}

// Path returns the config file location, honoring PACSTALL_CONFIG.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Parse decodes a TOML document.
func Parse(data []byte) (Document, error) {
	doc := Document{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return doc, nil
}

// Load reads the config file at path, creating it with defaults if it does
// not exist, and resolves its settings against the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultFile), 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		data = []byte(defaultFile)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	settings, err := Resolve(doc, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Config{Path: path, Raw: doc, Settings: settings}, nil
}

// Resolve computes Settings from doc. The editor falls back to $EDITOR, then
// $VISUAL, then DefaultEditor; a variable that is set counts even when empty.
// Jobs falls back to the number of CPUs.
func Resolve(doc Document, lookupEnv func(string) (string, bool)) (Settings, error) {
	var settings map[string]any
	if raw, ok := doc["settings"]; ok {
		table, ok := raw.(map[string]any)
		if !ok {
			return Settings{}, fmt.Errorf("settings: %w: want table, got %s", ErrInvalidType, typeName(raw))
		}
		settings = table
	}

	s := Settings{}

	if raw, ok := settings["jobs"]; ok {
		jobs, ok := raw.(int64)
		if !ok {
			return Settings{}, fmt.Errorf("settings.jobs: %w: want integer, got %s", ErrInvalidType, typeName(raw))
		}
		if jobs < 1 {
			return Settings{}, fmt.Errorf("settings.jobs: %w: must be at least 1, got %d", ErrInvalidType, jobs)
		}
		s.Jobs = int(jobs)
	} else {
		s.Jobs = runtime.NumCPU()
	}

	if raw, ok := settings["editor"]; ok {
		editor, ok := raw.(string)
		if !ok {
			return Settings{}, fmt.Errorf("settings.editor: %w: want string, got %s", ErrInvalidType, typeName(raw))
		}
		s.Editor = editor
	} else if editor, ok := lookupEnv("EDITOR"); ok {
		s.Editor = editor
	} else if editor, ok := lookupEnv("VISUAL"); ok {
		s.Editor = editor
	} else {
		s.Editor = DefaultEditor
	}

	return s, nil
}

// Repositories returns the repository table as source name to URL. Entries
// that are not strings are left out; Validate reports them.
func (c *Config) Repositories() map[string]string {
	return repositories(c.Raw)
}

// RepositoryNames returns the repository names in sorted order.
func (c *Config) RepositoryNames() []string {
	return c.Raw.RepositoryNames()
}

// RepositoryNames returns the keys of the repository table in sorted order,
// whatever their values.
func (d Document) RepositoryNames() []string {
	return sortedKeys(d.table("repository"))
}

func repositories(doc Document) map[string]string {
	repos := make(map[string]string)
	for name, raw := range doc.table("repository") {
		if url, ok := raw.(string); ok {
			repos[name] = url
		}
	}
	return repos
}

// table returns the named top-level table, or nil.
func (d Document) table(name string) map[string]any {
	t, _ := d[name].(map[string]any)
	return t
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeName(v any) string {
	switch v.(type) {
	case map[string]any:
		return "table"
	case []any, []map[string]any:
		return "array"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
