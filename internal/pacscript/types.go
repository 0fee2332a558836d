// Package pacscript defines the records kept in the pacscript metadata cache.
package pacscript

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Source is a remote origin publishing a list of pacscripts.
type Source struct {
	URL         string    `json:"url" yaml:"url"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
	Preference  int       `json:"preference" yaml:"preference"`
}

// Key identifies a single pacscript row.
type Key struct {
	Name   string        `json:"name" yaml:"name"`
	Status InstallStatus `json:"install_status" yaml:"install_status"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s (%s)", k.Name, k.Status)
}

// Pacscript is one row of the cache: a package name at one install status.
type Pacscript struct {
	Name          string        `json:"name" yaml:"name"`
	InstallStatus InstallStatus `json:"install_status" yaml:"install_status"`

	Version     string            `json:"version" yaml:"version"`
	URL         string            `json:"url" yaml:"url"`
	Homepage    string            `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Description string            `json:"description" yaml:"description"`
	Repology    map[string]string `json:"repology,omitempty" yaml:"repology,omitempty"`
	Maintainer  string            `json:"maintainer,omitempty" yaml:"maintainer,omitempty"`

	// Source is the URL of the originating Source, empty for local scripts.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	InstalledSize *int64    `json:"installed_size,omitempty" yaml:"installed_size,omitempty"`
	DownloadSize  int64     `json:"download_size" yaml:"download_size"`
	// Date reads back exactly from SQLite; PostgreSQL keeps microseconds.
	Date          time.Time `json:"date" yaml:"date"`

	// Required dependencies are sets, read back sorted by name.
	APTDependencies               []string          `json:"apt_dependencies,omitempty" yaml:"apt_dependencies,omitempty"`
	APTOptionalDependencies       map[string]string `json:"apt_optional_dependencies,omitempty" yaml:"apt_optional_dependencies,omitempty"`
	PacscriptDependencies         []string          `json:"pacscript_dependencies,omitempty" yaml:"pacscript_dependencies,omitempty"`
	PacscriptOptionalDependencies map[string]string `json:"pacscript_optional_dependencies,omitempty" yaml:"pacscript_optional_dependencies,omitempty"`
}

// Key returns the primary key of the record.
func (p *Pacscript) Key() Key {
	return Key{Name: p.Name, Status: p.InstallStatus}
}

// Clone returns a deep copy of p.
func (p *Pacscript) Clone() *Pacscript {
	c := *p
	if p.InstalledSize != nil {
		size := *p.InstalledSize
		c.InstalledSize = &size
	}
	c.Repology = cloneMap(p.Repology)
	c.APTOptionalDependencies = cloneMap(p.APTOptionalDependencies)
	c.PacscriptOptionalDependencies = cloneMap(p.PacscriptOptionalDependencies)
	if p.APTDependencies != nil {
		c.APTDependencies = append([]string(nil), p.APTDependencies...)
	}
	if p.PacscriptDependencies != nil {
		c.PacscriptDependencies = append([]string(nil), p.PacscriptDependencies...)
	}
	return &c
}

// Dependencies returns the required dependency names of the given kind.
func (p *Pacscript) Dependencies(kind DependencyKind) []string {
	if kind == APTDependency {
		return p.APTDependencies
	}
	return p.PacscriptDependencies
}

// MissingField returns the name of the first required field that is unset,
// or "" when the record is complete.
func (p *Pacscript) MissingField() string {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return "name"
	case p.Version == "":
		return "version"
	case p.URL == "":
		return "url"
	case p.Description == "":
		return "description"
	case p.DownloadSize < 0:
		return "download_size"
	case p.Date.IsZero():
		return "date"
	}
	return ""
}

// NormalizeDependencies returns the names sorted with duplicates and blanks
// removed. It returns nil for an empty result.
func NormalizeDependencies(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// DependencyKind distinguishes dependencies satisfied by the system package
// manager from those satisfied by other pacscripts.
type DependencyKind int

const (
	APTDependency DependencyKind = iota
	PacscriptDependency
)

// DependencyKinds lists both kinds.
var DependencyKinds = []DependencyKind{APTDependency, PacscriptDependency}

func (k DependencyKind) String() string {
	if k == APTDependency {
		return "apt"
	}
	return "pacscript"
}

// MarshalText implements encoding.TextMarshaler.
func (k DependencyKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DependencyKind) UnmarshalText(text []byte) error {
	parsed, err := ParseDependencyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseDependencyKind parses "apt" or "pacscript".
func ParseDependencyKind(s string) (DependencyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apt":
		return APTDependency, nil
	case "pacscript", "pacscripts":
		return PacscriptDependency, nil
	}
	return 0, fmt.Errorf("unknown dependency kind %q (want apt or pacscript)", s)
}

// DependencyUsage is a catalog entry with the number of rows linking to it.
type DependencyUsage struct {
	Kind       DependencyKind `json:"kind" yaml:"kind"`
	Name       string         `json:"name" yaml:"name"`
	Dependents int            `json:"dependents" yaml:"dependents"`
}
