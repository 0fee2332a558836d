package pacscript

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// InstallStatus is the install state of a pacscript record. It is part of the
// record's identity: a name may have one row per status.
type InstallStatus int

const (
	// NotInstalled marks a source record: metadata about a package that is
	// available to install.
	NotInstalled InstallStatus = iota
	// Direct marks a record the user explicitly installed.
	Direct
	// Indirect marks a record installed only to satisfy a dependency.
	Indirect
)

// Statuses lists every install status in key order.
var Statuses = []InstallStatus{NotInstalled, Direct, Indirect}

var statusNames = [...]string{"not_installed", "direct", "indirect"}

// dbNames are the values persisted in pacscript.install_status.
var dbNames = [...]string{"NOT_INSTALLED", "DIRECT", "INDIRECT"}

// Valid reports whether s is one of the three defined statuses.
func (s InstallStatus) Valid() bool {
	return s >= NotInstalled && s <= Indirect
}

// IsInstalled reports whether the status describes an installed package.
func (s InstallStatus) IsInstalled() bool {
	return s == Direct || s == Indirect
}

func (s InstallStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("InstallStatus(%d)", int(s))
	}
	return statusNames[s]
}

// ParseInstallStatus parses "direct", "DIRECT", "not-installed" and the like.
func ParseInstallStatus(s string) (InstallStatus, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range statusNames {
		if norm == name {
			return InstallStatus(i), nil
		}
	}
	if norm == "notinstalled" || norm == "none" {
		return NotInstalled, nil
	}
	return 0, fmt.Errorf("unknown install status %q (want not_installed, direct or indirect)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s InstallStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid install status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *InstallStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseInstallStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer using the persisted column values.
func (s InstallStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid install status %d", int(s))
	}
	return dbNames[s], nil
}

// Scan implements sql.Scanner.
func (s *InstallStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into InstallStatus", src)
	}
	for i, name := range dbNames {
		if raw == name {
			*s = InstallStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown persisted install status %q", raw)
}
