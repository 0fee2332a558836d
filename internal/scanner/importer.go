package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/blackwell-systems/pacache/internal/pacscript"
	"github.com/blackwell-systems/pacache/internal/store"
)

// ImportSummary counts what an import changed.
type ImportSummary struct {
	Added   int `json:"added" yaml:"added"`
	Updated int `json:"updated" yaml:"updated"`
	Removed int `json:"removed" yaml:"removed"`
}

// Record is one pacscript as published in a listing or a record file.
// Pointer fields tell an absent value from a zero one.
type Record struct {
	Name                          string                  `json:"name"`
	InstallStatus                 pacscript.InstallStatus `json:"install_status"`
	Version                       string                  `json:"version"`
	URL                           string                  `json:"url"`
	Homepage                      string                  `json:"homepage"`
	Description                   string                  `json:"description"`
	Repology                      map[string]string       `json:"repology"`
	Maintainer                    string                  `json:"maintainer"`
	Source                        string                  `json:"source"`
	InstalledSize                 *int64                  `json:"installed_size"`
	DownloadSize                  *int64                  `json:"download_size"`
	Date                          *time.Time              `json:"date"`
	APTDependencies               []string                `json:"apt_dependencies"`
	APTOptionalDependencies       map[string]string       `json:"apt_optional_dependencies"`
	PacscriptDependencies         []string                `json:"pacscript_dependencies"`
	PacscriptOptionalDependencies map[string]string       `json:"pacscript_optional_dependencies"`
}

// Pacscript converts r, failing with a store.FieldError when download_size
// or date is absent.
func (r *Record) Pacscript() (*pacscript.Pacscript, error) {
	key := pacscript.Key{Name: r.Name, Status: r.InstallStatus}
	if r.DownloadSize == nil {
		return nil, &store.FieldError{Key: key.String(), Field: "download_size"}
	}
	if r.Date == nil {
		return nil, &store.FieldError{Key: key.String(), Field: "date"}
	}

	return &pacscript.Pacscript{
		Name:                          r.Name,
		InstallStatus:                 r.InstallStatus,
		Version:                       r.Version,
		URL:                           r.URL,
		Homepage:                      r.Homepage,
		Description:                   r.Description,
		Repology:                      r.Repology,
		Maintainer:                    r.Maintainer,
		Source:                        r.Source,
		InstalledSize:                 r.InstalledSize,
		DownloadSize:                  *r.DownloadSize,
		Date:                          r.Date.UTC(),
		APTDependencies:               r.APTDependencies,
		APTOptionalDependencies:       r.APTOptionalDependencies,
		PacscriptDependencies:         r.PacscriptDependencies,
		PacscriptOptionalDependencies: r.PacscriptOptionalDependencies,
	}, nil
}

// DecodeRecord reads a single JSON record from r.
func DecodeRecord(r io.Reader) (*Record, error) {
	var rec Record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ImportSource reads a JSON array of pacscript records published by
// sourceURL. The source is registered with last_updated set to now, every
// record becomes or refreshes a not-installed row linked to it, and
// not-installed rows the listing no longer carries are removed. Each record
// is written in its own transaction; the first failing record stops the
// import and the summary reports what was done before it.
func (s *Scanner) ImportSource(ctx context.Context, sourceURL string, preference int, r io.Reader) (ImportSummary, error) {
	var summary ImportSummary

	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return summary, fmt.Errorf("failed to decode package list from %s: %w", sourceURL, err)
	}

	src := &pacscript.Source{URL: sourceURL, LastUpdated: s.now(), Preference: preference}
	if err := s.store.UpsertSource(ctx, src); err != nil {
		return summary, fmt.Errorf("failed to register source: %w", err)
	}

	listed := make(map[string]bool, len(records))
	for i := range records {
		// A listing only describes what its source offers.
		records[i].InstallStatus = pacscript.NotInstalled
		records[i].Source = sourceURL
		records[i].InstalledSize = nil

		p, err := records[i].Pacscript()
		if err != nil {
			return summary, fmt.Errorf("record %d: %w", i, err)
		}
		listed[p.Name] = true

		err = s.store.InsertPacscript(ctx, p)
		switch {
		case err == nil:
			summary.Added++
			s.logger.Debug("pacscript added", "name", p.Name, "version", p.Version, "source", sourceURL)
		case errors.Is(err, store.ErrDuplicateRecord):
			if err := s.store.UpdatePacscript(ctx, p); err != nil {
				return summary, fmt.Errorf("record %d: %w", i, err)
			}
			summary.Updated++
			s.logger.Debug("pacscript refreshed", "name", p.Name, "version", p.Version, "source", sourceURL)
		default:
			return summary, fmt.Errorf("record %d: %w", i, err)
		}
	}

	notInstalled := pacscript.NotInstalled
	cached, err := s.store.ListPacscripts(ctx, store.Filter{Status: &notInstalled, Source: sourceURL})
	if err != nil {
		return summary, fmt.Errorf("failed to list cached pacscripts of %s: %w", sourceURL, err)
	}
	for _, p := range cached {
		if listed[p.Name] {
			continue
		}
		if err := s.store.DeletePacscript(ctx, p.Name, p.InstallStatus); err != nil && !errors.Is(err, store.ErrNotFound) {
			return summary, fmt.Errorf("failed to remove stale pacscript %s: %w", p.Key(), err)
		}
		summary.Removed++
		s.logger.Debug("pacscript removed", "name", p.Name, "source", sourceURL)
	}

	s.logger.Info("source imported", "source", sourceURL,
		"added", summary.Added, "updated", summary.Updated, "removed", summary.Removed)

	return summary, nil
}
