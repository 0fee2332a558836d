package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeConcurrency bounds how many repositories are probed at once.
const DefaultProbeConcurrency = 4

// Prober checks that a URL exists. Implementations return the HTTP status
// of a GET without following redirects.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (int, error)
}

// Warnings are non-fatal findings of Validate.
type Warnings []string

// Validator checks the structure of a config document and the reachability
// of its repositories.
type Validator struct {
	prober      Prober
	concurrency int
	logger      *slog.Logger
	onChecked   func(name string, err error)
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithConcurrency sets how many probes run in parallel.
func WithConcurrency(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithProgress registers fn to be called once per repository as soon as its
// check finishes. Calls may come from several goroutines.
func WithProgress(fn func(name string, err error)) ValidatorOption {
	return func(v *Validator) {
		v.onChecked = fn
	}
}

// NewValidator returns a Validator that probes repositories with p.
func NewValidator(p Prober, opts ...ValidatorOption) *Validator {
	v := &Validator{
		prober:      p,
		concurrency: DefaultProbeConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var (
	knownTopLevel = map[string]bool{"settings": true, "repository": true}
	settingTypes  = map[string]string{"jobs": "integer", "editor": "string"}
)

// Validate reports structural errors and unreachable repositories. When
// several repositories fail, the error names the first in sorted order.
func (v *Validator) Validate(ctx context.Context, doc Document) (Warnings, error) {
	var warnings Warnings

	for _, key := range []string{"settings", "repository"} {
		raw, ok := doc[key]
		if !ok {
			return warnings, fmt.Errorf("%s: %w", key, ErrMissingConfigValue)
		}
		if _, ok := raw.(map[string]any); !ok {
			return warnings, fmt.Errorf("%s: %w: want table, got %s", key, ErrInvalidType, typeName(raw))
		}
	}

	for _, key := range sortedKeys(doc) {
		if !knownTopLevel[key] {
			warnings = append(warnings, fmt.Sprintf("unknown top-level key %q", key))
		}
	}

	settings := doc.table("settings")
	for _, key := range sortedKeys(settings) {
		want, known := settingTypes[key]
		if !known {
			warnings = append(warnings, fmt.Sprintf("unknown setting %q", "settings."+key))
			continue
		}
		if got := typeName(settings[key]); got != want {
			return warnings, fmt.Errorf("settings.%s: %w: want %s, got %s", key, ErrInvalidType, want, got)
		}
		if jobs, ok := settings[key].(int64); ok && key == "jobs" && jobs < 1 {
			return warnings, fmt.Errorf("settings.jobs: %w: must be at least 1, got %d", ErrInvalidType, jobs)
		}
	}

	repos := doc.table("repository")
	if _, ok := repos[OfficialRepository]; !ok {
		warnings = append(warnings, fmt.Sprintf("no %q repository configured", OfficialRepository))
	}

	names := sortedKeys(repos)
	results := make([]error, len(names))

	g := new(errgroup.Group)
	g.SetLimit(v.concurrency)
	for i, name := range names {
		raw := repos[name]
		g.Go(func() error {
			results[i] = v.checkRepository(ctx, name, raw)
			if v.onChecked != nil {
				v.onChecked(name, results[i])
			}
			return nil
		})
	}
	g.Wait()

	for _, err := range results {
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

func (v *Validator) checkRepository(ctx context.Context, name string, raw any) error {
	key := "repository." + name

	rawURL, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%s: %w: want string, got %s", key, ErrInvalidSourceURL, typeName(raw))
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %w: %q is not an absolute http(s) URL", key, ErrInvalidSourceURL, rawURL)
	}

	status, err := v.prober.Probe(ctx, rawURL)
	if err != nil {
		v.logger.Debug("repository probe failed", "repository", name, "url", rawURL, "error", err)
		return fmt.Errorf("%s: %w: %s unreachable: %v", key, ErrInvalidSourceURL, rawURL, err)
	}
	v.logger.Debug("repository probed", "repository", name, "url", rawURL, "status", status)

	if !Reachable(status) {
		return fmt.Errorf("%s: %w: %s returned %d", key, ErrInvalidSourceURL, rawURL, status)
	}
	return nil
}

// Reachable reports whether a probe status means the URL exists.
func Reachable(status int) bool {
	switch status {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
		return true
	}
	return false
}
