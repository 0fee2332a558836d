// Package scanner feeds parsed source package lists into the cache and
// answers inventory questions that span several rows.
package scanner

import (
	"log/slog"
	"time"

	"github.com/blackwell-systems/pacache/internal/store"
)

// Scanner imports source listings and inspects the cached inventory.
type Scanner struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Scanner instance with the given store.
func New(store *store.Store) *Scanner {
	return &Scanner{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger returns s logging to l.
func (s *Scanner) WithLogger(l *slog.Logger) *Scanner {
	if l != nil {
		s.logger = l
	}
	return s
}
