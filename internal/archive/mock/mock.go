// Package mock provides an in-memory test double for [archive.Store].
//
// Example:
//
//	store := &mock.Store{}
//	// inject store into the session manager …
//	if got := len(store.Saved()); got != 1 {
//	    t.Errorf("expected 1 saved transcript, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/lingolens/internal/archive"
)

// Ensure Store implements archive.Store at compile time.
var _ archive.Store = (*Store)(nil)

// Store is a mock implementation of archive.Store backed by a map.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by SaveTranscript and nothing is stored.
	SaveErr error

	records map[string]archive.Record
	saved   []archive.Record
}

// SaveTranscript records rec.
func (s *Store) SaveTranscript(_ context.Context, rec archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.records == nil {
		s.records = make(map[string]archive.Record)
	}
	s.records[rec.SessionID] = rec
	s.saved = append(s.saved, rec)
	return nil
}

// Transcript returns the last record saved for sessionID.
func (s *Store) Transcript(_ context.Context, sessionID string) (archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return archive.Record{}, fmt.Errorf("mock archive: %s: %w", sessionID, archive.ErrNotFound)
	}
	return rec, nil
}

// Saved returns a copy of every successful SaveTranscript call in order.
func (s *Store) Saved() []archive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, len(s.saved))
	copy(out, s.saved)
	return out
}
