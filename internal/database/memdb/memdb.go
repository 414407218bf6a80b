// Package memdb is an in-memory database.Plugin, the default backing
// store for cmd/* binaries when no DSN is configured and for tests.
package memdb

import (
	"context"
	"sync"

	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Store is a mutex-guarded in-memory implementation of database.Plugin.
type Store struct {
	mu           sync.Mutex
	reservations map[string]database.Record
	delegations  map[string]database.Record
	slices       map[string]database.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		reservations: make(map[string]database.Record),
		delegations:  make(map[string]database.Record),
		slices:       make(map[string]database.Record),
	}
}

func (s *Store) AddReservation(_ context.Context, r database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[r.ID]; exists {
		return kerrors.New(kerrors.InvalidState, "reservation already persisted")
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *Store) UpdateReservation(_ context.Context, r database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[r.ID]; !exists {
		return kerrors.NotFoundf("reservation", r.ID)
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *Store) RemoveReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, id)
	return nil
}

func (s *Store) GetReservations(_ context.Context, sliceID string) ([]database.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Record
	for _, r := range s.reservations {
		if sliceID == "" || r.SliceID == sliceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AddDelegation(_ context.Context, d database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.delegations[d.ID]; exists {
		return kerrors.New(kerrors.InvalidState, "delegation already persisted")
	}
	s.delegations[d.ID] = d
	return nil
}

func (s *Store) UpdateDelegation(_ context.Context, d database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.delegations[d.ID]; !exists {
		return kerrors.NotFoundf("delegation", d.ID)
	}
	s.delegations[d.ID] = d
	return nil
}

func (s *Store) RemoveDelegation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delegations, id)
	return nil
}

func (s *Store) GetDelegation(_ context.Context, id string) (database.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.delegations[id]
	if !ok {
		return database.Record{}, kerrors.NotFoundf("delegation", id)
	}
	return r, nil
}

func (s *Store) AddSlice(_ context.Context, sl database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slices[sl.ID]; exists {
		return kerrors.New(kerrors.InvalidState, "slice already persisted")
	}
	s.slices[sl.ID] = sl
	return nil
}

func (s *Store) UpdateSlice(_ context.Context, sl database.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slices[sl.ID]; !exists {
		return kerrors.NotFoundf("slice", sl.ID)
	}
	s.slices[sl.ID] = sl
	return nil
}

func (s *Store) RemoveSlice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slices, id)
	return nil
}

func (s *Store) GetSlices(_ context.Context, id string) ([]database.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if r, ok := s.slices[id]; ok {
			return []database.Record{r}, nil
		}
		return nil, nil
	}
	out := make([]database.Record, 0, len(s.slices))
	for _, r := range s.slices {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
