// Package memstore provides an in-memory implementation of ticket.Store.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/casewise/internal/ticket"
	"github.com/linnemanlabs/casewise/internal/triage"
)

// errDuplicate is returned when Create is given an ID already stored.
var errDuplicate = errors.New("duplicate ticket id")

// Store holds tickets in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{tickets: make(map[string]*ticket.Ticket)}
}

// Create stores a copy of t.
func (s *Store) Create(_ context.Context, t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("%w: %s", errDuplicate, t.ID)
	}
	s.tickets[t.ID] = t.Clone()
	return nil
}

// Get retrieves a ticket by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*ticket.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

// List returns copies of matching tickets, newest first.
func (s *Store) List(_ context.Context, f ticket.ListFilter) ([]*ticket.Ticket, error) {
	s.mu.RLock()
	out := make([]*ticket.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateStatus sets the status of a stored ticket and returns a copy.
func (s *Store) UpdateStatus(_ context.Context, id string, status ticket.Status, at time.Time) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	t.Status = status
	t.UpdatedAt = at
	return t.Clone(), true, nil
}

// SaveAnalysis replaces the stored analysis of a ticket.
func (s *Store) SaveAnalysis(_ context.Context, id string, st *triage.State, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return false, nil
	}
	t.Analysis = st
	t.AnalyzedAt = &at
	t.UpdatedAt = at
	// detach from the caller's state
	cp := t.Clone()
	s.tickets[id] = cp
	return true, nil
}
