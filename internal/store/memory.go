package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by tests and as a reference for the
// whole-document semantics the other drivers must match.
type memStore struct {
	mu        sync.Mutex
	dests     map[string]Destination
	reminders map[string]time.Time
	closed    bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		dests:     map[string]Destination{},
		reminders: map[string]time.Time{},
	}
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) Destinations(ctx context.Context) ([]Destination, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Destination, 0, len(s.dests))
	for _, d := range s.dests {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out, nil
}

func (s *memStore) Destination(ctx context.Context, serverID string) (Destination, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Destination{}, false, ErrClosed
	}
	d, ok := s.dests[serverID]
	return d, ok, nil
}

func (s *memStore) UpsertDestination(ctx context.Context, d Destination) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.dests[d.ServerID] = d
	return nil
}

func (s *memStore) RemoveDestination(ctx context.Context, serverID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.dests, serverID)
	return nil
}

func (s *memStore) LastReminder(ctx context.Context, serverID string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	t, ok := s.reminders[serverID]
	return t, ok, nil
}

func (s *memStore) PutReminder(ctx context.Context, serverID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.reminders[serverID] = at.UTC()
	return nil
}
