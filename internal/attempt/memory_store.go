package attempt

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
}

// NewMemoryStore creates a new in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]*Attempt)}
}

func (s *MemoryStore) Create(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) RecordIPChange(_ context.Context, id, newIP string, prevCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.IPChangeCount != prevCount {
		return ErrConflict
	}
	a.LastKnownIP = newIP
	a.IPChangeCount++
	return nil
}
