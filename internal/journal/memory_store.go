package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rgupta21/vigil/internal/idgen"
)

// MemoryStore implements Store with in-memory storage. Used when no
// DATABASE_URL is configured and throughout the unit tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates a new in-memory journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendBatch(_ context.Context, events []*Event) error {
	if err := validateBatch(events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy before appending so callers cannot mutate stored records.
	for _, e := range events {
		cp := *e
		if cp.ID == "" {
			cp.ID = idgen.WithPrefix("evt_")
		}
		if cp.Timestamp.IsZero() {
			cp.Timestamp = time.Now()
		}
		if e.Metadata != nil {
			md := *e.Metadata
			cp.Metadata = &md
		}
		e.ID = cp.ID
		s.events = append(s.events, &cp)
	}
	return nil
}

func (s *MemoryStore) ListByAttempt(_ context.Context, attemptID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events {
		if e.AttemptID == attemptID {
			cp := *e
			if e.Metadata != nil {
				md := *e.Metadata
				cp.Metadata = &md
			}
			result = append(result, &cp)
		}
	}
	// Stable sort preserves insertion order for equal keys, which keeps
	// a synthesized triplet contiguous.
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (s *MemoryStore) CountByName(_ context.Context, attemptID string, name EventName) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if e.AttemptID == attemptID && e.Name == name {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountsForAttempt(_ context.Context, attemptID string) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, e := range s.events {
		if e.AttemptID != attemptID {
			continue
		}
		c.Total++
		if e.Name.Suspicious() {
			c.Suspicious++
		}
	}
	return c, nil
}

// The methods below exist so that an accidental "edit history" code path
// fails loudly instead of silently no-opping. They are intentionally not
// part of the Store interface.

// Update always fails: journal events are immutable.
func (s *MemoryStore) Update(context.Context, *Event) error { return ErrImmutable }

// UpdateBatch always fails: journal events are immutable.
func (s *MemoryStore) UpdateBatch(context.Context, []*Event) error { return ErrImmutable }

// Delete always fails: journal events are immutable.
func (s *MemoryStore) Delete(context.Context, string) error { return ErrImmutable }

// DeleteBatch always fails: journal events are immutable.
func (s *MemoryStore) DeleteBatch(context.Context, []string) error { return ErrImmutable }
