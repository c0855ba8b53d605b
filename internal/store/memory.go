package store

import (
	"context"
	"slices"
	"sync"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

// MemoryStore keeps events in process memory. Uniqueness holds within one
// instance only.
type MemoryStore struct {
	mu     sync.RWMutex
	seen   map[event.Identity]struct{}
	events []event.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[event.Identity]struct{})}
}

func (s *MemoryStore) Insert(_ context.Context, ev event.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	id := ev.Identity()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[id]; dup {
		return DuplicateRejected, nil
	}
	s.seen[id] = struct{}{}
	s.events = append(s.events, ev)
	return Inserted, nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]DayBucket, error) {
	s.mu.RLock()
	var out []event.Event
	for _, ev := range s.events {
		if q.match(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b event.Event) int { return a.Timestamp.Compare(b.Timestamp) })
	return groupByDay(out), nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
