package storage

import (
	"context"
	"sync"
	"time"

	"github.com/relayhub/relay-service/internal/domain/event"
)

// MemoryStore is the in-process Sink used by the memory driver and the
// test suites. Append-only, like the postgres adapter: updates and deletes
// land as new rows and the latest index just moves forward.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*event.Event
	latest map[string]int // external id -> index into events
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest: make(map[string]int),
		nextID: 1,
	}
}

func (s *MemoryStore) Save(_ context.Context, ev *event.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.events = append(s.events, &stored)
	if ext := externalID(&stored); ext != "" {
		s.latest[ext] = len(s.events) - 1
	}

	ev.ID = stored.ID
	return stored.ID, nil
}

func (s *MemoryStore) FindLatestVersion(_ context.Context, externalID string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.latest[externalID]
	if !ok {
		return nil, nil
	}
	copied := *s.events[idx]
	return &copied, nil
}

// Len reports how many events have been persisted; diagnostics and tests
// only.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All returns a copy of every stored event in insertion order.
func (s *MemoryStore) All() []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*event.Event, 0, len(s.events))
	for _, ev := range s.events {
		copied := *ev
		out = append(out, &copied)
	}
	return out
}
