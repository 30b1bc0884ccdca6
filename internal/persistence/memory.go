package persistence

import (
	"context"
	"sync"
)

// MemoryStore holds the snapshot in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: Snapshot{}}
}

func (s *MemoryStore) LoadAll(_ context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

func (s *MemoryStore) SaveAll(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.Clone()
	return nil
}

func (s *MemoryStore) Mutate(_ context.Context, fn func(Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap.Clone()
	if err := fn(snap); err != nil {
		return err
	}
	s.snap = snap
	return nil
}

func (s *MemoryStore) Close() error { return nil }
