package trust

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps trust profiles in memory for demo/testing.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// Read returns a snapshot of the user's profile, or a default if absent.
func (s *MemoryStore) Read(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return DefaultProfile(userID), nil
	}
	return p.Clone(), nil
}

// Update applies the delta under the version check.
func (s *MemoryStore) Update(_ context.Context, d Delta) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[d.UserID]
	if !ok {
		p = DefaultProfile(d.UserID)
		s.profiles[d.UserID] = p
	}
	if p.Version != d.SnapshotVersion {
		return nil, ErrConflict
	}

	p.apply(d, time.Now().UTC())
	return p.Clone(), nil
}
