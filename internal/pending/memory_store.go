package pending

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// MemoryStore is the in-memory pending queue used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewMemoryStore creates an empty in-memory pending queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

// Enqueue parks the transaction; already-parked transactions are left as is.
func (s *MemoryStore) Enqueue(_ context.Context, tx *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[tx.ID]; ok {
		return nil
	}
	s.items[tx.ID] = &Item{Transaction: tx, QueuedAt: time.Now().UTC()}
	return nil
}

// List returns up to limit items, oldest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0, len(s.items))
	for _, it := range s.items {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAttempt records a failed replay round.
func (s *MemoryStore) MarkAttempt(_ context.Context, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[txnID]; ok {
		it.Attempts++
		it.LastAttempt = time.Now().UTC()
	}
	return nil
}

// Remove deletes a delivered transaction.
func (s *MemoryStore) Remove(_ context.Context, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, txnID)
	return nil
}

// Depth returns the queue size.
func (s *MemoryStore) Depth(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items)), nil
}
