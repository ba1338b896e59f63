package audit

import (
	"context"
	"sync"
)

// MemorySink stores audit records in memory for demo/testing.
type MemorySink struct {
	mu      sync.RWMutex
	records []*Record
	nextSeq int64
}

// NewMemorySink creates an in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a copy of the record with the next sequence number.
func (s *MemorySink) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	cp := *rec
	cp.Seq = s.nextSeq
	s.records = append(s.records, &cp)
	return nil
}

// ByTransaction returns all records for a transaction in append order.
func (s *MemorySink) ByTransaction(_ context.Context, txnID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Record
	for _, r := range s.records {
		if r.TransactionID == txnID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Recent returns the newest records, newest first.
func (s *MemorySink) Recent(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var result []*Record
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *s.records[i]
		result = append(result, &cp)
	}
	return result, nil
}

// All returns every stored record (for testing).
func (s *MemorySink) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, len(s.records))
	copy(result, s.records)
	return result
}
