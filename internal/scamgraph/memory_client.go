package scamgraph

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryClient is the in-memory scam graph used in development and tests.
type MemoryClient struct {
	mu    sync.RWMutex
	edges map[[2]string]*Edge
}

// NewMemoryClient creates an empty in-memory graph.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{edges: make(map[[2]string]*Edge)}
}

// RecordRejection upserts the sender→recipient edge.
func (c *MemoryClient) RecordRejection(_ context.Context, sender, recipient string, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := [2]string{sender, recipient}
	if e, ok := c.edges[key]; ok {
		e.Count++
		e.TotalAmount += amount
		e.LastSeen = time.Now().UTC()
		return nil
	}
	c.edges[key] = &Edge{
		Sender:      sender,
		Recipient:   recipient,
		Count:       1,
		TotalAmount: amount,
		LastSeen:    time.Now().UTC(),
	}
	return nil
}

// Neighborhood returns the edges touching the party, newest first.
func (c *MemoryClient) Neighborhood(_ context.Context, party string, limit int) ([]Edge, error) {
	if limit <= 0 {
		limit = 50
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Edge
	for _, e := range c.edges {
		if e.Sender == party || e.Recipient == party {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (c *MemoryClient) Close(_ context.Context) error { return nil }
