// Package scamgraph records rejected payment flows as a directed graph for
// fraud-ring analysis.
//
// Every Reject verdict adds (or reinforces) a SENT_TO edge from sender to
// recipient, weighted by occurrence count and total amount. Analysts query
// the graph out of band; the core only ever writes edges and reads simple
// neighborhood summaries.
package scamgraph

import (
	"context"
	"time"
)

// Edge is one sender→recipient rejection flow.
type Edge struct {
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Count       int64     `json:"count"`
	TotalAmount float64   `json:"totalAmount"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Client is the scam graph surface used by the coordinator and API.
type Client interface {
	// RecordRejection upserts the sender→recipient edge, incrementing its
	// count and accumulating the amount.
	RecordRejection(ctx context.Context, sender, recipient string, amount float64) error
	// Neighborhood returns the edges touching the given party, as sender or
	// recipient, up to limit.
	Neighborhood(ctx context.Context, party string, limit int) ([]Edge, error)
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
