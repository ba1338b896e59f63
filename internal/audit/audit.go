// Package audit provides the append-only audit trail for routing decisions
// and security verdicts.
//
// Appends are best-effort and buffered: the writer never blocks router or
// pipeline progress. A failed sink append is deferred and retried in the
// background; repeated failure is surfaced through metrics and the health
// registry rather than through the transaction path.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/paymesh/paymesh/internal/idgen"
)

// ErrDeferred reports that a record was accepted but not yet durably
// committed; the writer retries it asynchronously.
var ErrDeferred = errors.New("audit: append deferred")

// Kind classifies an audit record.
type Kind string

const (
	KindRoutingDecision Kind = "routing_decision"
	KindLayerScore      Kind = "layer_score"
	KindVerdict         Kind = "verdict"
	KindTrustFailure    Kind = "trust_update_failed"
	KindReplay          Kind = "replay"
)

// Record is a single append-only audit event. Never mutated or deleted.
type Record struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"` // assigned by the sink, monotonic per process
	Kind          Kind      `json:"kind"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	Layer         string    `json:"layer,omitempty"`
	Verdict       string    `json:"verdict,omitempty"`
	Score         float64   `json:"score,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewRecord creates a record with a fresh ID and timestamp.
func NewRecord(kind Kind, txnID string) *Record {
	return &Record{
		ID:            idgen.WithPrefix("adt_"),
		Kind:          kind,
		TransactionID: txnID,
		CreatedAt:     time.Now().UTC(),
	}
}

// Sink durably stores audit records.
type Sink interface {
	Append(ctx context.Context, rec *Record) error
}

// Querier reads back stored records (memory and postgres sinks only; the
// NATS sink is fire-and-forget fan-out for the dashboard).
type Querier interface {
	ByTransaction(ctx context.Context, txnID string) ([]*Record, error)
	Recent(ctx context.Context, limit int) ([]*Record, error)
}

// Log is the write surface handed to pipeline, router, and coordinator.
type Log interface {
	Append(ctx context.Context, rec *Record) error
}
