// Package pending holds approved transactions that could not be delivered
// over any real channel. They are parked durably and replayed once
// connectivity returns.
//
// Enqueue is idempotent per transaction ID: the replayer routes a parked
// transaction back through the full channel stack, and a still-offline mesh
// simply re-parks it without duplicating the row.
package pending

import (
	"context"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// Item is one parked transaction plus its replay bookkeeping.
type Item struct {
	Transaction *payment.Transaction `json:"transaction"`
	QueuedAt    time.Time            `json:"queuedAt"`
	Attempts    int                  `json:"attempts"`
	LastAttempt time.Time            `json:"lastAttempt,omitempty"`
}

// Store is the durable pending queue. It satisfies channel.Queue through
// Enqueue.
type Store interface {
	// Enqueue parks the transaction. Re-enqueueing an already-parked
	// transaction is a no-op.
	Enqueue(ctx context.Context, tx *payment.Transaction) error
	// List returns up to limit parked items, oldest first.
	List(ctx context.Context, limit int) ([]*Item, error)
	// MarkAttempt records one failed replay round for the transaction.
	MarkAttempt(ctx context.Context, txnID string) error
	// Remove deletes a delivered transaction from the queue.
	Remove(ctx context.Context, txnID string) error
	// Depth returns the number of parked transactions.
	Depth(ctx context.Context) (int64, error)
}
