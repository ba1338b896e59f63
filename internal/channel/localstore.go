package channel

import (
	"context"

	"github.com/paymesh/paymesh/internal/payment"
)

// LocalStoreTransport is the terminal fallback: it parks the transaction in
// the pending queue for later replay instead of delivering it. Always
// available, so a healthy queue guarantees routing cannot fail outright.
type LocalStoreTransport struct {
	queue Queue
}

// NewLocalStoreTransport creates the local-storage channel over a queue.
func NewLocalStoreTransport(q Queue) *LocalStoreTransport {
	return &LocalStoreTransport{queue: q}
}

// Type implements Transport.
func (t *LocalStoreTransport) Type() payment.ChannelType { return payment.ChannelLocalStorage }

// Probe always reports Available; local storage has no reachability.
func (t *LocalStoreTransport) Probe(_ context.Context) payment.ChannelStatus {
	return payment.StatusAvailable
}

// Send enqueues the transaction for replay. An Ack here means "durably
// parked", not "delivered" — the router marks the result Queued.
func (t *LocalStoreTransport) Send(ctx context.Context, env payment.Envelope) (payment.SendOutcome, error) {
	if err := t.queue.Enqueue(ctx, env.Transaction); err != nil {
		return payment.SendFailure, err
	}
	return payment.SendAck, nil
}
