// Package channel implements multi-channel transaction delivery: transport
// probing, priority-ordered fallback, and the offline local-storage queue.
//
// Transports are the only place channel-specific protocol detail lives; the
// router treats them uniformly through the Transport interface.
package channel

import (
	"context"
	"errors"

	"github.com/paymesh/paymesh/internal/payment"
)

// Transport is a single delivery channel.
//
// Probe reports current reachability and must respect the context deadline;
// results are transient and never cached across transactions. Send attempts
// delivery of one envelope and reports Ack or Failure.
type Transport interface {
	Type() payment.ChannelType
	Probe(ctx context.Context) payment.ChannelStatus
	Send(ctx context.Context, env payment.Envelope) (payment.SendOutcome, error)
}

// Queue accepts transactions for offline storage and later replay. The
// local-storage transport delegates to it.
type Queue interface {
	Enqueue(ctx context.Context, tx *payment.Transaction) error
}

// Routing errors. Probe timeouts and send failures are recovered locally by
// the fallback step and never surfaced unless every channel, including the
// local queue, is exhausted.
var (
	ErrProbeTimeout = errors.New("channel: probe timed out")
	ErrSendFailure  = errors.New("channel: send failed")
	ErrExhausted    = errors.New("channel: all channels exhausted")
)

// Result is the outcome of one routing attempt.
type Result struct {
	Channel  payment.ChannelType                         `json:"channel"`
	Outcome  payment.SendOutcome                         `json:"outcome"`
	Queued   bool                                        `json:"queued"` // true when parked in local storage for replay
	Statuses map[payment.ChannelType]payment.ChannelStatus `json:"statuses"`
}
