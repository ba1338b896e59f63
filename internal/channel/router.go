package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/circuitbreaker"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/payment"
	"github.com/paymesh/paymesh/internal/traces"
)

// Router selects a delivery channel for an approved transaction.
//
// All transports are probed concurrently with independent timeouts, but
// selection is strictly by channel priority among completed probes — the
// concurrency only bounds latency, it never reorders preference. A channel
// that probes Available but fails its send consumes exactly one fallback
// step; there is no retry within a routing attempt, so the worst case is
// O(channels × per-channel timeout).
type Router struct {
	transports   []Transport // priority order
	probeTimeout time.Duration
	sendTimeout  time.Duration
	breaker      *circuitbreaker.Breaker
	auditLog     audit.Log
	logger       *slog.Logger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithBreaker installs a per-channel circuit breaker consulted before sends.
func WithBreaker(b *circuitbreaker.Breaker) RouterOption {
	return func(r *Router) { r.breaker = b }
}

// WithAuditLog installs the audit sink for routing decisions.
func WithAuditLog(log audit.Log) RouterOption {
	return func(r *Router) { r.auditLog = log }
}

// NewRouter creates a router over transports in priority order.
func NewRouter(transports []Transport, probeTimeout, sendTimeout time.Duration, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		transports:   transports,
		probeTimeout: probeTimeout,
		sendTimeout:  sendTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route probes every channel, then walks the priority order attempting
// delivery. Exhaustion of all real channels parks the transaction in local
// storage with a Pending result — the designed terminal state for total
// connectivity loss, not an error. Only a failing local enqueue returns
// ErrExhausted.
func (r *Router) Route(ctx context.Context, tx *payment.Transaction) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "router.route", traces.TransactionID(tx.ID))
	defer span.End()

	statuses := r.probeAll(ctx)

	env := payment.Envelope{Transaction: tx, Message: tx.NotificationMessage()}

	for _, t := range r.transports {
		ct := t.Type()
		if statuses[ct] != payment.StatusAvailable {
			continue
		}

		// The local queue is the designed terminal fallback; the breaker
		// never gates it.
		if r.breaker != nil && ct != payment.ChannelLocalStorage && !r.breaker.Allow(ct.String()) {
			r.logger.Debug("channel skipped, breaker open", "channel", ct.String(), "txn_id", tx.ID)
			statuses[ct] = payment.StatusUnavailable
			continue
		}

		outcome := r.attemptSend(ctx, t, env)
		if outcome != payment.SendAck {
			// One fallback step consumed; move on, never retry here.
			continue
		}

		span.SetAttributes(traces.Channel(ct.String()))
		result := &Result{
			Channel:  ct,
			Outcome:  payment.SendAck,
			Queued:   ct == payment.ChannelLocalStorage,
			Statuses: statuses,
		}
		r.auditDecision(ctx, tx, result)
		return result, nil
	}

	r.logger.Warn("all channels exhausted", "txn_id", tx.ID)
	return nil, fmt.Errorf("%w: transaction %s", ErrExhausted, tx.ID)
}

// probeAll probes every transport concurrently under independent timeouts.
// A timed-out probe reports TimedOut; caller cancellation maps to
// Unavailable — neither aborts the routing attempt.
func (r *Router) probeAll(ctx context.Context) map[payment.ChannelType]payment.ChannelStatus {
	statuses := make(map[payment.ChannelType]payment.ChannelStatus, len(r.transports))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, t := range r.transports {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			status := r.probeOne(ctx, t)
			metrics.ProbesTotal.WithLabelValues(t.Type().String(), string(status)).Inc()
			mu.Lock()
			statuses[t.Type()] = status
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return statuses
}

func (r *Router) probeOne(ctx context.Context, t Transport) payment.ChannelStatus {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	done := make(chan payment.ChannelStatus, 1)
	go func() { done <- t.Probe(probeCtx) }()

	select {
	case status := <-done:
		return status
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			// Whole-transaction cancellation: treat as Unavailable,
			// never as an error that aborts routing.
			return payment.StatusUnavailable
		}
		return payment.StatusTimedOut
	}
}

func (r *Router) attemptSend(ctx context.Context, t Transport, env payment.Envelope) payment.SendOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	ct := t.Type().String()
	outcome, err := t.Send(sendCtx, env)
	if err != nil || outcome != payment.SendAck {
		metrics.SendsTotal.WithLabelValues(ct, string(payment.SendFailure)).Inc()
		if r.breaker != nil {
			r.breaker.RecordFailure(ct)
		}
		r.logger.Info("send failed, falling back",
			"channel", ct, "txn_id", env.Transaction.ID, "error", err)
		return payment.SendFailure
	}

	metrics.SendsTotal.WithLabelValues(ct, string(payment.SendAck)).Inc()
	if r.breaker != nil {
		r.breaker.RecordSuccess(ct)
	}
	return payment.SendAck
}

func (r *Router) auditDecision(ctx context.Context, tx *payment.Transaction, res *Result) {
	if r.auditLog == nil {
		return
	}
	rec := audit.NewRecord(audit.KindRoutingDecision, tx.ID)
	rec.UserID = tx.Sender
	rec.Channel = res.Channel.String()
	rec.Detail = fmt.Sprintf("outcome=%s queued=%t", res.Outcome, res.Queued)
	_ = r.auditLog.Append(ctx, rec)
}
