// Package coordinator drives a transaction end to end: per-user
// serialization, trust snapshot, pipeline evaluation, trust update, and —
// only on Approve — channel routing.
//
// Ordering is strict: the verdict and its trust delta are committed before
// any send attempt, so a crash mid-route can duplicate a delivery attempt
// but never leave a delivered transaction without its verdict on record.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/channel"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/payment"
	"github.com/paymesh/paymesh/internal/pipeline"
	"github.com/paymesh/paymesh/internal/scamgraph"
	"github.com/paymesh/paymesh/internal/syncutil"
	"github.com/paymesh/paymesh/internal/traces"
	"github.com/paymesh/paymesh/internal/trust"
)

// Router routes an approved transaction. Satisfied by channel.Router.
type Router interface {
	Route(ctx context.Context, tx *payment.Transaction) (*channel.Result, error)
}

// Outcome is the terminal result of one intake.
type Outcome struct {
	Transaction *payment.Transaction     `json:"transaction"`
	Verdict     *payment.SecurityVerdict `json:"verdict"`
	Status      payment.Status           `json:"status"`
	Channel     string                   `json:"channel,omitempty"`
}

// Coordinator wires pipeline, trust store, and router together.
type Coordinator struct {
	evaluator  *pipeline.Evaluator
	trustStore trust.Store
	trustAlpha float64
	router     Router
	locks      *syncutil.UserMutex
	scamGraph  scamgraph.Client
	auditLog   audit.Log
	logger     *slog.Logger

	// OnSettled runs after a transaction settles over a real channel, to
	// feed the fraud-anomaly baseline.
	OnSettled func(tx *payment.Transaction)
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithScamGraph records rejected flows into the scam graph.
func WithScamGraph(g scamgraph.Client) Option {
	return func(c *Coordinator) { c.scamGraph = g }
}

// WithAuditLog installs the audit sink for trust-update failures.
func WithAuditLog(log audit.Log) Option {
	return func(c *Coordinator) { c.auditLog = log }
}

// New creates a coordinator.
func New(evaluator *pipeline.Evaluator, trustStore trust.Store, trustAlpha float64, router Router, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		evaluator:  evaluator,
		trustStore: trustStore,
		trustAlpha: trustAlpha,
		router:     router,
		locks:      syncutil.NewUserMutex(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process takes a transaction from intake to its terminal status. For a
// single sender, snapshot, evaluation, and trust update run under one lock,
// so concurrent submissions serialize and each evaluation observes the
// previous one's trust delta.
func (c *Coordinator) Process(ctx context.Context, tx *payment.Transaction) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "coordinator.process",
		traces.TransactionID(tx.ID), traces.UserID(tx.Sender))
	defer span.End()

	verdict, err := c.evaluateLocked(ctx, tx)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Transaction: tx, Verdict: verdict}

	switch verdict.Verdict {
	case payment.VerdictReject:
		out.Status = payment.StatusRejected
		c.recordScamEdge(ctx, tx)
		metrics.TransactionsTotal.WithLabelValues(string(out.Status)).Inc()
		return out, nil

	case payment.VerdictReview:
		out.Status = payment.StatusReview
		metrics.TransactionsTotal.WithLabelValues(string(out.Status)).Inc()
		return out, nil
	}

	// Approve: routing happens outside the user lock; it can take the full
	// probe/send budget and must not block the sender's next evaluation.
	res, err := c.router.Route(ctx, tx)
	if err != nil {
		if errors.Is(err, channel.ErrExhausted) {
			// Even the local queue failed. The verdict stands; delivery
			// must be retried by the caller.
			out.Status = payment.StatusReview
			metrics.TransactionsTotal.WithLabelValues("exhausted").Inc()
			return out, fmt.Errorf("route approved transaction: %w", err)
		}
		return out, fmt.Errorf("route approved transaction: %w", err)
	}

	out.Channel = res.Channel.String()
	if res.Queued {
		out.Status = payment.StatusPending
	} else {
		out.Status = payment.StatusSettled
		if c.OnSettled != nil {
			c.OnSettled(tx)
		}
	}
	metrics.TransactionsTotal.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

// evaluateLocked runs snapshot, pipeline, and trust update under the
// sender's lock.
func (c *Coordinator) evaluateLocked(ctx context.Context, tx *payment.Transaction) (*payment.SecurityVerdict, error) {
	unlock, err := c.locks.Lock(ctx, tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("acquire sender lock: %w", err)
	}
	defer unlock()

	snapshot, err := c.trustStore.Read(ctx, tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("read trust snapshot: %w", err)
	}

	verdict := c.evaluator.Evaluate(ctx, tx, snapshot)
	c.commitTrustDelta(ctx, tx, snapshot, verdict)
	return verdict, nil
}

// commitTrustDelta folds the verdict into the sender's profile. A version
// conflict means another writer won the race despite the lock (multi-node
// deployments); the delta is retried once against a fresh snapshot, then the
// verdict stands unrecorded with an audit trail entry.
func (c *Coordinator) commitTrustDelta(ctx context.Context, tx *payment.Transaction, snapshot *trust.Profile, verdict *payment.SecurityVerdict) {
	delta := trust.Delta{
		UserID:          tx.Sender,
		SnapshotVersion: snapshot.Version,
		Verdict:         verdict.Verdict,
		Aggregate:       verdict.Aggregate,
		Alpha:           c.trustAlpha,
	}

	_, err := c.trustStore.Update(ctx, delta)
	if errors.Is(err, trust.ErrConflict) {
		metrics.TrustConflictsTotal.Inc()
		fresh, readErr := c.trustStore.Read(ctx, tx.Sender)
		if readErr == nil {
			delta.SnapshotVersion = fresh.Version
			_, err = c.trustStore.Update(ctx, delta)
		} else {
			err = readErr
		}
	}
	if err == nil {
		return
	}

	c.logger.Error("trust update lost", "txn_id", tx.ID, "user", tx.Sender, "error", err)
	if c.auditLog != nil {
		rec := audit.NewRecord(audit.KindTrustFailure, tx.ID)
		rec.UserID = tx.Sender
		rec.Verdict = string(verdict.Verdict)
		rec.Score = verdict.Aggregate
		rec.Detail = err.Error()
		_ = c.auditLog.Append(ctx, rec)
	}
}

func (c *Coordinator) recordScamEdge(ctx context.Context, tx *payment.Transaction) {
	if c.scamGraph == nil {
		return
	}
	if err := c.scamGraph.RecordRejection(ctx, tx.Sender, tx.Recipient, tx.Amount); err != nil {
		c.logger.Warn("scam graph write failed", "txn_id", tx.ID, "error", err)
	}
}
