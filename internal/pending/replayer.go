package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/channel"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/payment"
)

// Deliverer retries delivery of a parked transaction. Satisfied by
// channel.Router.
type Deliverer interface {
	Route(ctx context.Context, tx *payment.Transaction) (*channel.Result, error)
}

// Replayer drains the pending queue in the background. Each round routes
// every parked transaction through the full channel stack; a still-offline
// mesh re-parks it, so a round is always safe to run.
type Replayer struct {
	store     Store
	deliverer Deliverer
	auditLog  audit.Log
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	// OnDelivered runs after a parked transaction finally settles, so the
	// caller can flip its status and feed behavioral baselines.
	OnDelivered func(ctx context.Context, tx *payment.Transaction, ch payment.ChannelType)
}

// NewReplayer creates a replayer over the store.
func NewReplayer(store Store, deliverer Deliverer, interval time.Duration, logger *slog.Logger, auditLog audit.Log) *Replayer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Replayer{
		store:     store,
		deliverer: deliverer,
		auditLog:  auditLog,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

// Run replays the queue on a fixed interval until ctx is cancelled. Call in
// a goroutine.
func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReplayOnce(ctx)
		}
	}
}

// ReplayOnce runs a single replay round. Exported so the intake path can
// trigger an immediate round when connectivity is observed to return.
func (r *Replayer) ReplayOnce(ctx context.Context) {
	items, err := r.store.List(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("pending queue list failed", "error", err)
		return
	}
	r.observeDepth(ctx)
	if len(items) == 0 {
		return
	}

	r.logger.Info("replaying pending transactions", "count", len(items))
	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		r.replayItem(ctx, it)
	}
	r.observeDepth(ctx)
}

func (r *Replayer) replayItem(ctx context.Context, it *Item) {
	tx := it.Transaction

	res, err := r.deliverer.Route(ctx, tx)
	switch {
	case err != nil:
		if !errors.Is(err, channel.ErrExhausted) {
			r.logger.Error("replay routing failed", "txn_id", tx.ID, "error", err)
		}
		metrics.ReplayedTotal.WithLabelValues("failed").Inc()
		_ = r.store.MarkAttempt(ctx, tx.ID)

	case res.Queued:
		// Still offline: the route ended back in local storage.
		metrics.ReplayedTotal.WithLabelValues("requeued").Inc()
		_ = r.store.MarkAttempt(ctx, tx.ID)

	default:
		metrics.ReplayedTotal.WithLabelValues("delivered").Inc()
		if err := r.store.Remove(ctx, tx.ID); err != nil {
			r.logger.Error("pending queue remove failed", "txn_id", tx.ID, "error", err)
		}
		r.audit(ctx, tx, res, it.Attempts)
		if r.OnDelivered != nil {
			r.OnDelivered(ctx, tx, res.Channel)
		}
		r.logger.Info("pending transaction delivered",
			"txn_id", tx.ID, "channel", res.Channel.String(), "attempts", it.Attempts)
	}
}

func (r *Replayer) audit(ctx context.Context, tx *payment.Transaction, res *channel.Result, attempts int) {
	if r.auditLog == nil {
		return
	}
	rec := audit.NewRecord(audit.KindReplay, tx.ID)
	rec.UserID = tx.Sender
	rec.Channel = res.Channel.String()
	rec.Detail = fmt.Sprintf("delivered after %d failed rounds", attempts)
	_ = r.auditLog.Append(ctx, rec)
}

func (r *Replayer) observeDepth(ctx context.Context) {
	if depth, err := r.store.Depth(ctx); err == nil {
		metrics.PendingQueueDepth.Set(float64(depth))
	}
}
