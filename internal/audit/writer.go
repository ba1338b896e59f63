package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paymesh/paymesh/internal/health"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/retry"
)

// Writer is the buffered, non-blocking front of the audit trail. Callers
// enqueue; a background goroutine commits to the primary sink with retries
// and fans out to best-effort secondary sinks (NATS, websocket feed).
//
// Appends never block the caller: when the buffer is full the record is
// dropped, counted, and reported through health rather than stalling the
// router or pipeline.
type Writer struct {
	primary  Sink
	fanout   []Sink
	buf      chan *Record
	logger   *slog.Logger
	backlog  atomic.Int64
	failures atomic.Int64 // consecutive primary-commit failures

	maxAttempts int
	baseDelay   time.Duration
}

// WriterOption configures the writer.
type WriterOption func(*Writer)

// WithFanout adds best-effort secondary sinks.
func WithFanout(sinks ...Sink) WriterOption {
	return func(w *Writer) { w.fanout = append(w.fanout, sinks...) }
}

// WithRetry overrides the commit retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) WriterOption {
	return func(w *Writer) {
		w.maxAttempts = maxAttempts
		w.baseDelay = baseDelay
	}
}

// NewWriter creates a writer in front of the primary sink.
func NewWriter(primary Sink, bufferSize int, logger *slog.Logger, opts ...WriterOption) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	w := &Writer{
		primary:     primary,
		buf:         make(chan *Record, bufferSize),
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append enqueues the record. Returns ErrDeferred if the buffer is full and
// the record was dropped; callers treat that as non-fatal.
func (w *Writer) Append(_ context.Context, rec *Record) error {
	select {
	case w.buf <- rec:
		w.backlog.Add(1)
		metrics.AuditBacklog.Set(float64(w.backlog.Load()))
		return nil
	default:
		metrics.AuditDroppedTotal.Inc()
		w.logger.Warn("audit buffer full, record dropped",
			"record", rec.ID, "kind", rec.Kind, "txn_id", rec.TransactionID)
		return fmt.Errorf("%w: buffer full", ErrDeferred)
	}
}

// Run commits buffered records until ctx is cancelled, then drains the
// remaining buffer with a bounded grace period. Call in a goroutine.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case rec := <-w.buf:
			w.commit(ctx, rec)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain flushes whatever is buffered at shutdown, best-effort.
func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-w.buf:
			w.commit(ctx, rec)
		default:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) commit(ctx context.Context, rec *Record) {
	w.backlog.Add(-1)
	metrics.AuditBacklog.Set(float64(w.backlog.Load()))

	err := retry.Do(ctx, w.maxAttempts, w.baseDelay, func() error {
		appendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := w.primary.Append(appendCtx, rec); err != nil {
			metrics.AuditDeferredTotal.Inc()
			return err
		}
		return nil
	})
	if err != nil {
		w.failures.Add(1)
		metrics.AuditDroppedTotal.Inc()
		w.logger.Error("audit record lost after retries",
			"record", rec.ID, "kind", rec.Kind, "error", err)
		return
	}
	w.failures.Store(0)

	// Fan-out is single-attempt: the dashboard feed tolerates gaps.
	for _, sink := range w.fanout {
		if err := sink.Append(ctx, rec); err != nil {
			w.logger.Debug("audit fan-out failed", "record", rec.ID, "error", err)
		}
	}
}

// Backlog returns the number of records buffered but not yet committed.
func (w *Writer) Backlog() int64 {
	return w.backlog.Load()
}

// HealthCheck reports audit trail health: a full buffer or repeated commit
// failures degrade the signal without ever failing transactions.
func (w *Writer) HealthCheck() health.Checker {
	capacity := int64(cap(w.buf))
	return func(_ context.Context) health.Status {
		backlog := w.backlog.Load()
		failures := w.failures.Load()
		healthy := failures < 3 && backlog < capacity*8/10
		detail := ""
		if !healthy {
			detail = fmt.Sprintf("backlog=%d/%d consecutive_failures=%d", backlog, capacity, failures)
		}
		return health.Status{Name: "audit", Healthy: healthy, Detail: detail}
	}
}
