package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/channel"
	"github.com/paymesh/paymesh/internal/oracle"
	"github.com/paymesh/paymesh/internal/payment"
	"github.com/paymesh/paymesh/internal/pipeline"
	"github.com/paymesh/paymesh/internal/scamgraph"
	"github.com/paymesh/paymesh/internal/trust"
)

type fakeRouter struct {
	calls atomic.Int64
	res   *channel.Result
	err   error
}

func (f *fakeRouter) Route(_ context.Context, _ *payment.Transaction) (*channel.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &channel.Result{Channel: payment.ChannelInternet, Outcome: payment.SendAck}, nil
}

func staticOracle(score float64) oracle.ScoringOracle {
	return oracle.Func(func(_ context.Context, _ oracle.Features) (float64, error) {
		return score, nil
	})
}

func newTestCoordinator(t *testing.T, score float64, router Router, opts ...Option) (*Coordinator, trust.Store) {
	t.Helper()
	params := pipeline.DefaultParams
	params.OracleTimeout = 100 * time.Millisecond
	eval := pipeline.NewEvaluator(staticOracle(score), staticOracle(score),
		trust.NewCalculator(), params, slog.Default())
	store := trust.NewMemoryStore()
	return New(eval, store, 0.2, router, slog.Default(), opts...), store
}

func TestProcess_ApproveRoutesAndSettles(t *testing.T) {
	router := &fakeRouter{}
	c, _ := newTestCoordinator(t, 0.1, router)

	var settled atomic.Int64
	c.OnSettled = func(_ *payment.Transaction) { settled.Add(1) }

	out, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Status != payment.StatusSettled {
		t.Fatalf("expected settled, got %s", out.Status)
	}
	if router.calls.Load() != 1 {
		t.Fatalf("expected 1 route call, got %d", router.calls.Load())
	}
	if settled.Load() != 1 {
		t.Fatal("OnSettled should fire for delivered transactions")
	}
}

func TestProcess_RejectNeverRoutes(t *testing.T) {
	router := &fakeRouter{}
	graph := scamgraph.NewMemoryClient()
	c, _ := newTestCoordinator(t, 0.95, router, WithScamGraph(graph))

	out, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Status != payment.StatusRejected {
		t.Fatalf("expected rejected, got %s", out.Status)
	}
	if router.calls.Load() != 0 {
		t.Fatal("rejected transactions must never reach the router")
	}

	edges, err := graph.Neighborhood(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("neighborhood: %v", err)
	}
	if len(edges) != 1 || edges[0].Recipient != "bob" {
		t.Fatalf("expected one alice->bob rejection edge, got %+v", edges)
	}
}

func TestProcess_ReviewSuspendsRouting(t *testing.T) {
	router := &fakeRouter{}
	c, _ := newTestCoordinator(t, 0.5, router)

	out, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Status != payment.StatusReview {
		t.Fatalf("expected review, got %s", out.Status)
	}
	if router.calls.Load() != 0 {
		t.Fatal("transactions under review must not be routed")
	}
}

func TestProcess_QueuedDeliveryIsPending(t *testing.T) {
	router := &fakeRouter{res: &channel.Result{
		Channel: payment.ChannelLocalStorage,
		Outcome: payment.SendAck,
		Queued:  true,
	}}
	c, _ := newTestCoordinator(t, 0.1, router)

	var settled atomic.Int64
	c.OnSettled = func(_ *payment.Transaction) { settled.Add(1) }

	out, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Status != payment.StatusPending {
		t.Fatalf("expected pending, got %s", out.Status)
	}
	if settled.Load() != 0 {
		t.Fatal("queued transactions are not settled")
	}
}

func TestProcess_ExhaustedKeepsVerdict(t *testing.T) {
	router := &fakeRouter{err: channel.ErrExhausted}
	c, _ := newTestCoordinator(t, 0.1, router)

	out, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil))
	if err == nil {
		t.Fatal("expected an error when all channels are exhausted")
	}
	if out == nil || out.Verdict == nil {
		t.Fatal("verdict must survive delivery failure")
	}
	if out.Verdict.Verdict != payment.VerdictApprove {
		t.Fatalf("expected approve verdict, got %s", out.Verdict.Verdict)
	}
}

func TestProcess_TrustDeltaCommitted(t *testing.T) {
	router := &fakeRouter{}
	c, store := newTestCoordinator(t, 0.1, router)

	if _, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil)); err != nil {
		t.Fatalf("process: %v", err)
	}

	p, err := store.Read(context.Background(), "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.TxnCount != 1 || p.ApproveCount != 1 {
		t.Fatalf("expected one approved transaction on record, got %+v", p)
	}
}

// conflictOnce forces a single version conflict to exercise the retry path.
type conflictOnce struct {
	trust.Store
	fired atomic.Bool
}

func (c *conflictOnce) Update(ctx context.Context, d trust.Delta) (*trust.Profile, error) {
	if !c.fired.Swap(true) {
		return nil, trust.ErrConflict
	}
	return c.Store.Update(ctx, d)
}

func TestProcess_TrustConflictRetriesOnce(t *testing.T) {
	params := pipeline.DefaultParams
	params.OracleTimeout = 100 * time.Millisecond
	eval := pipeline.NewEvaluator(staticOracle(0.1), staticOracle(0.1),
		trust.NewCalculator(), params, slog.Default())
	store := &conflictOnce{Store: trust.NewMemoryStore()}
	sink := audit.NewMemorySink()
	c := New(eval, store, 0.2, &fakeRouter{}, slog.Default(), WithAuditLog(sink))

	tx := payment.New("alice", "bob", 10, nil)
	if _, err := c.Process(context.Background(), tx); err != nil {
		t.Fatalf("process: %v", err)
	}

	p, err := store.Read(context.Background(), "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.TxnCount != 1 {
		t.Fatalf("delta should commit on retry, got %+v", p)
	}

	// The retry succeeded, so no trust failure should be on the audit trail.
	recs, _ := sink.ByTransaction(context.Background(), tx.ID)
	for _, r := range recs {
		if r.Kind == audit.KindTrustFailure {
			t.Fatal("successful retry must not audit a trust failure")
		}
	}
}

func TestProcess_SerializesPerSender(t *testing.T) {
	router := &fakeRouter{}
	c, store := newTestCoordinator(t, 0.1, router)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Process(context.Background(), payment.New("alice", "bob", 10, nil)); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := store.Read(context.Background(), "alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.TxnCount != n {
		t.Fatalf("lost trust updates under concurrency: got %d, want %d", p.TxnCount, n)
	}
}
