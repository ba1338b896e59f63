package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type blockedSink struct {
	appended atomic.Int64
	fail     atomic.Bool
}

func (s *blockedSink) Append(_ context.Context, _ *Record) error {
	if s.fail.Load() {
		return errors.New("sink down")
	}
	s.appended.Add(1)
	return nil
}

func TestWriter_AppendNeverBlocks(t *testing.T) {
	sink := &blockedSink{}
	w := NewWriter(sink, 4, slog.Default())

	// Without Run draining, fill the buffer and keep appending: the
	// overflow must return immediately with ErrDeferred, not stall.
	var deferred int
	for i := 0; i < 10; i++ {
		done := make(chan error, 1)
		go func() { done <- w.Append(context.Background(), NewRecord(KindVerdict, "txn_1")) }()
		select {
		case err := <-done:
			if errors.Is(err, ErrDeferred) {
				deferred++
			}
		case <-time.After(time.Second):
			t.Fatal("Append blocked")
		}
	}
	if deferred == 0 {
		t.Fatal("expected overflow appends to report ErrDeferred")
	}
}

func TestWriter_CommitsBufferedRecords(t *testing.T) {
	sink := &blockedSink{}
	w := NewWriter(sink, 16, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		if err := w.Append(ctx, NewRecord(KindLayerScore, "txn_1")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return sink.appended.Load() == 5 })
	cancel()
}

func TestWriter_DrainsOnShutdown(t *testing.T) {
	sink := &blockedSink{}
	w := NewWriter(sink, 16, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		if err := w.Append(ctx, NewRecord(KindReplay, "txn_2")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	cancel()
	<-done

	if sink.appended.Load() != 5 {
		t.Fatalf("expected all 5 records drained, got %d", sink.appended.Load())
	}
}

func TestWriter_FanoutFailureDoesNotLoseRecord(t *testing.T) {
	primary := &blockedSink{}
	flaky := &blockedSink{}
	flaky.fail.Store(true)

	w := NewWriter(primary, 16, slog.Default(), WithFanout(flaky))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	if err := w.Append(ctx, NewRecord(KindVerdict, "txn_3")); err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, func() bool { return primary.appended.Load() == 1 })
	cancel()
}

func TestWriter_HealthDegradesOnRepeatedFailure(t *testing.T) {
	sink := &blockedSink{}
	sink.fail.Store(true)

	w := NewWriter(sink, 16, slog.Default(), WithRetry(1, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 4; i++ {
		_ = w.Append(ctx, NewRecord(KindVerdict, "txn_4"))
	}

	check := w.HealthCheck()
	waitFor(t, func() bool { return !check(context.Background()).Healthy })
}

func TestMemorySink_QueriesByTransaction(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	for _, txn := range []string{"txn_a", "txn_b", "txn_a"} {
		if err := sink.Append(ctx, NewRecord(KindLayerScore, txn)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := sink.ByTransaction(ctx, "txn_a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records for txn_a, got %d", len(recs))
	}
	if recs[0].Seq >= recs[1].Seq {
		t.Fatal("records should come back in append order")
	}

	recent, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Seq < recent[1].Seq {
		t.Fatal("recent should return newest first")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
