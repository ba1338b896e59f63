package trust

import (
	"context"
	"testing"

	"github.com/paymesh/paymesh/internal/payment"
)

func TestUpdate_FirstDeltaSeedsProfile(t *testing.T) {
	store := NewMemoryStore()

	p, err := store.Update(context.Background(), Delta{
		UserID:          "alice",
		SnapshotVersion: 0,
		Verdict:         payment.VerdictApprove,
		Aggregate:       0.2,
		Alpha:           0.2,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if p.TxnCount != 1 || p.ApproveCount != 1 {
		t.Fatalf("unexpected counters: %+v", p)
	}
	if p.RiskAverage != 0.2 {
		t.Fatalf("first aggregate should seed the average, got %v", p.RiskAverage)
	}
	if p.Version != 1 {
		t.Fatalf("expected version 1, got %d", p.Version)
	}
	if p.FirstSeen.IsZero() {
		t.Fatal("FirstSeen should be set on first delta")
	}
}

func TestUpdate_EWMAFoldsNewAggregates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p, err := store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: 0,
		Verdict: payment.VerdictApprove, Aggregate: 0.2, Alpha: 0.2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	p, err = store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: p.Version,
		Verdict: payment.VerdictReject, Aggregate: 0.9, Alpha: 0.2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// 0.8*0.2 + 0.2*0.9 = 0.34
	if p.RiskAverage != 0.34 {
		t.Fatalf("expected EWMA 0.34, got %v", p.RiskAverage)
	}
	if p.RejectCount != 1 {
		t.Fatalf("expected 1 reject, got %d", p.RejectCount)
	}
}

func TestUpdate_StaleSnapshotConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: 0,
		Verdict: payment.VerdictApprove, Aggregate: 0.2, Alpha: 0.2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: 0,
		Verdict: payment.VerdictApprove, Aggregate: 0.2, Alpha: 0.2})
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdate_VerdictWindowCapped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var version int64
	for i := 0; i < VerdictWindow+5; i++ {
		p, err := store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: version,
			Verdict: payment.VerdictApprove, Aggregate: 0.1, Alpha: 0.2})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		version = p.Version
	}

	p, _ := store.Read(ctx, "alice")
	if len(p.Recent) != VerdictWindow {
		t.Fatalf("window should cap at %d, got %d", VerdictWindow, len(p.Recent))
	}
}

func TestRead_UnknownUserGetsDefault(t *testing.T) {
	store := NewMemoryStore()

	p, err := store.Read(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.TxnCount != 0 || p.Version != 0 {
		t.Fatalf("expected zero profile, got %+v", p)
	}
}

func TestRead_ReturnsIsolatedSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Update(ctx, Delta{UserID: "alice", SnapshotVersion: 0,
		Verdict: payment.VerdictApprove, Aggregate: 0.1, Alpha: 0.2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap, _ := store.Read(ctx, "alice")
	snap.TxnCount = 999
	snap.Recent = append(snap.Recent, payment.VerdictReject)

	fresh, _ := store.Read(ctx, "alice")
	if fresh.TxnCount != 1 || len(fresh.Recent) != 1 {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}

func TestCalculator_NewUserIsNeutral(t *testing.T) {
	calc := NewCalculator()

	if got := calc.Score(DefaultProfile("alice")); got != 0.5 {
		t.Fatalf("expected neutral 0.5 for new user, got %v", got)
	}
	if got := calc.Score(nil); got != 0.5 {
		t.Fatalf("expected neutral 0.5 for nil profile, got %v", got)
	}
}

func TestCalculator_RejectStreakRaisesRisk(t *testing.T) {
	calc := NewCalculator()

	clean := &Profile{UserID: "alice", TxnCount: 50, RiskAverage: 0.1,
		Recent: []payment.Verdict{payment.VerdictApprove, payment.VerdictApprove}}
	dirty := &Profile{UserID: "mallory", TxnCount: 50, RiskAverage: 0.1,
		Recent: []payment.Verdict{payment.VerdictReject, payment.VerdictReject}}

	if calc.Score(dirty) <= calc.Score(clean) {
		t.Fatalf("reject streak should raise risk: clean=%v dirty=%v",
			calc.Score(clean), calc.Score(dirty))
	}
}

func TestCalculator_VolumeLowersNewness(t *testing.T) {
	calc := NewCalculator()

	young := &Profile{UserID: "a", TxnCount: 5, RiskAverage: 0.1}
	old := &Profile{UserID: "b", TxnCount: 1000, RiskAverage: 0.1}

	if calc.Score(old) >= calc.Score(young) {
		t.Fatalf("volume should lower newness risk: young=%v old=%v",
			calc.Score(young), calc.Score(old))
	}
}
