// Package trust maintains per-user trust profiles.
//
// A profile is a running behavior summary: monotonic verdict counters, a
// bounded moving average of pipeline aggregates, and a short window of
// recent verdicts. The store exclusively owns profiles; the pipeline reads
// a snapshot before layer one runs and proposes exactly one delta after the
// verdict is terminal. Updates are optimistic: a delta carries the snapshot
// version it was derived from, and a concurrent writer surfaces ErrConflict.
package trust

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// VerdictWindow is the number of recent verdicts retained per profile.
const VerdictWindow = 10

// ErrConflict reports that the profile changed since the snapshot was read.
var ErrConflict = errors.New("trust: profile version conflict")

// Profile is the per-user trust aggregate.
type Profile struct {
	UserID       string            `json:"userId"`
	TxnCount     int64             `json:"txnCount"`
	ApproveCount int64             `json:"approveCount"`
	ReviewCount  int64             `json:"reviewCount"`
	RejectCount  int64             `json:"rejectCount"`
	RiskAverage  float64           `json:"riskAverage"` // EWMA of final aggregates
	Recent       []payment.Verdict `json:"recent"`      // newest last, capped at VerdictWindow
	FirstSeen    time.Time         `json:"firstSeen"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Version      int64             `json:"version"`
}

// DefaultProfile is the profile of a user with no history.
func DefaultProfile(userID string) *Profile {
	return &Profile{UserID: userID}
}

// Clone returns a deep copy, safe to hand out as a snapshot.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Recent = append([]payment.Verdict(nil), p.Recent...)
	return &cp
}

// Delta is the single proposed update derived from one terminal verdict.
type Delta struct {
	UserID          string
	SnapshotVersion int64
	Verdict         payment.Verdict
	Aggregate       float64
	Alpha           float64 // EWMA weight of the new aggregate
}

// apply folds a delta into the profile. Counters only ever increase.
func (p *Profile) apply(d Delta, now time.Time) {
	if p.TxnCount == 0 {
		p.FirstSeen = now
		p.RiskAverage = d.Aggregate
	} else {
		alpha := d.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = 0.2
		}
		p.RiskAverage = (1-alpha)*p.RiskAverage + alpha*d.Aggregate
	}
	p.RiskAverage = math.Round(p.RiskAverage*10000) / 10000

	p.TxnCount++
	switch d.Verdict {
	case payment.VerdictApprove:
		p.ApproveCount++
	case payment.VerdictReview:
		p.ReviewCount++
	case payment.VerdictReject:
		p.RejectCount++
	}

	p.Recent = append(p.Recent, d.Verdict)
	if len(p.Recent) > VerdictWindow {
		p.Recent = p.Recent[len(p.Recent)-VerdictWindow:]
	}

	p.UpdatedAt = now
	p.Version++
}

// Store reads and atomically updates trust profiles.
type Store interface {
	// Read returns the user's profile, or a default profile if absent.
	Read(ctx context.Context, userID string) (*Profile, error)
	// Update applies the delta if the stored version still matches the
	// snapshot version the delta was derived from; otherwise ErrConflict.
	Update(ctx context.Context, d Delta) (*Profile, error)
}
