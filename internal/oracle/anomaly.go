package oracle

import (
	"context"
	"math"
	"sync"
	"time"
)

// windowEntry records a single settled transaction for baseline analysis.
type windowEntry struct {
	Amount     float64
	Hour       float64
	ObservedAt time.Time
}

const (
	maxWindowSize  = 1000
	windowDuration = 24 * time.Hour
	minHistory     = 5 // below this, score neutral
)

// BaselineAnomalyOracle is the built-in fallback for the fraud-anomaly
// layer, used when no remote anomaly model endpoint is configured. It keeps
// a per-user sliding window of settled transactions and scores a new one by
// how far its amount deviates from the user's baseline, with a bump for
// transactions at unusual hours.
type BaselineAnomalyOracle struct {
	windows sync.Map // map[string]*userWindow
}

type userWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// NewBaselineAnomalyOracle creates the baseline scorer.
func NewBaselineAnomalyOracle() *BaselineAnomalyOracle {
	return &BaselineAnomalyOracle{}
}

// Score evaluates features against the user's baseline. With fewer than
// minHistory observations the user has no baseline and the score is a
// neutral 0.5 — new users are neither trusted nor condemned.
func (o *BaselineAnomalyOracle) Score(_ context.Context, f Features) (float64, error) {
	w := o.getWindow(f.UserID)
	w.mu.Lock()
	entries := o.liveEntries(w)
	w.mu.Unlock()

	if len(entries) < minHistory {
		return 0.5, nil
	}

	mean, std := amountStats(entries)

	var score float64
	if std > 0 {
		// 2 sigma -> 0.5, 4 sigma -> 1.0
		z := math.Abs(f.Amount-mean) / std
		score = z / 4.0
	} else if f.Amount != mean {
		score = 0.75
	}

	if oddHour(f.Hour) {
		score += 0.25
	}

	return clamp01(math.Round(score*1000) / 1000), nil
}

// Record appends a settled transaction to the user's baseline window.
func (o *BaselineAnomalyOracle) Record(userID string, amount float64, at time.Time) {
	w := o.getWindow(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{
		Amount:     amount,
		Hour:       float64(at.Hour()) + float64(at.Minute())/60.0,
		ObservedAt: at,
	})
	o.pruneWindow(w)
}

func (o *BaselineAnomalyOracle) getWindow(userID string) *userWindow {
	v, _ := o.windows.LoadOrStore(userID, &userWindow{})
	return v.(*userWindow)
}

// liveEntries returns a copy of non-expired entries (caller holds lock).
func (o *BaselineAnomalyOracle) liveEntries(w *userWindow) []windowEntry {
	cutoff := time.Now().Add(-windowDuration)
	result := make([]windowEntry, 0, len(w.entries))
	for _, entry := range w.entries {
		if entry.ObservedAt.After(cutoff) {
			result = append(result, entry)
		}
	}
	return result
}

// pruneWindow removes expired entries and caps size (caller holds lock).
func (o *BaselineAnomalyOracle) pruneWindow(w *userWindow) {
	cutoff := time.Now().Add(-windowDuration)
	start := 0
	for start < len(w.entries) && w.entries[start].ObservedAt.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowSize {
		w.entries = w.entries[len(w.entries)-maxWindowSize:]
	}
}

func amountStats(entries []windowEntry) (mean, std float64) {
	for _, e := range entries {
		mean += e.Amount
	}
	mean /= float64(len(entries))

	var variance float64
	for _, e := range entries {
		d := e.Amount - mean
		variance += d * d
	}
	variance /= float64(len(entries))
	return mean, math.Sqrt(variance)
}

// oddHour reports whether the fractional hour falls outside typical
// transacting hours (07:00-22:00).
func oddHour(hour float64) bool {
	return hour < 7 || hour > 22
}
