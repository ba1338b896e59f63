package trust

import (
	"math"

	"github.com/paymesh/paymesh/internal/payment"
)

// Weights for the trust risk components (must sum to 1.0).
type Weights struct {
	RiskHistory float64 // EWMA of past aggregates
	RejectRate  float64 // rejects in the recent verdict window
	Newness     float64 // lack of history
}

// DefaultWeights lean on observed risk, with reject streaks amplified.
var DefaultWeights = Weights{
	RiskHistory: 0.50,
	RejectRate:  0.30,
	Newness:     0.20,
}

// Calculator derives the trust layer's risk score from a profile snapshot.
// Pure over the snapshot: it never touches the store.
type Calculator struct {
	weights Weights
}

// NewCalculator creates a calculator with the default weights.
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

// NewCalculatorWithWeights creates a calculator with custom weights.
func NewCalculatorWithWeights(w Weights) *Calculator {
	return &Calculator{weights: w}
}

// Score maps a profile snapshot to risk in [0,1]. Users with fewer than 5
// transactions have no meaningful baseline and score a neutral 0.5.
func (c *Calculator) Score(p *Profile) float64 {
	if p == nil || p.TxnCount < 5 {
		return 0.5
	}

	var rejects int
	for _, v := range p.Recent {
		if v == payment.VerdictReject {
			rejects++
		}
	}
	rejectRate := 0.0
	if len(p.Recent) > 0 {
		rejectRate = float64(rejects) / float64(len(p.Recent))
	}

	// Newness decays logarithmically with volume: 5 txns ≈ 0.74, 100 ≈ 0.33,
	// 1000+ ≈ 0.
	newness := 1.0 - math.Log10(float64(p.TxnCount)+1)/3.0
	if newness < 0 {
		newness = 0
	}

	score := c.weights.RiskHistory*p.RiskAverage +
		c.weights.RejectRate*rejectRate +
		c.weights.Newness*newness

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*1000) / 1000
}
