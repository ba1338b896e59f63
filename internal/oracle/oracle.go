// Package oracle defines the scoring oracle capability consumed by the
// security pipeline.
//
// An oracle is a stateless scoring function over transaction features,
// returning a risk value in [0,1]. Model training and feature engineering
// happen elsewhere; the pipeline only consumes scores through this
// interface, so any implementation — remote model server, local heuristic,
// test double — can be substituted.
package oracle

import (
	"context"
	"errors"
)

// Features is the structured record an oracle scores.
type Features struct {
	UserID    string  `json:"userId"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Hour      float64 `json:"hour"` // hour-of-day, fractional
	Message   string  `json:"message,omitempty"`
}

// ScoringOracle scores transaction features. Implementations must return
// within the caller's context deadline; a breach is reported as ErrTimeout.
type ScoringOracle interface {
	Score(ctx context.Context, f Features) (float64, error)
}

// Oracle failure modes. The pipeline maps either of these on a mandatory
// layer to a conservative high-risk default plus a Review verdict floor.
var (
	ErrUnavailable = errors.New("oracle: unavailable")
	ErrTimeout     = errors.New("oracle: timed out")
)

// Func adapts a plain function to the ScoringOracle interface.
type Func func(ctx context.Context, f Features) (float64, error)

// Score implements ScoringOracle.
func (fn Func) Score(ctx context.Context, f Features) (float64, error) {
	return fn(ctx, f)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
