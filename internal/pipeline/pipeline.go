// Package pipeline implements the layered security evaluation that gates
// every transaction before routing.
//
// Layers run sequentially in fixed order: phishing, fraud anomaly, trust.
// Each mandatory layer yields a risk scalar in [0,1]; a single critical
// score short-circuits to Reject without consulting later layers. The
// weighted aggregate of the mandatory layers picks the verdict, and only an
// aggregate strictly inside the ambiguous band triggers the optional SMS
// verification layer. Exactly one SecurityVerdict is produced per
// transaction and it is terminal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/oracle"
	"github.com/paymesh/paymesh/internal/payment"
	"github.com/paymesh/paymesh/internal/traces"
	"github.com/paymesh/paymesh/internal/trust"
)

// ChallengeResult is the outcome of one SMS verification round.
type ChallengeResult string

const (
	ChallengeConfirmed ChallengeResult = "confirmed"
	ChallengeDenied    ChallengeResult = "denied"
)

// ErrChallengeTimeout reports that the sender did not answer the challenge
// within the configured window. The pipeline skips the layer and decides
// from the base aggregate.
var ErrChallengeTimeout = errors.New("pipeline: sms challenge timed out")

// Challenger runs an out-of-band SMS confirmation with the sender. The
// verification layer is optional: a nil Challenger marks it not_evaluated.
type Challenger interface {
	Challenge(ctx context.Context, tx *payment.Transaction) (ChallengeResult, error)
}

// Params are the aggregation knobs. Weights cover the three mandatory
// layers and must sum to 1.0; WeightSms blends the verification outcome
// into the base aggregate when the ambiguous band is hit.
type Params struct {
	WeightPhishing     float64
	WeightFraudAnomaly float64
	WeightTrust        float64
	WeightSms          float64

	ApproveThreshold float64 // aggregate <= this approves
	RejectThreshold  float64 // aggregate >= this rejects
	CriticalScore    float64 // one mandatory layer at or above this rejects outright

	OracleTimeout    time.Duration
	ChallengeTimeout time.Duration
}

// DefaultParams mirror the config defaults.
var DefaultParams = Params{
	WeightPhishing:     0.35,
	WeightFraudAnomaly: 0.35,
	WeightTrust:        0.30,
	WeightSms:          0.50,
	ApproveThreshold:   0.30,
	RejectThreshold:    0.70,
	CriticalScore:      0.90,
	OracleTimeout:      2 * time.Second,
	ChallengeTimeout:   30 * time.Second,
}

// Evaluator runs the pipeline. It reads the trust profile only through the
// snapshot the caller hands in; the caller owns snapshot consistency and the
// post-verdict trust update.
type Evaluator struct {
	phishing   oracle.ScoringOracle
	fraud      oracle.ScoringOracle
	calc       *trust.Calculator
	challenger Challenger
	auditLog   audit.Log
	logger     *slog.Logger
	params     Params
}

// EvaluatorOption configures the evaluator.
type EvaluatorOption func(*Evaluator)

// WithChallenger enables the SMS verification layer.
func WithChallenger(c Challenger) EvaluatorOption {
	return func(e *Evaluator) { e.challenger = c }
}

// WithAuditLog installs the audit sink for layer scores and verdicts.
func WithAuditLog(log audit.Log) EvaluatorOption {
	return func(e *Evaluator) { e.auditLog = log }
}

// NewEvaluator creates a pipeline evaluator.
func NewEvaluator(phishing, fraud oracle.ScoringOracle, calc *trust.Calculator, params Params, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		phishing: phishing,
		fraud:    fraud,
		calc:     calc,
		logger:   logger,
		params:   params,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs all layers over the transaction and the caller's trust
// snapshot and returns the terminal verdict. It never returns an error:
// oracle outages degrade to conservative scores and at worst a Review
// verdict, they never block or fail the pipeline.
func (e *Evaluator) Evaluate(ctx context.Context, tx *payment.Transaction, snapshot *trust.Profile) *payment.SecurityVerdict {
	ctx, span := traces.StartSpan(ctx, "pipeline.evaluate", traces.TransactionID(tx.ID), traces.UserID(tx.Sender))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	feats := featuresOf(tx)
	p := e.params

	phishScore, phishFailed := e.scoreOracle(ctx, tx, payment.LayerPhishing, e.phishing, feats)
	if crit := e.critical(phishScore, phishFailed); crit != nil {
		return e.finish(ctx, tx, crit.Verdict, crit.Scores, crit.Aggregate, crit.Reason)
	}

	fraudScore, fraudFailed := e.scoreOracle(ctx, tx, payment.LayerFraudAnomaly, e.fraud, feats)
	if crit := e.critical(fraudScore, fraudFailed); crit != nil {
		crit.Scores = append([]payment.RiskScore{phishScore}, crit.Scores...)
		crit.Aggregate = fraudScore.Value
		return e.finish(ctx, tx, crit.Verdict, crit.Scores, crit.Aggregate, crit.Reason)
	}

	trustScore := payment.RiskScore{
		Layer:     payment.LayerTrust,
		Value:     e.calc.Score(snapshot),
		Evaluated: true,
		Detail:    fmt.Sprintf("txn_count=%d", snapshotCount(snapshot)),
	}
	e.auditLayer(ctx, tx, trustScore)
	if crit := e.critical(trustScore, false); crit != nil {
		crit.Scores = []payment.RiskScore{phishScore, fraudScore, trustScore}
		crit.Aggregate = trustScore.Value
		return e.finish(ctx, tx, crit.Verdict, crit.Scores, crit.Aggregate, crit.Reason)
	}

	base := p.WeightPhishing*phishScore.Value +
		p.WeightFraudAnomaly*fraudScore.Value +
		p.WeightTrust*trustScore.Value

	scores := []payment.RiskScore{phishScore, fraudScore, trustScore}
	oracleFailed := phishFailed || fraudFailed

	verdict, smsScore, final, reason := e.decide(ctx, tx, base)
	scores = append(scores, smsScore)

	// A failed mandatory oracle can never yield Approve, whatever the
	// degraded aggregate says.
	if oracleFailed && verdict == payment.VerdictApprove {
		verdict = payment.VerdictReview
		reason = "mandatory layer oracle failed"
	}

	return e.finish(ctx, tx, verdict, scores, final, reason)
}

// decide maps the base aggregate to a verdict, running the SMS challenge
// only when the aggregate falls strictly inside the ambiguous band.
func (e *Evaluator) decide(ctx context.Context, tx *payment.Transaction, base float64) (payment.Verdict, payment.RiskScore, float64, string) {
	p := e.params

	if base <= p.ApproveThreshold {
		return payment.VerdictApprove, payment.NotEvaluated(payment.LayerSmsVerification), base,
			fmt.Sprintf("aggregate %.3f at or below approve threshold", base)
	}
	if base >= p.RejectThreshold {
		return payment.VerdictReject, payment.NotEvaluated(payment.LayerSmsVerification), base,
			fmt.Sprintf("aggregate %.3f at or above reject threshold", base)
	}

	if e.challenger == nil {
		return payment.VerdictReview, payment.NotEvaluated(payment.LayerSmsVerification), base,
			fmt.Sprintf("aggregate %.3f in ambiguous band, verification unavailable", base)
	}

	smsScore, skipped := e.runChallenge(ctx, tx)
	if skipped {
		return payment.VerdictReview, smsScore, base,
			fmt.Sprintf("aggregate %.3f in ambiguous band, challenge unanswered", base)
	}
	e.auditLayer(ctx, tx, smsScore)

	final := base*(1-p.WeightSms) + smsScore.Value*p.WeightSms
	switch {
	case final <= p.ApproveThreshold:
		return payment.VerdictApprove, smsScore, final, "sender confirmed via sms challenge"
	case final >= p.RejectThreshold:
		return payment.VerdictReject, smsScore, final, "sender denied sms challenge"
	default:
		return payment.VerdictReview, smsScore, final,
			fmt.Sprintf("aggregate %.3f still ambiguous after challenge", final)
	}
}

// runChallenge executes the SMS round under its own deadline. Timeouts and
// transport errors skip the layer rather than deciding anything.
func (e *Evaluator) runChallenge(ctx context.Context, tx *payment.Transaction) (payment.RiskScore, bool) {
	challengeCtx, cancel := context.WithTimeout(ctx, e.params.ChallengeTimeout)
	defer cancel()

	result, err := e.challenger.Challenge(challengeCtx, tx)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrChallengeTimeout) || challengeCtx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		metrics.SmsChallengesTotal.WithLabelValues(outcome).Inc()
		e.logger.Warn("sms challenge skipped", "txn_id", tx.ID, "error", err)
		return payment.NotEvaluated(payment.LayerSmsVerification), true
	}

	score := payment.RiskScore{Layer: payment.LayerSmsVerification, Evaluated: true}
	switch result {
	case ChallengeConfirmed:
		score.Value = 0.0
		score.Detail = "sender confirmed"
		metrics.SmsChallengesTotal.WithLabelValues("confirmed").Inc()
	default:
		score.Value = 1.0
		score.Detail = "sender denied"
		metrics.SmsChallengesTotal.WithLabelValues("denied").Inc()
	}
	return score, false
}

// criticalHit carries a short-circuit Reject decision.
type criticalHit struct {
	Verdict   payment.Verdict
	Scores    []payment.RiskScore
	Aggregate float64
	Reason    string
}

// critical checks the hard per-layer cutoff. Degraded scores from oracle
// failures never short-circuit; they are a Review signal, not evidence.
func (e *Evaluator) critical(score payment.RiskScore, failed bool) *criticalHit {
	if failed || !score.Evaluated || score.Value < e.params.CriticalScore {
		return nil
	}
	return &criticalHit{
		Verdict:   payment.VerdictReject,
		Scores:    []payment.RiskScore{score},
		Aggregate: score.Value,
		Reason:    fmt.Sprintf("critical %s score %.3f", score.Layer, score.Value),
	}
}

// scoreOracle runs one mandatory oracle layer under the oracle budget. A
// failure degrades to the conservative maximum score.
func (e *Evaluator) scoreOracle(ctx context.Context, tx *payment.Transaction, layer payment.RiskLayer, o oracle.ScoringOracle, feats oracle.Features) (payment.RiskScore, bool) {
	ctx, span := traces.StartSpan(ctx, "pipeline.layer", traces.Layer(string(layer)))
	defer span.End()

	oracleCtx, cancel := context.WithTimeout(ctx, e.params.OracleTimeout)
	defer cancel()

	value, err := o.Score(oracleCtx, feats)
	if err != nil {
		kind := "unavailable"
		if errors.Is(err, oracle.ErrTimeout) || oracleCtx.Err() == context.DeadlineExceeded {
			kind = "timeout"
		}
		metrics.OracleFailuresTotal.WithLabelValues(string(layer), kind).Inc()
		e.logger.Error("oracle failed, degrading to max risk",
			"layer", layer, "txn_id", tx.ID, "error", err)
		score := payment.RiskScore{Layer: layer, Value: 1.0, Evaluated: true, Detail: "oracle " + kind}
		e.auditLayer(ctx, tx, score)
		return score, true
	}

	score := payment.RiskScore{Layer: layer, Value: value, Evaluated: true}
	e.auditLayer(ctx, tx, score)
	return score, false
}

// finish pads skipped layers, records the verdict, and emits audit/metrics.
func (e *Evaluator) finish(ctx context.Context, tx *payment.Transaction, verdict payment.Verdict, scores []payment.RiskScore, aggregate float64, reason string) *payment.SecurityVerdict {
	traces.AddAttributes(ctx, traces.Verdict(string(verdict)))
	scores = padScores(scores)

	sv := &payment.SecurityVerdict{
		TransactionID: tx.ID,
		Verdict:       verdict,
		Scores:        scores,
		Aggregate:     aggregate,
		Reason:        reason,
		DecidedAt:     time.Now().UTC(),
	}

	metrics.VerdictsTotal.WithLabelValues(string(verdict)).Inc()
	e.logger.Info("security verdict",
		"txn_id", tx.ID, "verdict", verdict, "aggregate", fmt.Sprintf("%.3f", aggregate), "reason", reason)

	if e.auditLog != nil {
		rec := audit.NewRecord(audit.KindVerdict, tx.ID)
		rec.UserID = tx.Sender
		rec.Verdict = string(verdict)
		rec.Score = aggregate
		rec.Detail = reason
		_ = e.auditLog.Append(ctx, rec)
	}
	return sv
}

func (e *Evaluator) auditLayer(ctx context.Context, tx *payment.Transaction, score payment.RiskScore) {
	if e.auditLog == nil || !score.Evaluated {
		return
	}
	rec := audit.NewRecord(audit.KindLayerScore, tx.ID)
	rec.UserID = tx.Sender
	rec.Layer = string(score.Layer)
	rec.Score = score.Value
	rec.Detail = score.Detail
	_ = e.auditLog.Append(ctx, rec)
}

// padScores fills in not_evaluated entries so every verdict carries all four
// layers in evaluation order.
func padScores(scores []payment.RiskScore) []payment.RiskScore {
	order := []payment.RiskLayer{
		payment.LayerPhishing,
		payment.LayerFraudAnomaly,
		payment.LayerTrust,
		payment.LayerSmsVerification,
	}
	byLayer := make(map[payment.RiskLayer]payment.RiskScore, len(scores))
	for _, s := range scores {
		byLayer[s.Layer] = s
	}
	out := make([]payment.RiskScore, 0, len(order))
	for _, layer := range order {
		if s, ok := byLayer[layer]; ok {
			out = append(out, s)
		} else {
			out = append(out, payment.NotEvaluated(layer))
		}
	}
	return out
}

func featuresOf(tx *payment.Transaction) oracle.Features {
	at := tx.CreatedAt
	return oracle.Features{
		UserID:    tx.Sender,
		Recipient: tx.Recipient,
		Amount:    tx.Amount,
		Hour:      float64(at.Hour()) + float64(at.Minute())/60.0,
		Message:   tx.NotificationMessage(),
	}
}

func snapshotCount(p *trust.Profile) int64 {
	if p == nil {
		return 0
	}
	return p.TxnCount
}
