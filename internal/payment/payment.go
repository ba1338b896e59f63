// Package payment defines the shared PayMesh data model: transactions,
// transport channels, risk scores, and security verdicts.
//
// A Transaction is immutable once created. It carries at most one
// SecurityVerdict and at most one selected channel over its lifetime;
// both are produced elsewhere (pipeline and router) and never mutated.
package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paymesh/paymesh/internal/idgen"
)

// ChannelType identifies a transport channel. The declaration order is the
// fixed fallback priority: Internet > BluetoothLE > SMS > LocalStorage.
type ChannelType int

const (
	ChannelInternet ChannelType = iota
	ChannelBluetoothLE
	ChannelSMS
	ChannelLocalStorage
)

// Channels returns all channel types in fallback priority order.
func Channels() []ChannelType {
	return []ChannelType{ChannelInternet, ChannelBluetoothLE, ChannelSMS, ChannelLocalStorage}
}

// String returns the channel name.
func (c ChannelType) String() string {
	switch c {
	case ChannelInternet:
		return "internet"
	case ChannelBluetoothLE:
		return "bluetooth_le"
	case ChannelSMS:
		return "sms"
	case ChannelLocalStorage:
		return "local_storage"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// MarshalJSON renders the channel as its name.
func (c ChannelType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// ChannelStatus is the result of probing a single channel. Statuses are
// transient: produced fresh per routing round, never cached across
// transactions.
type ChannelStatus string

const (
	StatusAvailable   ChannelStatus = "available"
	StatusUnavailable ChannelStatus = "unavailable"
	StatusTimedOut    ChannelStatus = "timed_out"
)

// SendOutcome is the result of a send attempt on an available channel.
type SendOutcome string

const (
	SendAck     SendOutcome = "ack"
	SendFailure SendOutcome = "failure"
)

// RiskLayer tags which pipeline stage produced a score.
type RiskLayer string

const (
	LayerPhishing        RiskLayer = "phishing"
	LayerFraudAnomaly    RiskLayer = "fraud_anomaly"
	LayerTrust           RiskLayer = "trust"
	LayerSmsVerification RiskLayer = "sms_verification"
)

// RiskScore is a single layer's contribution: a scalar in [0,1] plus the
// layer tag. Evaluated=false marks a skipped layer (rendered not_evaluated).
type RiskScore struct {
	Layer     RiskLayer `json:"layer"`
	Value     float64   `json:"value"`
	Evaluated bool      `json:"evaluated"`
	Detail    string    `json:"detail,omitempty"`
}

// NotEvaluated returns the skipped-layer score for the given layer.
func NotEvaluated(layer RiskLayer) RiskScore {
	return RiskScore{Layer: layer, Evaluated: false}
}

// Verdict is the terminal pipeline decision for a transaction.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReview  Verdict = "review"
	VerdictReject  Verdict = "reject"
)

// SecurityVerdict is produced exactly once per transaction and is terminal.
// Scores lists the contributing layer scores in evaluation order.
type SecurityVerdict struct {
	TransactionID string      `json:"transactionId"`
	Verdict       Verdict     `json:"verdict"`
	Scores        []RiskScore `json:"scores"`
	Aggregate     float64     `json:"aggregate"`
	Reason        string      `json:"reason,omitempty"`
	DecidedAt     time.Time   `json:"decidedAt"`
}

// Status is the terminal intake state of a transaction.
type Status string

const (
	StatusSettled  Status = "settled"  // approved and delivered over a channel
	StatusPending  Status = "pending"  // approved, queued offline for replay
	StatusReview   Status = "review"   // routing suspended pending manual resolution
	StatusRejected Status = "rejected" // never routed
)

// Transaction is the unit of work. Immutable once created; router and
// pipeline reference it, they never own or mutate it.
type Transaction struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    float64   `json:"amount"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates a transaction with a fresh ID and timestamp.
func New(sender, recipient string, amount float64, payload []byte) *Transaction {
	return &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Envelope is what a transport actually carries: the transaction plus the
// human-readable message for channels that deliver text (SMS).
type Envelope struct {
	Transaction *Transaction
	Message     string
}

// NotificationMessage renders the payment notification text sent over
// text-bearing channels.
func (t *Transaction) NotificationMessage() string {
	return fmt.Sprintf("PayMesh: sending %.2f from %s to %s. TXN: %s.",
		t.Amount, t.Sender, t.Recipient, t.ID)
}
