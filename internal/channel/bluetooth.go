package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// BluetoothTransport delivers over a local BLE mesh through a co-located
// agent process that owns the radio. The agent exposes a small HTTP surface:
// GET /peers for discovery, POST /send for delivery to a reachable peer.
type BluetoothTransport struct {
	agentURL string
	client   *http.Client
}

// NewBluetoothTransport creates the BLE channel against an agent endpoint.
// An empty endpoint leaves the channel permanently unavailable.
func NewBluetoothTransport(agentURL string) *BluetoothTransport {
	return &BluetoothTransport{
		agentURL: agentURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Type implements Transport.
func (t *BluetoothTransport) Type() payment.ChannelType { return payment.ChannelBluetoothLE }

// Probe asks the agent for discovered peers. No agent or no peers means the
// mesh cannot deliver anything right now.
func (t *BluetoothTransport) Probe(ctx context.Context) payment.ChannelStatus {
	if t.agentURL == "" {
		return payment.StatusUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.agentURL+"/peers", nil)
	if err != nil {
		return payment.StatusUnavailable
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return payment.StatusTimedOut
		}
		return payment.StatusUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return payment.StatusUnavailable
	}

	var peers struct {
		Peers []string `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil || len(peers.Peers) == 0 {
		return payment.StatusUnavailable
	}
	return payment.StatusAvailable
}

type bleSendRequest struct {
	TransactionID string  `json:"transactionId"`
	Recipient     string  `json:"recipient"`
	Amount        float64 `json:"amount"`
	Message       string  `json:"message"`
	Payload       []byte  `json:"payload,omitempty"`
}

// Send hands the envelope to the agent for peer delivery. The agent answers
// 200 only after the peer acknowledged the write.
func (t *BluetoothTransport) Send(ctx context.Context, env payment.Envelope) (payment.SendOutcome, error) {
	tx := env.Transaction
	body, err := json.Marshal(bleSendRequest{
		TransactionID: tx.ID,
		Recipient:     tx.Recipient,
		Amount:        tx.Amount,
		Message:       env.Message,
		Payload:       tx.Payload,
	})
	if err != nil {
		return payment.SendFailure, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.agentURL+"/send", bytes.NewReader(body))
	if err != nil {
		return payment.SendFailure, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return payment.SendFailure, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return payment.SendFailure, nil
	}
	return payment.SendAck, nil
}
