package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// SMSTransport delivers the human-readable transaction notice over an SMS
// provider. With no provider configured it simulates delivery, which keeps
// development and tests working without carrier credentials.
type SMSTransport struct {
	providerURL string
	client      *http.Client
}

// NewSMSTransport creates the SMS channel. An empty provider URL switches
// the transport to simulation mode.
func NewSMSTransport(providerURL string) *SMSTransport {
	return &SMSTransport{
		providerURL: providerURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Type implements Transport.
func (t *SMSTransport) Type() payment.ChannelType { return payment.ChannelSMS }

// Probe checks the provider health endpoint. Simulation mode is always
// available.
func (t *SMSTransport) Probe(ctx context.Context) payment.ChannelStatus {
	if t.providerURL == "" {
		return payment.StatusAvailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.providerURL+"/health", nil)
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
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payment.StatusUnavailable
	}
	return payment.StatusAvailable
}

type smsSendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers the notification message to the recipient's number. Only the
// human-readable notice travels over SMS; settlement happens out of band.
func (t *SMSTransport) Send(ctx context.Context, env payment.Envelope) (payment.SendOutcome, error) {
	if t.providerURL == "" {
		// Simulated delivery.
		return payment.SendAck, nil
	}

	body, err := json.Marshal(smsSendRequest{
		To:   env.Transaction.Recipient,
		Body: env.Message,
	})
	if err != nil {
		return payment.SendFailure, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.providerURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return payment.SendFailure, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return payment.SendFailure, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return payment.SendFailure, nil
	}
	return payment.SendAck, nil
}
