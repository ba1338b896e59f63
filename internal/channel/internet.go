package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// connectivity check targets. DNS and HTTP must both answer for the channel
// to count as online; a flapping resolver alone is not connectivity.
var (
	checkHosts = []string{"8.8.8.8:53", "1.1.1.1:53"}
	checkURL   = "http://connectivitycheck.gstatic.com/generate_204"
)

// InternetTransport delivers over the primary online rail: a payment
// gateway reached via HTTPS. Probing verifies real connectivity (DNS dial
// plus an HTTP canary), not just interface state.
type InternetTransport struct {
	gatewayURL string
	client     *http.Client
	dialer     *net.Dialer
}

// NewInternetTransport creates the internet channel against a gateway
// endpoint. An empty endpoint leaves the channel permanently unavailable.
func NewInternetTransport(gatewayURL string) *InternetTransport {
	return &InternetTransport{
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		dialer:     &net.Dialer{},
	}
}

// Type implements Transport.
func (t *InternetTransport) Type() payment.ChannelType { return payment.ChannelInternet }

// Probe checks DNS reachability and an HTTP canary under the probe context.
func (t *InternetTransport) Probe(ctx context.Context) payment.ChannelStatus {
	if t.gatewayURL == "" {
		return payment.StatusUnavailable
	}

	if !t.dnsReachable(ctx) {
		return payment.StatusUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
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
	if resp.StatusCode >= 500 {
		return payment.StatusUnavailable
	}
	return payment.StatusAvailable
}

func (t *InternetTransport) dnsReachable(ctx context.Context) bool {
	for _, host := range checkHosts {
		conn, err := t.dialer.DialContext(ctx, "udp", host)
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}

type gatewayRequest struct {
	TransactionID string  `json:"transactionId"`
	Sender        string  `json:"sender"`
	Recipient     string  `json:"recipient"`
	Amount        float64 `json:"amount"`
	Payload       []byte  `json:"payload,omitempty"`
}

// Send posts the transaction to the gateway. Any non-2xx answer is a
// Failure; the router treats it as one fallback step.
func (t *InternetTransport) Send(ctx context.Context, env payment.Envelope) (payment.SendOutcome, error) {
	tx := env.Transaction
	body, err := json.Marshal(gatewayRequest{
		TransactionID: tx.ID,
		Sender:        tx.Sender,
		Recipient:     tx.Recipient,
		Amount:        tx.Amount,
		Payload:       tx.Payload,
	})
	if err != nil {
		return payment.SendFailure, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.gatewayURL, bytes.NewReader(body))
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
