package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// HTTPChallenger runs the SMS verification round through the provider's
// verify endpoint. The provider texts the sender a confirmation prompt and
// holds the request open until the sender answers or the deadline passes.
type HTTPChallenger struct {
	verifyURL string
	client    *http.Client
}

// NewHTTPChallenger creates a challenger against the SMS provider.
func NewHTTPChallenger(providerURL string) *HTTPChallenger {
	return &HTTPChallenger{
		verifyURL: providerURL + "/verify",
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type challengeRequest struct {
	TransactionID string  `json:"transactionId"`
	Sender        string  `json:"sender"`
	Amount        float64 `json:"amount"`
	Prompt        string  `json:"prompt"`
}

type challengeResponse struct {
	Confirmed bool `json:"confirmed"`
}

// Challenge implements Challenger. An unanswered prompt surfaces as
// ErrChallengeTimeout so the caller skips the layer.
func (c *HTTPChallenger) Challenge(ctx context.Context, tx *payment.Transaction) (ChallengeResult, error) {
	body, err := json.Marshal(challengeRequest{
		TransactionID: tx.ID,
		Sender:        tx.Sender,
		Amount:        tx.Amount,
		Prompt:        fmt.Sprintf("Reply YES to confirm sending %.2f to %s. TXN: %s.", tx.Amount, tx.Recipient, tx.ID),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrChallengeTimeout
		}
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
		return "", ErrChallengeTimeout
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sms provider returned %d", resp.StatusCode)
	}

	var out challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Confirmed {
		return ChallengeConfirmed, nil
	}
	return ChallengeDenied, nil
}
