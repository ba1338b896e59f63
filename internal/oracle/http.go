package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPOracle calls a remote model-serving endpoint. The endpoint accepts the
// Features record as JSON and responds with {"score": <float>}.
type HTTPOracle struct {
	url    string
	budget time.Duration
	client *http.Client
}

// NewHTTPOracle creates an oracle client with a per-call time budget.
func NewHTTPOracle(url string, budget time.Duration) *HTTPOracle {
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return &HTTPOracle{
		url:    url,
		budget: budget,
		client: &http.Client{Timeout: budget},
	}
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score posts the features and returns the model's score. Budget breaches
// map to ErrTimeout, everything else to ErrUnavailable.
func (o *HTTPOracle) Score(ctx context.Context, f Features) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	body, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("%w: encode features: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if sr.Score < 0 || sr.Score > 1 {
		return 0, fmt.Errorf("%w: score %v out of range", ErrUnavailable, sr.Score)
	}
	return sr.Score, nil
}
