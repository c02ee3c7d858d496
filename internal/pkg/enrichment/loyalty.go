package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Award describes one loyalty scoring request for a whole transaction.
type Award struct {
	UserID       uint            `json:"user_id"`
	ExpenseID    string          `json:"expense_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Category     string          `json:"category,omitempty"`
	MerchantName string          `json:"merchant_name,omitempty"`
}

type LoyaltyResult struct {
	Success       bool `json:"success"`
	PointsAwarded int  `json:"points_awarded,omitempty"`
}

type LoyaltyScorer interface {
	AwardPoints(ctx context.Context, award Award) (LoyaltyResult, error)
}

// HTTPLoyaltyClient posts awards as JSON to an external loyalty service.
type HTTPLoyaltyClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPLoyaltyClient returns nil when no url is configured.
func NewHTTPLoyaltyClient(url, apiKey string, timeout time.Duration) *HTTPLoyaltyClient {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLoyaltyClient{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLoyaltyClient) AwardPoints(ctx context.Context, award Award) (LoyaltyResult, error) {
	body, err := json.Marshal(award)
	if err != nil {
		return LoyaltyResult{}, fmt.Errorf("failed to marshal award: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return LoyaltyResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return LoyaltyResult{}, fmt.Errorf("loyalty request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return LoyaltyResult{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return LoyaltyResult{}, fmt.Errorf("loyalty service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result LoyaltyResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return LoyaltyResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}
