package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Reward is a redeemable catalog entry as served by the gateway.
type Reward struct {
	ID          string `json:"id"`
	MerchantID  string `json:"merchant_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CostPoints  int    `json:"cost_points"`
	Status      string `json:"status,omitempty"`
	// CanRedeem is computed per-session by the gateway when a session id is
	// supplied. nil means unknown; callers treat unknown as redeemable.
	CanRedeem *bool `json:"can_redeem,omitempty"`
}

// ListRewards fetches the reward catalog. When sessionID is non-empty the
// gateway annotates each reward with per-buyer redeemability.
func (c *Client) ListRewards(ctx context.Context, sessionID string) ([]Reward, error) {
	path := "/pos/rewards"
	if sessionID != "" {
		path += "?session_id=" + url.QueryEscape(sessionID)
	}

	resp, err := c.Request(ctx, http.MethodGet, path, Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}

	var decoded struct {
		Items []Reward `json:"items"`
	}
	if err := json.Unmarshal(resp.Data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode rewards response: %w", err)
	}
	if decoded.Items == nil {
		decoded.Items = []Reward{}
	}
	return decoded.Items, nil
}
