package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

// Ticket is a short-lived opaque credential for the terminal event stream.
// The expiry is always absolute; relative TTLs from the gateway are
// normalized at acquisition time.
type Ticket struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the ticket can still be presented at the given instant.
func (t Ticket) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// ticketResponse covers both gateway versions: expires_in_seconds (relative)
// and expires_at (absolute, RFC 3339).
type ticketResponse struct {
	Ticket           string `json:"ticket"`
	ExpiresInSeconds *int   `json:"expires_in_seconds"`
	ExpiresAt        string `json:"expires_at"`
}

// CreateEventsTicket mints a new event stream ticket. defaultTTL is assumed
// when the gateway response carries no expiry information at all.
func (c *Client) CreateEventsTicket(ctx context.Context, defaultTTL time.Duration) (Ticket, error) {
	resp, err := c.Request(ctx, http.MethodPost, "/pos/terminals/events-ticket", Options{})
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to mint events ticket: %w", err)
	}

	var decoded ticketResponse
	if err := json.Unmarshal(resp.Data, &decoded); err != nil {
		return Ticket{}, fmt.Errorf("failed to decode events ticket response: %w", err)
	}
	if decoded.Ticket == "" {
		return Ticket{}, fmt.Errorf("events ticket response did not contain a ticket")
	}

	now := time.Now()
	var expiresAt time.Time
	switch {
	case decoded.ExpiresAt != "":
		parsed, err := time.Parse(time.RFC3339, decoded.ExpiresAt)
		if err != nil {
			return Ticket{}, fmt.Errorf("invalid expires_at in ticket response: %w", err)
		}
		expiresAt = parsed
	case decoded.ExpiresInSeconds != nil:
		expiresAt = now.Add(time.Duration(*decoded.ExpiresInSeconds) * time.Second)
	default:
		expiresAt = now.Add(defaultTTL)
	}

	c.logger.Debug("Minted events ticket",
		logger.Time("expires_at", expiresAt),
		logger.String("request_id", resp.RequestID))

	return Ticket{Value: decoded.Ticket, ExpiresAt: expiresAt}, nil
}
