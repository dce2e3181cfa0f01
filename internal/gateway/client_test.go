package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func TestRequestSetsHeaders(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("terminal-token"), logger.NewNop())

	resp, err := client.Request(context.Background(), http.MethodPost, "/pos/sessions/s1/mode", Options{
		Body:           map[string]string{"mode": "PURCHASE"},
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	require.NotNil(t, captured)
	assert.Equal(t, "Bearer terminal-token", captured.Header.Get("Authorization"))
	assert.Equal(t, "idem-1", captured.Header.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", captured.Header.Get("Accept"))
}

func TestRequestOmitsAuthWhenUnprovisioned(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens(""), logger.NewNop())
	_, err := client.Request(context.Background(), http.MethodGet, "/pos/rewards", Options{})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestRequestDecodesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":       "session_closed",
				"message":    "session is no longer active",
				"request_id": "req-42",
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	_, err := client.Request(context.Background(), http.MethodPost, "/pos/sessions/s1/reward", Options{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session_closed", apiErr.Code)
	assert.Equal(t, "session is no longer active", apiErr.Message)
	assert.Equal(t, "req-42", apiErr.RequestID)
}

func TestRequestFallsBackOnUnexpectedErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-7")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	_, err := client.Request(context.Background(), http.MethodGet, "/pos/rewards", Options{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "POS API error (500)", apiErr.Message)
	assert.Equal(t, "req-7", apiErr.RequestID)
}

func TestCreateEventsTicketNormalizesRelativeExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pos/terminals/events-ticket", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"ticket":             "tkt-1",
			"expires_in_seconds": 90,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())

	before := time.Now()
	ticket, err := client.CreateEventsTicket(context.Background(), 120*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "tkt-1", ticket.Value)
	assert.WithinDuration(t, before.Add(90*time.Second), ticket.ExpiresAt, 2*time.Second)
	assert.True(t, ticket.Valid(time.Now()))
}

func TestCreateEventsTicketUsesAbsoluteExpiry(t *testing.T) {
	expiresAt := time.Now().Add(45 * time.Second).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ticket":     "tkt-2",
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	ticket, err := client.CreateEventsTicket(context.Background(), 120*time.Second)
	require.NoError(t, err)
	assert.True(t, ticket.ExpiresAt.Equal(expiresAt))
}

func TestCreateEventsTicketFallsBackToDefaultTTL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ticket": "tkt-3"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())

	before := time.Now()
	ticket, err := client.CreateEventsTicket(context.Background(), 120*time.Second)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(120*time.Second), ticket.ExpiresAt, 2*time.Second)
}

func TestCreateEventsTicketRejectsEmptyTicket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"expires_in_seconds": 60})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	_, err := client.CreateEventsTicket(context.Background(), 120*time.Second)
	assert.Error(t, err)
}

func TestTicketValid(t *testing.T) {
	now := time.Now()
	assert.True(t, Ticket{Value: "t", ExpiresAt: now.Add(time.Second)}.Valid(now))
	assert.False(t, Ticket{Value: "t", ExpiresAt: now}.Valid(now))
	assert.False(t, Ticket{Value: "", ExpiresAt: now.Add(time.Second)}.Valid(now))
}

func TestListRewards(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "r1", "name": "Free coffee", "cost_points": 100, "can_redeem": true},
				{"id": "r2", "name": "Pastry", "cost_points": 250, "can_redeem": false},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	rewards, err := client.ListRewards(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, "Free coffee", rewards[0].Name)
	require.NotNil(t, rewards[0].CanRedeem)
	assert.True(t, *rewards[0].CanRedeem)
	require.NotNil(t, rewards[1].CanRedeem)
	assert.False(t, *rewards[1].CanRedeem)
}

func TestListRewardsEmptyCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, staticTokens("tok"), logger.NewNop())
	rewards, err := client.ListRewards(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, rewards)
	assert.Empty(t, rewards)
}
