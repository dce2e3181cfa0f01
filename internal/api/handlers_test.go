package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpay/pos-terminald/internal/actions"
	"github.com/flashpay/pos-terminald/internal/config"
	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/internal/session"
	"github.com/flashpay/pos-terminald/internal/storage/sqlite"
	"github.com/flashpay/pos-terminald/internal/stream"
	"github.com/flashpay/pos-terminald/internal/websocket"
	"github.com/flashpay/pos-terminald/pkg/clock"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

// fakePOSGateway serves just enough of the upstream POS API for the daemon:
// ticket minting, the event stream, rewards, and the session commands.
func fakePOSGateway(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/pos/terminals/events-ticket", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ticket":             "tkt-1",
			"expires_in_seconds": 60,
		})
	})

	mux.HandleFunc("/pos/terminals/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticket") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()

		fmt.Fprint(w, "event: current_session\ndata: {\"session\":{\"session_id\":\"s1\",\"status\":\"WAITING_FACE\",\"mode\":\"UNSET\"}}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	})

	mux.HandleFunc("/pos/rewards", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "r1", "name": "Free coffee", "cost_points": 100},
			},
		})
	})

	mux.HandleFunc("/pos/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestDaemon(t *testing.T) *httptest.Server {
	t.Helper()

	gatewayServer := fakePOSGateway(t)
	log := logger.NewNop()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := sqlite.NewTokenStorage(db.GetDB(), log)
	require.NoError(t, err)
	journal, err := sqlite.NewEventJournal(db.GetDB(), 100, log)
	require.NoError(t, err)

	gatewayClient := gateway.NewClient(gatewayServer.URL, 5*time.Second, tokens, log)

	clk := clock.New()
	manager := stream.NewManager(stream.Config{
		BaseURL:          gatewayServer.URL,
		DefaultTicketTTL: 120 * time.Second,
		RefreshFraction:  0.8,
		BackoffBase:      100 * time.Millisecond,
		BackoffCap:       time.Second,
		PreflightTimeout: 2 * time.Second,
	}, gatewayClient, stream.NewHTTPTransport(log), clk, log)

	reconciler := session.NewReconciler(session.Config{
		SeedGrace:    2 * time.Second,
		WaitingGrace: 5 * time.Second,
		EndGrace:     7 * time.Second,
	}, manager, journal, clk, log)
	t.Cleanup(reconciler.Stop)

	dispatcher := actions.NewDispatcher(gatewayClient, log)
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	cfg := &config.Config{Gateway: config.GatewayConfig{BaseURL: gatewayServer.URL}}
	require.NoError(t, cfg.Validate())

	router := NewRouter(reconciler, dispatcher, gatewayClient, tokens, journal, cfg, log, wsServer)

	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	daemon := newTestDaemon(t)

	var health map[string]any
	status := getJSON(t, daemon.URL+"/api/health", &health)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "idle", health["connection_status"])
}

func TestProvisioningLifecycle(t *testing.T) {
	daemon := newTestDaemon(t)

	// Unprovisioned: inert. Each read decodes into a fresh map; json.Decoder
	// merges into a reused one and omitted fields would keep stale entries.
	var initial map[string]any
	getJSON(t, daemon.URL+"/api/state", &initial)
	assert.Equal(t, false, initial["provisioned"])
	assert.Equal(t, "idle", initial["connection_status"])

	// Provisioning without a token is rejected
	status := postJSON(t, daemon.URL+"/api/provision", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Provisioning starts the stream runtime
	status = postJSON(t, daemon.URL+"/api/provision", map[string]string{"token": "terminal-token"}, nil)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		var s map[string]any
		getJSON(t, daemon.URL+"/api/state", &s)
		return s["connection_status"] == "connected" && s["active_session_id"] == "s1"
	}, 5*time.Second, 20*time.Millisecond, "daemon should connect and fold in the bootstrap session")

	var connected map[string]any
	getJSON(t, daemon.URL+"/api/state", &connected)
	assert.Equal(t, true, connected["provisioned"])
	assert.Equal(t, "waiting_face", connected["buyer_state"])

	// The bootstrap frame was journaled
	var journal map[string]any
	getJSON(t, daemon.URL+"/api/journal?limit=10", &journal)
	items := journal["items"].([]any)
	assert.NotEmpty(t, items)

	// Deprovisioning stops the runtime and clears state
	req, err := http.NewRequest(http.MethodDelete, daemon.URL+"/api/provision", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var final map[string]any
	getJSON(t, daemon.URL+"/api/state", &final)
	assert.Equal(t, false, final["provisioned"])
	assert.Equal(t, "idle", final["connection_status"])
	assert.Nil(t, final["active_session_id"])
}

func TestSessionActionEndpoints(t *testing.T) {
	daemon := newTestDaemon(t)

	var result map[string]any
	status := postJSON(t, daemon.URL+"/api/sessions/s1/mode", map[string]string{"mode": "REDEEM"}, &result)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, result["sent"])
	assert.Equal(t, "done", result["status"])
	assert.NotEmpty(t, result["idempotency_key"])

	// Guard blocks the duplicate without calling the gateway
	var dup map[string]any
	status = postJSON(t, daemon.URL+"/api/sessions/s1/mode", map[string]string{"mode": "REDEEM"}, &dup)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, dup["sent"])

	// Validation failures are local 400s
	status = postJSON(t, daemon.URL+"/api/sessions/s1/reward", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status = postJSON(t, daemon.URL+"/api/sessions/s1/face-scan", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRewardsEndpoint(t *testing.T) {
	daemon := newTestDaemon(t)

	var rewards map[string]any
	status := getJSON(t, daemon.URL+"/api/rewards?session_id=s1", &rewards)
	assert.Equal(t, http.StatusOK, status)
	items := rewards["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "Free coffee", first["name"])
}
