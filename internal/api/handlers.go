package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/flashpay/pos-terminald/internal/actions"
	"github.com/flashpay/pos-terminald/internal/config"
	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/internal/session"
	"github.com/flashpay/pos-terminald/internal/storage/sqlite"
	"github.com/flashpay/pos-terminald/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// Handler contains the API handlers
type Handler struct {
	reconciler    *session.Reconciler
	dispatcher    *actions.Dispatcher
	gatewayClient *gateway.Client
	tokens        *sqlite.TokenStorage
	journal       *sqlite.EventJournal
	config        *config.Config
	logger        *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	reconciler *session.Reconciler,
	dispatcher *actions.Dispatcher,
	gatewayClient *gateway.Client,
	tokens *sqlite.TokenStorage,
	journal *sqlite.EventJournal,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		reconciler:    reconciler,
		dispatcher:    dispatcher,
		gatewayClient: gatewayClient,
		tokens:        tokens,
		journal:       journal,
		config:        cfg,
		logger:        log.Named("api-handler"),
	}
}

// stateResponse is the full UI read model: the reconciler state plus the
// derived buyer phase and provisioning flag.
type stateResponse struct {
	session.State
	BuyerState  session.BuyerState `json:"buyer_state"`
	Provisioned bool               `json:"provisioned"`
}

// GetHealth returns daemon liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	state := h.reconciler.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"connection_status": state.ConnectionStatus,
	})
}

// GetState returns the authoritative terminal state snapshot
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.Token(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "storage_error", "failed to read credentials")
		return
	}

	state := h.reconciler.Snapshot()
	h.writeJSON(w, http.StatusOK, stateResponse{
		State:       state,
		BuyerState:  session.DeriveBuyerState(state.ActiveSession),
		Provisioned: token != "",
	})
}

// Provision stores the terminal token and starts the event stream runtime
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.tokens.SetToken(r.Context(), body.Token); err != nil {
		h.logger.Error("Failed to store terminal token", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "storage_error", "failed to store token")
		return
	}

	h.reconciler.Start()
	h.logger.Info("Terminal provisioned")

	h.writeJSON(w, http.StatusOK, map[string]any{"provisioned": true})
}

// Deprovision stops the runtime and clears the stored token
func (h *Handler) Deprovision(w http.ResponseWriter, r *http.Request) {
	h.reconciler.Stop()

	if err := h.tokens.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear terminal token", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "storage_error", "failed to clear token")
		return
	}

	h.logger.Info("Terminal deprovisioned")
	h.writeJSON(w, http.StatusOK, map[string]any{"provisioned": false})
}

// ListRewards proxies the reward catalog, with per-session redeemability when
// a session id is supplied.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	rewards, err := h.gatewayClient.ListRewards(r.Context(), sessionID)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"items": rewards})
}

// GetJournal returns recent raw stream events for diagnostics
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	records, err := h.journal.Recent(limit)
	if err != nil {
		h.logger.Error("Failed to read event journal", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "storage_error", "failed to read journal")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

// SubmitFaceScan submits a captured face image for the session
func (h *Handler) SubmitFaceScan(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body struct {
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageBase64 == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "image_base64 is required")
		return
	}

	result, err := h.dispatcher.SubmitFaceScan(r.Context(), sessionID, body.ImageBase64)
	h.writeActionResult(w, result, err)
}

// SelectReward records the buyer's reward choice
func (h *Handler) SelectReward(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body struct {
		RewardID string `json:"reward_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RewardID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "reward_id is required")
		return
	}

	result, err := h.dispatcher.SelectReward(r.Context(), sessionID, body.RewardID)
	h.writeActionResult(w, result, err)
}

// RedeemSelect selects the reward to redeem
func (h *Handler) RedeemSelect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body struct {
		RewardID string `json:"reward_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RewardID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "reward_id is required")
		return
	}

	result, err := h.dispatcher.RedeemSelect(r.Context(), sessionID, body.RewardID)
	h.writeActionResult(w, result, err)
}

// SelectMode sets the session mode
func (h *Handler) SelectMode(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mode == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "mode is required")
		return
	}

	result, err := h.dispatcher.SelectMode(r.Context(), sessionID, body.Mode)
	h.writeActionResult(w, result, err)
}

// writeActionResult maps a dispatch outcome onto the HTTP response. Guard
// blocks are not errors: the existing record is returned so the UI can show
// the in-flight or completed state.
func (h *Handler) writeActionResult(w http.ResponseWriter, result actions.Result, err error) {
	if err != nil {
		// Errors before anything was sent are local validation failures
		if !result.Sent {
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			h.writeJSON(w, apiErr.Status, map[string]any{
				"error": map[string]any{
					"code":       apiErr.Code,
					"message":    apiErr.Message,
					"request_id": apiErr.RequestID,
				},
				"idempotency_key": result.IdempotencyKey,
			})
			return
		}
		h.writeError(w, http.StatusBadGateway, "gateway_unreachable", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeGatewayError maps gateway failures onto the standard error envelope
func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		h.writeJSON(w, apiErr.Status, map[string]any{
			"error": map[string]any{
				"code":       apiErr.Code,
				"message":    apiErr.Message,
				"request_id": apiErr.RequestID,
			},
		})
		return
	}
	h.writeError(w, http.StatusBadGateway, "gateway_unreachable", err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
