package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/internal/session"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

// Kind identifies one guarded mutating action
type Kind string

const (
	KindFaceScan     Kind = "face_scan"
	KindReward       Kind = "reward"
	KindRedeemSelect Kind = "redeem_select"
	KindMode         Kind = "mode"
)

// Result reports the outcome of a dispatch attempt. Sent is false when the
// guard blocked the request (duplicate tap, already done); in that case the
// existing record is returned unchanged.
type Result struct {
	Sent           bool            `json:"sent"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Data           json.RawMessage `json:"data,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
}

// Dispatcher issues the mutating session commands through the gateway, each
// behind its own per-kind guard. The guard decides whether a request goes out
// at all and which idempotency key it carries; the dispatcher never retries
// on its own.
type Dispatcher struct {
	client *gateway.Client
	guards map[Kind]*Guard
	logger *logger.Logger
}

// NewDispatcher creates a new action dispatcher
func NewDispatcher(client *gateway.Client, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		guards: map[Kind]*Guard{
			KindFaceScan:     NewGuard(),
			KindReward:       NewGuard(),
			KindRedeemSelect: NewGuard(),
			KindMode:         NewGuard(),
		},
		logger: log.Named("actions"),
	}
}

// Guard returns the guard for one action kind
func (d *Dispatcher) Guard(kind Kind) *Guard {
	return d.guards[kind]
}

// SubmitFaceScan submits a captured face image for verification. The request
// identity is the image digest, so resubmitting the same capture after a
// failure reuses the idempotency key while a fresh capture gets a new one.
func (d *Dispatcher) SubmitFaceScan(ctx context.Context, sessionID, imageBase64 string) (Result, error) {
	if imageBase64 == "" {
		return Result{}, fmt.Errorf("face scan image is required")
	}

	digest := sha256.Sum256([]byte(imageBase64))
	identity := hex.EncodeToString(digest[:])

	return d.dispatch(ctx, KindFaceScan, sessionID, identity,
		fmt.Sprintf("/pos/sessions/%s/face-scan", sessionID),
		map[string]string{"imageBase64": imageBase64})
}

// SelectReward records the buyer's reward choice on the session
func (d *Dispatcher) SelectReward(ctx context.Context, sessionID, rewardID string) (Result, error) {
	if rewardID == "" {
		return Result{}, fmt.Errorf("reward id is required")
	}

	return d.dispatch(ctx, KindReward, sessionID, rewardID,
		fmt.Sprintf("/pos/sessions/%s/reward", sessionID),
		map[string]string{"reward_id": rewardID})
}

// RedeemSelect selects the reward to redeem on an in-progress redemption
func (d *Dispatcher) RedeemSelect(ctx context.Context, sessionID, rewardID string) (Result, error) {
	if rewardID == "" {
		return Result{}, fmt.Errorf("reward id is required")
	}

	return d.dispatch(ctx, KindRedeemSelect, sessionID, rewardID,
		fmt.Sprintf("/pos/sessions/%s/redeem/select", sessionID),
		map[string]string{"reward_id": rewardID})
}

// SelectMode sets the session mode (PURCHASE or REDEEM)
func (d *Dispatcher) SelectMode(ctx context.Context, sessionID, mode string) (Result, error) {
	if mode != session.ModePurchase && mode != session.ModeRedeem {
		return Result{}, fmt.Errorf("invalid session mode: %q", mode)
	}

	return d.dispatch(ctx, KindMode, sessionID, mode,
		fmt.Sprintf("/pos/sessions/%s/mode", sessionID),
		map[string]string{"mode": mode})
}

// dispatch consults the kind's guard and, when permitted, executes the
// request. A gateway failure marks the record error so the caller may retry;
// success marks it done, which blocks all further sends for the session.
func (d *Dispatcher) dispatch(ctx context.Context, kind Kind, sessionID, identity, path string, body interface{}) (Result, error) {
	if sessionID == "" {
		return Result{}, fmt.Errorf("session id is required")
	}

	guard := d.guards[kind]
	rec, shouldSend := guard.GetOrCreate(sessionID, identity)
	if !shouldSend {
		d.logger.Debug("Action blocked by guard",
			logger.String("kind", string(kind)),
			logger.String("session_id", sessionID),
			logger.String("status", string(rec.Status)))
		return Result{Sent: false, Status: rec.Status, IdempotencyKey: rec.Key}, nil
	}

	resp, err := d.client.Request(ctx, "POST", path, gateway.Options{
		Body:           body,
		IdempotencyKey: rec.Key,
	})
	if err != nil {
		guard.MarkStatus(sessionID, StatusError)
		d.logger.Warn("Action failed",
			logger.String("kind", string(kind)),
			logger.String("session_id", sessionID),
			logger.Error(err))
		return Result{Sent: true, Status: StatusError, IdempotencyKey: rec.Key}, err
	}

	guard.MarkStatus(sessionID, StatusDone)
	d.logger.Info("Action completed",
		logger.String("kind", string(kind)),
		logger.String("session_id", sessionID),
		logger.String("request_id", resp.RequestID))

	return Result{
		Sent:           true,
		Status:         StatusDone,
		IdempotencyKey: rec.Key,
		Data:           resp.Data,
		RequestID:      resp.RequestID,
	}, nil
}
