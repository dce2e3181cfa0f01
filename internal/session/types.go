package session

import "time"

// Session status values pushed by the POS backend
const (
	StatusWaitingFace    = "WAITING_FACE"
	StatusFaceVerified   = "FACE_VERIFIED"
	StatusWaitingAction  = "WAITING_ACTION"
	StatusReadyToConfirm = "READY_TO_CONFIRM"
	StatusCancelled      = "CANCELLED"
	StatusClosed         = "CLOSED"
	StatusExpired        = "EXPIRED"
	StatusFailed         = "FAILED"
)

// Session mode values
const (
	ModeUnset    = "UNSET"
	ModePurchase = "PURCHASE"
	ModeRedeem   = "REDEEM"
)

// RedeemState is the nested redemption sub-state of a session snapshot
type RedeemState struct {
	RewardID    string `json:"reward_id,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
}

// Snapshot is the server-provided session record, replaced wholesale on every
// accepted event and never patched field by field. Payload retains the full
// decoded server object for the UI; the typed fields are the subset the
// reconciler interprets.
type Snapshot struct {
	SessionID string       `json:"session_id"`
	Status    string       `json:"status,omitempty"`
	Mode      string       `json:"mode,omitempty"`
	Redeem    *RedeemState `json:"redeem,omitempty"`
	Payload   interface{}  `json:"payload,omitempty"`
}

// TerminalMeta is terminal metadata sourced exclusively from terminal_state
// events. It must never be used to infer session state.
type TerminalMeta struct {
	MerchantID string `json:"merchant_id,omitempty"`
	TerminalID string `json:"terminal_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// EndMemory remembers how the most recently cleared session ended. Some close
// paths do not carry the final status in the closing event, so the last known
// end reason is retained after the active snapshot is nulled. Only the single
// most recent end is kept.
type EndMemory struct {
	SessionID      string `json:"session_id"`
	TerminalStatus string `json:"terminal_status,omitempty"`
}

// LastEvent is the most recent raw stream frame, kept for diagnostics only
type LastEvent struct {
	Name       string      `json:"name"`
	Payload    interface{} `json:"payload,omitempty"`
	Raw        string      `json:"raw"`
	ReceivedAt time.Time   `json:"received_at"`
}

// isTerminalStatus reports whether status is one of the end-of-life statuses
func isTerminalStatus(status string) bool {
	switch status {
	case StatusCancelled, StatusClosed, StatusExpired, StatusFailed:
		return true
	}
	return false
}
