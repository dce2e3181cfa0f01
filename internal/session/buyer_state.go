package session

// BuyerState is the coarse buyer-facing phase derived from the active
// session snapshot. The UI renders screens off this, not off raw statuses.
type BuyerState string

const (
	BuyerIdle                 BuyerState = "idle"
	BuyerWaitingFace          BuyerState = "waiting_face"
	BuyerFaceVerifiedPurchase BuyerState = "face_verified_purchase"
	BuyerFaceVerifiedRedeem   BuyerState = "face_verified_redeem"
	BuyerRewardSelected       BuyerState = "reward_selected"
	BuyerDone                 BuyerState = "done"
)

// DeriveBuyerState maps a session snapshot to its buyer-facing phase
func DeriveBuyerState(snap *Snapshot) BuyerState {
	if snap == nil {
		return BuyerIdle
	}

	switch snap.Status {
	case StatusWaitingFace:
		return BuyerWaitingFace
	case StatusFaceVerified:
		if snap.Mode == ModePurchase {
			return BuyerFaceVerifiedPurchase
		}
		if snap.Redeem != nil && (snap.Redeem.RewardID != "" || snap.Redeem.VoucherCode != "") {
			return BuyerRewardSelected
		}
		return BuyerFaceVerifiedRedeem
	case StatusClosed, StatusExpired:
		return BuyerDone
	}

	// After a reward is selected the backend may advance the status beyond
	// FACE_VERIFIED; the buyer still sees the "waiting for cashier" screen.
	if snap.Mode == ModeRedeem && (snap.Status == StatusReadyToConfirm || snap.Status == StatusWaitingAction) {
		return BuyerRewardSelected
	}

	return BuyerIdle
}

// ShouldAutoScan reports whether the terminal should trigger an automatic
// face capture: exactly once per session, and only while the session is
// waiting for a face.
func ShouldAutoScan(activeSessionID, activeSessionStatus, lastAutoScanSessionID string) bool {
	if activeSessionID == "" {
		return false
	}
	if activeSessionStatus != StatusWaitingFace {
		return false
	}
	if lastAutoScanSessionID == activeSessionID {
		return false
	}
	return true
}
