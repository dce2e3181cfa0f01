package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveBuyerState(t *testing.T) {
	tests := []struct {
		name string
		snap *Snapshot
		want BuyerState
	}{
		{"no session", nil, BuyerIdle},
		{"waiting face", &Snapshot{Status: StatusWaitingFace}, BuyerWaitingFace},
		{"verified purchase", &Snapshot{Status: StatusFaceVerified, Mode: ModePurchase}, BuyerFaceVerifiedPurchase},
		{"verified redeem no reward", &Snapshot{Status: StatusFaceVerified, Mode: ModeRedeem}, BuyerFaceVerifiedRedeem},
		{"verified redeem with reward", &Snapshot{Status: StatusFaceVerified, Mode: ModeRedeem, Redeem: &RedeemState{RewardID: "r1"}}, BuyerRewardSelected},
		{"verified redeem with voucher", &Snapshot{Status: StatusFaceVerified, Mode: ModeRedeem, Redeem: &RedeemState{VoucherCode: "v1"}}, BuyerRewardSelected},
		{"redeem ready to confirm", &Snapshot{Status: StatusReadyToConfirm, Mode: ModeRedeem}, BuyerRewardSelected},
		{"redeem waiting action", &Snapshot{Status: StatusWaitingAction, Mode: ModeRedeem}, BuyerRewardSelected},
		{"purchase waiting action", &Snapshot{Status: StatusWaitingAction, Mode: ModePurchase}, BuyerIdle},
		{"closed", &Snapshot{Status: StatusClosed}, BuyerDone},
		{"expired", &Snapshot{Status: StatusExpired}, BuyerDone},
		{"unknown status", &Snapshot{Status: "SOMETHING_NEW"}, BuyerIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveBuyerState(tt.snap))
		})
	}
}

func TestShouldAutoScan(t *testing.T) {
	assert.True(t, ShouldAutoScan("s1", StatusWaitingFace, ""))
	assert.True(t, ShouldAutoScan("s2", StatusWaitingFace, "s1"))

	assert.False(t, ShouldAutoScan("", StatusWaitingFace, ""))
	assert.False(t, ShouldAutoScan("s1", StatusFaceVerified, ""))
	assert.False(t, ShouldAutoScan("s1", StatusWaitingFace, "s1"), "one scan per session")
}
