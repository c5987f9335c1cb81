package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	rewardsconfig "merit/internal/rewards/config"
	id "merit/pkg/domain"
)

// TestRewardAccount_Points validates the reward formula:
// net = valid + stars*bonus - invalid*multiplier, floored at zero.
//
// Justification: pure arithmetic that every published weight flows through;
// wrong rounding or a missing floor here skews the whole distribution.
func TestRewardAccount_Points(t *testing.T) {
	cfg := rewardsconfig.Default()

	t.Run("penalties outprice credits", func(t *testing.T) {
		acc := RewardAccount{ValidCount: 3, InvalidCount: 1}
		assert.InDelta(t, 2.0, acc.PenaltyPoints(cfg), 1e-9)
		assert.InDelta(t, 1.0, acc.NetPoints(cfg), 1e-9)
	})

	t.Run("stars add fractional points", func(t *testing.T) {
		acc := RewardAccount{ValidCount: 2, StarCount: 2}
		assert.InDelta(t, 2.5, acc.NetPoints(cfg), 1e-9)
	})

	t.Run("net points floor at zero", func(t *testing.T) {
		acc := RewardAccount{ValidCount: 1, InvalidCount: 5}
		assert.Zero(t, acc.NetPoints(cfg))
		assert.Zero(t, acc.RawWeight(cfg))
		assert.True(t, acc.IsPenalized(cfg))
	})

	t.Run("empty account counts as penalized", func(t *testing.T) {
		assert.True(t, RewardAccount{}.IsPenalized(cfg))
	})

	t.Run("raw weight is uncapped and monotonic", func(t *testing.T) {
		small := RewardAccount{ValidCount: 50}
		large := RewardAccount{ValidCount: 5000}
		assert.InDelta(t, 1.0, small.RawWeight(cfg), 1e-9)
		assert.InDelta(t, 100.0, large.RawWeight(cfg), 1e-9)
		assert.Greater(t, large.RawWeight(cfg), small.RawWeight(cfg))
	})
}

// TestOverride_Lifecycle validates read-time expiry and revocation.
func TestOverride_Lifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := Override{
		ID:             id.NewOverrideID(),
		ParticipantKey: "alice",
		BonusWeight:    0.5,
		Reason:         "hackathon prize",
		GrantedBy:      "admin",
		GrantedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		Active:         true,
	}

	t.Run("effective until expiry", func(t *testing.T) {
		assert.True(t, o.Effective(now))
		assert.True(t, o.Effective(now.Add(24*time.Hour-time.Second)))
	})

	t.Run("expiry is evaluated at read time", func(t *testing.T) {
		// The row is untouched at expiry; only the read changes outcome.
		assert.False(t, o.Effective(now.Add(24*time.Hour)))
		assert.True(t, o.Active)
	})

	t.Run("revocation deactivates immediately and annotates the reason", func(t *testing.T) {
		revoked := o
		revoked.Revoke("root", now.Add(time.Hour))
		assert.False(t, revoked.Active)
		assert.False(t, revoked.Effective(now.Add(time.Hour)))
		assert.Equal(t, "hackathon prize [revoked by root at 2025-06-01T13:00:00Z]", revoked.Reason)
	})
}
