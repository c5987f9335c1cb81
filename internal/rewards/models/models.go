// Package models defines reward accounts, the weight formula, and the
// administrative override records.
package models

import (
	"strings"
	"time"

	rewardsconfig "merit/internal/rewards/config"
	id "merit/pkg/domain"
)

// RewardAccount is the per-participant running tally. Counters change only
// through recognized ledger transitions and star sync; never by direct write.
type RewardAccount struct {
	ParticipantKey id.ParticipantKey
	ValidCount     int64
	InvalidCount   int64
	StarCount      int64
	LastActivity   time.Time
}

// PenaltyPoints prices the account's invalid issues.
func (a RewardAccount) PenaltyPoints(cfg rewardsconfig.Config) float64 {
	return float64(a.InvalidCount) * cfg.PenaltyMultiplier
}

// NetPoints is validCount + starCount*StarBonus - penaltyPoints, floored at
// zero before any weight conversion.
func (a RewardAccount) NetPoints(cfg rewardsconfig.Config) float64 {
	net := float64(a.ValidCount) + float64(a.StarCount)*cfg.StarBonus - a.PenaltyPoints(cfg)
	if net < 0 {
		return 0
	}
	return net
}

// RawWeight converts net points to weight. There is deliberately no cap:
// weight stays strictly monotonic in net points so an account with more
// points always outweighs one with fewer.
func (a RewardAccount) RawWeight(cfg rewardsconfig.Config) float64 {
	return a.NetPoints(cfg) * cfg.WeightPerPoint
}

// IsPenalized reports whether penalties have wiped the account's reward.
func (a RewardAccount) IsPenalized(cfg rewardsconfig.Config) bool {
	return a.NetPoints(cfg) <= 0
}

// Override is a time-bounded additive bonus weight, independent of earned
// points. Rows are never deleted; revocation flips Active and annotates
// Reason, expiry is evaluated at read time.
type Override struct {
	ID             id.OverrideID
	ParticipantKey id.ParticipantKey
	BonusWeight    float64
	Reason         string
	GrantedBy      string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	Active         bool
}

// Effective reports whether the bonus contributes to published weight at the
// given instant.
func (o Override) Effective(asOf time.Time) bool {
	return o.Active && asOf.Before(o.ExpiresAt)
}

// Revoke deactivates the bonus immediately, regardless of expiry, and
// appends an audit annotation to Reason.
func (o *Override) Revoke(revokedBy string, at time.Time) {
	o.Active = false
	var b strings.Builder
	b.WriteString(o.Reason)
	b.WriteString(" [revoked by ")
	b.WriteString(revokedBy)
	b.WriteString(" at ")
	b.WriteString(at.UTC().Format(time.RFC3339))
	b.WriteString("]")
	o.Reason = b.String()
}

// WeightEntry is one row of the published normalized distribution.
type WeightEntry struct {
	ParticipantKey id.ParticipantKey
	Weight         float64
}

// LeaderboardEntry is a derived, read-only projection; never a source of
// truth.
type LeaderboardEntry struct {
	Rank             int
	ParticipantKey   id.ParticipantKey
	ExternalIdentity id.Login
	NormalizedWeight float64
	RawWeight        float64
	ValidCount       int64
	InvalidCount     int64
	StarCount        int64
	NetPoints        float64
	IsPenalized      bool
	PendingIssues    int64
	LastActivity     time.Time
}
