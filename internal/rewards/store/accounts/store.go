// Package accounts persists reward account tallies.
package accounts

import (
	"context"
	"time"

	"merit/internal/rewards/models"
	id "merit/pkg/domain"
)

// Store is the reward account persistence port. Every counter mutation must
// be an atomic single-statement upsert so concurrent validators never lose an
// increment; there is no read-modify-write anywhere.
type Store interface {
	IncrementValid(ctx context.Context, key id.ParticipantKey, delta int64, at time.Time) error
	IncrementInvalid(ctx context.Context, key id.ParticipantKey, at time.Time) error
	IncrementStars(ctx context.Context, key id.ParticipantKey, at time.Time) error
	Get(ctx context.Context, key id.ParticipantKey) (*models.RewardAccount, error)
	Snapshot(ctx context.Context) ([]models.RewardAccount, error)
}
