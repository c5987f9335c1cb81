// Package store persists registered validators.
package store

import (
	"context"
	"time"

	"merit/internal/validator/models"
	id "merit/pkg/domain"
)

// Store is the validator persistence port. Create returns
// sentinel.ErrConflict when the ID is already registered.
type Store interface {
	Create(ctx context.Context, v models.Validator) error
	Get(ctx context.Context, validatorID id.ValidatorID) (*models.Validator, error)
	List(ctx context.Context) ([]models.Validator, error)
	SetActive(ctx context.Context, validatorID id.ValidatorID, active bool) error
	TouchLastSeen(ctx context.Context, validatorID id.ValidatorID, at time.Time) error
}
