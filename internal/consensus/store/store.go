// Package store persists consensus proposals.
package store

import (
	"context"

	"merit/internal/consensus/models"
	id "merit/pkg/domain"
)

// Store is the proposal persistence port. Upsert keeps exactly one live row
// per (validator, subject); resolution reads are pure and never mutate.
type Store interface {
	Upsert(ctx context.Context, p models.Proposal) error
	ListBySubject(ctx context.Context, subjectKey string) ([]models.Proposal, error)
	ListByValidator(ctx context.Context, validatorID id.ValidatorID) ([]models.Proposal, error)
}
