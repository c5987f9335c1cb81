// Package store persists participant identity bindings.
package store

import (
	"context"

	"merit/internal/registry/models"
	id "merit/pkg/domain"
)

// Store is the participant persistence port. CreateIfAbsent must enforce
// bidirectional uniqueness atomically: it returns sentinel.ErrConflict when
// either the key or the identity is already bound to a different counterpart.
type Store interface {
	CreateIfAbsent(ctx context.Context, p models.Participant) error
	FindByKey(ctx context.Context, key id.ParticipantKey) (*models.Participant, error)
	FindByIdentity(ctx context.Context, identity id.Login) (*models.Participant, error)
	List(ctx context.Context) ([]models.Participant, error)
	Count(ctx context.Context) (int64, error)
}
