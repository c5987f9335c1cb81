// Package override persists administrative weight overrides.
package override

import (
	"context"
	"time"

	"merit/internal/rewards/models"
	id "merit/pkg/domain"
)

// Store is the override persistence port. Rows are append-and-update only,
// never deleted: the table doubles as the override audit trail.
type Store interface {
	Create(ctx context.Context, o models.Override) error
	Get(ctx context.Context, overrideID id.OverrideID) (*models.Override, error)
	Update(ctx context.Context, o models.Override) error
	ListActive(ctx context.Context, asOf time.Time) ([]models.Override, error)
	ListAll(ctx context.Context) ([]models.Override, error)
}
