// Package store persists sync targets, star records, and per-repo sync
// state.
package store

import (
	"context"

	"merit/internal/githubsync/models"
	id "merit/pkg/domain"
)

// Store is the sync persistence port. InsertStar is insert-if-absent and
// reports whether the row was new, mirroring the ledger's transition
// markers.
type Store interface {
	AddTarget(ctx context.Context, t models.TargetRepo) error
	RemoveTarget(ctx context.Context, repo id.RepoKey, kind models.TargetKind) error
	ListTargets(ctx context.Context, kind models.TargetKind) ([]models.TargetRepo, error)
	ListAllTargets(ctx context.Context) ([]models.TargetRepo, error)

	GetSyncState(ctx context.Context, repo id.RepoKey) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, st models.SyncState) error

	InsertStar(ctx context.Context, star models.Star) (bool, error)
}
