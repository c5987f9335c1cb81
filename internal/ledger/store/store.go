// Package store persists issue records and their idempotency markers.
package store

import (
	"context"
	"time"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
)

// Store is the issue ledger persistence port.
//
// InsertMarker is the concurrency linchpin: it must be a conditional
// insert-if-absent on (issue key, transition kind) and report whether this
// caller won the insert. Two validators applying the same transition
// concurrently must see exactly one true.
type Store interface {
	Get(ctx context.Context, key id.IssueKey) (*models.IssueRecord, error)
	Upsert(ctx context.Context, rec models.IssueRecord) error

	InsertMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind, participant id.ParticipantKey) (bool, error)
	DeleteMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind) error
	HasMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind) (bool, error)

	SetCredited(ctx context.Context, key id.IssueKey, participant *id.ParticipantKey) error
	MarkDeleted(ctx context.Context, repo id.RepoKey, seen []int64, now time.Time) (int, error)
	Restore(ctx context.Context, key id.IssueKey) error

	ListByRepo(ctx context.Context, repo id.RepoKey) ([]models.IssueRecord, error)
	ListCreditedTo(ctx context.Context, participant id.ParticipantKey) ([]models.IssueRecord, error)
	CountPendingByAuthor(ctx context.Context, author id.Login, validLabel, invalidLabel string) (int64, error)
	Stats(ctx context.Context) (models.Stats, error)
}
