package service

import (
	"context"
	"errors"

	"merit/internal/githubsync/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// AddTarget registers (or reactivates) a repository for syncing.
func (s *Service) AddTarget(ctx context.Context, rawRepo string, kind models.TargetKind, addedBy string) (*models.TargetRepo, error) {
	repo, err := id.ParseRepoKey(rawRepo)
	if err != nil {
		return nil, err
	}
	if kind != models.KindIssues && kind != models.KindStars {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "kind must be issues or stars")
	}

	t := models.TargetRepo{
		Repo:    repo,
		Kind:    kind,
		Active:  true,
		AddedBy: addedBy,
		AddedAt: requestcontext.Now(ctx),
	}
	if err := s.store.AddTarget(ctx, t); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store target")
	}

	s.logger.InfoContext(ctx, "sync target added",
		"repo", repo.String(),
		"kind", string(kind),
		"added_by", addedBy,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionTargetAdded,
		ActorID:   addedBy,
		SubjectID: repo.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"kind": string(kind)},
		CreatedAt: t.AddedAt,
	})
	return &t, nil
}

// RemoveTarget deactivates a target. The repo's ledger history stays
// untouched; only future syncing stops.
func (s *Service) RemoveTarget(ctx context.Context, rawRepo string, kind models.TargetKind, removedBy string) error {
	repo, err := id.ParseRepoKey(rawRepo)
	if err != nil {
		return err
	}
	if err := s.store.RemoveTarget(ctx, repo, kind); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "target not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove target")
	}

	s.logger.InfoContext(ctx, "sync target removed",
		"repo", repo.String(),
		"kind", string(kind),
		"removed_by", removedBy,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionTargetRemoved,
		ActorID:   removedBy,
		SubjectID: repo.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"kind": string(kind)},
		CreatedAt: requestcontext.Now(ctx),
	})
	return nil
}

// ListTargets returns all registered targets, active and inactive.
func (s *Service) ListTargets(ctx context.Context) ([]models.TargetRepo, error) {
	targets, err := s.store.ListAllTargets(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list targets")
	}
	return targets, nil
}

// SyncState returns one repo's bookkeeping, if any sync has run yet.
func (s *Service) SyncState(ctx context.Context, rawRepo string) (*models.SyncState, error) {
	repo, err := id.ParseRepoKey(rawRepo)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetSyncState(ctx, repo)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no sync state for repo")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load sync state")
	}
	return st, nil
}
