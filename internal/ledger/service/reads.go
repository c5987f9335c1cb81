package service

import (
	"context"
	"errors"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/sentinel"
)

// GetIssue returns one stored issue record.
func (s *Service) GetIssue(ctx context.Context, key id.IssueKey) (*models.IssueRecord, error) {
	rec, err := s.issues.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "issue not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issue")
	}
	return rec, nil
}

// ListByRepo returns all stored records of a repository.
func (s *Service) ListByRepo(ctx context.Context, repo id.RepoKey) ([]models.IssueRecord, error) {
	records, err := s.issues.ListByRepo(ctx, repo)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issues")
	}
	return records, nil
}

// ListCreditedTo returns the issues credited to a participant.
func (s *Service) ListCreditedTo(ctx context.Context, participant id.ParticipantKey) ([]models.IssueRecord, error) {
	records, err := s.issues.ListCreditedTo(ctx, participant)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credited issues")
	}
	return records, nil
}

// CountPendingByAuthor counts closed-but-unlabeled, uncredited issues of an
// author (the "pending review" display number).
func (s *Service) CountPendingByAuthor(ctx context.Context, author id.Login) (int64, error) {
	n, err := s.issues.CountPendingByAuthor(ctx, author, s.policy.ValidLabel, s.policy.InvalidLabel)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count pending issues")
	}
	return n, nil
}

// Stats returns ledger-wide aggregates.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	stats, err := s.issues.Stats(ctx)
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute ledger stats")
	}
	return stats, nil
}
