package service

import (
	"context"
	"errors"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// Claim lets a participant collect credits for pre-existing valid issues
// they authored, without waiting for the next sync pass (a late-registering
// author's issues were observed as valid-but-uncredited). Each issue passes
// the same conditional-insert credit path as sync, so a claim can never
// double-credit.
func (s *Service) Claim(ctx context.Context, rawParticipant string, keys []id.IssueKey) (models.ClaimResult, error) {
	if len(keys) == 0 {
		return models.ClaimResult{}, dErrors.New(dErrors.CodeInvalidInput, "claim requires at least one issue")
	}

	participant, err := s.resolver.Get(ctx, rawParticipant)
	if err != nil {
		return models.ClaimResult{}, err
	}

	result := models.ClaimResult{Rejected: make(map[string]string)}
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		for _, key := range keys {
			reason, err := s.claimOne(txCtx, participant, key)
			if err != nil {
				// Persistence failure aborts the whole claim; nothing is
				// partially credited.
				return err
			}
			if reason != "" {
				result.Rejected[key.String()] = reason
				if s.metrics != nil {
					s.metrics.ClaimsProcessed.WithLabelValues("rejected").Inc()
				}
				continue
			}
			result.Claimed = append(result.Claimed, key)
			if s.metrics != nil {
				s.metrics.ClaimsProcessed.WithLabelValues("claimed").Inc()
			}
		}

		acc, err := s.accounts.Get(txCtx, participant.Key)
		if err == nil {
			result.TotalValid = acc.ValidCount
		}
		return nil
	})
	if err != nil {
		return models.ClaimResult{}, err
	}

	if len(result.Claimed) > 0 {
		claimed := make([]string, len(result.Claimed))
		for i, key := range result.Claimed {
			claimed[i] = key.String()
		}
		_ = s.publisher.Publish(ctx, audit.Event{
			Action:    audit.ActionIssueClaimed,
			ActorID:   participant.Key.String(),
			SubjectID: participant.Key.String(),
			RequestID: requestcontext.RequestID(ctx),
			Metadata:  map[string]any{"issues": claimed},
			CreatedAt: requestcontext.Now(ctx),
		})
	}
	return result, nil
}

// claimOne validates a single issue against the claim rules and credits it
// when eligible. A non-empty reason is an idempotent rejection; a non-nil
// error is a persistence failure that must abort the transaction.
func (s *Service) claimOne(ctx context.Context, participant *ParticipantRef, key id.IssueKey) (string, error) {
	rec, err := s.issues.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.ReasonNotFound, nil
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issue record")
	}
	if rec.DeletedAt != nil {
		return models.ReasonDeletedUpstream, nil
	}
	if !rec.IsClosed {
		return models.ReasonNotClosed, nil
	}
	if rec.HasLabel(s.policy.InvalidLabel) {
		return models.ReasonHasInvalid, nil
	}
	if !rec.HasLabel(s.policy.ValidLabel) {
		return models.ReasonMissingValid, nil
	}
	if rec.Author != participant.ExternalIdentity {
		return models.ReasonAuthorMismatch(participant.ExternalIdentity, rec.Author), nil
	}
	if rec.IsCredited() {
		return models.ReasonAlreadyClaimed, nil
	}

	applied, err := s.issues.InsertMarker(ctx, key, models.TransitionCredit, participant.Key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record credit marker")
	}
	if !applied {
		return models.ReasonAlreadyClaimed, nil
	}

	now := requestcontext.Now(ctx)
	if err := s.accounts.IncrementValid(ctx, participant.Key, 1, now); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply credit")
	}
	if err := s.issues.SetCredited(ctx, key, &participant.Key); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to attach credit")
	}
	return "", nil
}
