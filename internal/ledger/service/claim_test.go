package service

import (
	"context"
	"time"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
)

// =============================================================================
// Claim Tests
// =============================================================================

func (s *LedgerServiceSuite) seedRecord(raw string, author string, closed bool, labels ...string) id.IssueKey {
	key := s.issueKey(raw)
	obs := models.Observation{Labels: labels}
	obs.Normalize()
	snap := models.NewSnapshot(nil, obs, "valid", "invalid", false)
	s.Require().NoError(s.issues.Upsert(context.Background(), models.IssueRecord{
		Key:       key,
		Author:    id.Login(author),
		IsClosed:  closed,
		Labels:    obs.Labels,
		State:     snap.State(),
		UpdatedAt: time.Now(),
	}))
	return key
}

func (s *LedgerServiceSuite) TestClaim() {
	ctx := context.Background()
	s.resolver.register("alice", "octocat")

	eligible := s.seedRecord("acme/tools#21", "octocat", true, "valid")
	open := s.seedRecord("acme/tools#22", "octocat", false, "valid")
	unlabeled := s.seedRecord("acme/tools#23", "octocat", true, "bug")
	flagged := s.seedRecord("acme/tools#24", "octocat", true, "valid", "invalid")
	foreign := s.seedRecord("acme/tools#25", "hubber", true, "valid")
	missing := s.issueKey("acme/tools#99")

	s.Run("claims the eligible issue and rejects the rest with reasons", func() {
		result, err := s.service.Claim(ctx, "alice", []id.IssueKey{
			eligible, open, unlabeled, flagged, foreign, missing,
		})
		s.Require().NoError(err)

		s.Equal([]id.IssueKey{eligible}, result.Claimed)
		s.Equal(int64(1), result.TotalValid)
		s.Equal(models.ReasonNotClosed, result.Rejected[open.String()])
		s.Equal(models.ReasonMissingValid, result.Rejected[unlabeled.String()])
		s.Equal(models.ReasonHasInvalid, result.Rejected[flagged.String()])
		s.Equal(models.ReasonAuthorMismatch("octocat", "hubber"), result.Rejected[foreign.String()])
		s.Equal(models.ReasonNotFound, result.Rejected[missing.String()])

		rec, err := s.issues.Get(ctx, eligible)
		s.Require().NoError(err)
		s.Require().NotNil(rec.CreditedTo)
		s.Equal(id.ParticipantKey("alice"), *rec.CreditedTo)
	})

	s.Run("a repeated claim is rejected, not double-credited", func() {
		result, err := s.service.Claim(ctx, "alice", []id.IssueKey{eligible})
		s.Require().NoError(err)
		s.Empty(result.Claimed)
		s.Equal(models.ReasonAlreadyClaimed, result.Rejected[eligible.String()])
		s.Equal(int64(1), s.account("alice").ValidCount)
	})

	s.Run("sync cannot credit a claimed issue again", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#21", "octocat", "valid"))
		s.Require().NoError(err)
		s.Nil(result.CreditedTo)
		s.Equal(int64(1), s.account("alice").ValidCount)
	})

	s.Run("deleted issues cannot be claimed", func() {
		key := s.seedRecord("acme/tools#26", "octocat", true, "valid")
		repo, err := id.ParseRepoKey("acme/tools")
		s.Require().NoError(err)
		_, err = s.service.MarkDeleted(ctx, repo, []int64{21, 22, 23, 24, 25})
		s.Require().NoError(err)

		result, err := s.service.Claim(ctx, "alice", []id.IssueKey{key})
		s.Require().NoError(err)
		s.Equal(models.ReasonDeletedUpstream, result.Rejected[key.String()])
	})

	s.Run("requires at least one issue", func() {
		_, err := s.service.Claim(ctx, "alice", nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown participant is rejected", func() {
		_, err := s.service.Claim(ctx, "nobody", []id.IssueKey{eligible})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
