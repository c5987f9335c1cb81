package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"merit/internal/ledger/models"
	ledgerstore "merit/internal/ledger/store"
	rewardsconfig "merit/internal/rewards/config"
	rewardsmodels "merit/internal/rewards/models"
	accountsstore "merit/internal/rewards/store/accounts"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
)

// =============================================================================
// Ledger Service Test Suite
// =============================================================================
// Justification for unit tests: the transition engine carries the hardest
// guarantees in the system (credit at most once, penalty at most once,
// reversal exactly once per attached credit) and the race-sensitive paths
// cannot be exercised deterministically through HTTP-level tests.

type fakeResolver struct {
	logins       map[id.Login]id.ParticipantKey
	participants map[string]*ParticipantRef
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		logins:       make(map[id.Login]id.ParticipantKey),
		participants: make(map[string]*ParticipantRef),
	}
}

func (r *fakeResolver) register(key id.ParticipantKey, login id.Login) {
	r.logins[login] = key
	r.participants[key.String()] = &ParticipantRef{Key: key, ExternalIdentity: login}
}

func (r *fakeResolver) ResolveLogin(_ context.Context, login id.Login) (id.ParticipantKey, error) {
	key, ok := r.logins[login]
	if !ok {
		return "", dErrors.New(dErrors.CodeNotFound, "participant not found")
	}
	return key, nil
}

func (r *fakeResolver) Get(_ context.Context, rawKey string) (*ParticipantRef, error) {
	ref, ok := r.participants[rawKey]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
	}
	return ref, nil
}

type LedgerServiceSuite struct {
	suite.Suite
	issues   *ledgerstore.InMemoryStore
	accounts *accountsstore.InMemoryStore
	resolver *fakeResolver
	service  *Service
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.issues = ledgerstore.NewInMemoryStore()
	s.accounts = accountsstore.NewInMemoryStore()
	s.resolver = newFakeResolver()
	s.service = New(s.issues, s.accounts, s.resolver, rewardsconfig.Default())
}

func (s *LedgerServiceSuite) issueKey(raw string) id.IssueKey {
	key, err := id.ParseIssueKey(raw)
	s.Require().NoError(err)
	return key
}

func (s *LedgerServiceSuite) observation(raw string, author string, labels ...string) models.Observation {
	return models.Observation{
		Key:      s.issueKey(raw),
		Author:   id.Login(author),
		Labels:   labels,
		IsClosed: true,
		Epoch:    1,
	}
}

func (s *LedgerServiceSuite) account(key id.ParticipantKey) rewardsmodels.RewardAccount {
	acc, err := s.accounts.Get(context.Background(), key)
	s.Require().NoError(err)
	return *acc
}

// =============================================================================
// ApplyTransition Tests
// =============================================================================

func (s *LedgerServiceSuite) TestApplyTransition_Credit() {
	ctx := context.Background()
	s.resolver.register("alice", "octocat")
	obs := s.observation("acme/tools#42", "octocat", "valid")

	s.Run("credits a newly valid issue", func() {
		result, err := s.service.ApplyTransition(ctx, obs)
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeBecameValid}, result.Changes)
		s.Require().NotNil(result.CreditedTo)
		s.Equal(id.ParticipantKey("alice"), *result.CreditedTo)
		s.Equal(int64(1), s.account("alice").ValidCount)
	})

	s.Run("replaying the same observation is a no-op", func() {
		result, err := s.service.ApplyTransition(ctx, obs)
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeNone}, result.Changes)
		s.Equal(int64(1), s.account("alice").ValidCount)
	})

	s.Run("rejects an observation without an issue key", func() {
		_, err := s.service.ApplyTransition(ctx, models.Observation{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerServiceSuite) TestApplyTransition_Reversal() {
	ctx := context.Background()
	s.resolver.register("alice", "octocat")

	_, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#7", "octocat", "valid"))
	s.Require().NoError(err)
	s.Equal(int64(1), s.account("alice").ValidCount)

	s.Run("removing the valid label reverses the credit", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#7", "octocat", "bug"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeLostValid}, result.Changes)
		s.Equal(int64(0), s.account("alice").ValidCount)
	})

	s.Run("replaying the reversal does not double-decrement", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#7", "octocat", "bug"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeNone}, result.Changes)
		s.Equal(int64(0), s.account("alice").ValidCount)
	})

	s.Run("re-labeling valid credits again", func() {
		// The reversal released the credit marker, so the next valid
		// observation starts a fresh credit lifecycle.
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#7", "octocat", "valid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeBecameValid}, result.Changes)
		s.Equal(int64(1), s.account("alice").ValidCount)
	})
}

func (s *LedgerServiceSuite) TestApplyTransition_Penalty() {
	ctx := context.Background()
	s.resolver.register("alice", "octocat")

	s.Run("valid to invalid flip reverses and penalizes in one pass", func() {
		_, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#9", "octocat", "valid"))
		s.Require().NoError(err)

		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#9", "octocat", "invalid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeLostValid, models.ChangeBecameInvalid}, result.Changes)

		acc := s.account("alice")
		s.Equal(int64(0), acc.ValidCount)
		s.Equal(int64(1), acc.InvalidCount)
	})

	s.Run("penalty applies at most once per issue lifetime", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#9", "octocat", "invalid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeNone}, result.Changes)
		s.Equal(int64(1), s.account("alice").InvalidCount)
	})

	s.Run("invalid label wins when both labels are present", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#10", "octocat", "valid", "invalid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeBecameInvalid}, result.Changes)

		rec, err := s.issues.Get(ctx, s.issueKey("acme/tools#10"))
		s.Require().NoError(err)
		s.Equal(models.StateInvalid, rec.State)
		s.Nil(rec.CreditedTo)
	})
}

func (s *LedgerServiceSuite) TestApplyTransition_UnregisteredAuthor() {
	ctx := context.Background()

	s.Run("valid issue of an unregistered author stays uncredited", func() {
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#3", "ghost", "valid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeBecameValid}, result.Changes)
		s.Nil(result.CreditedTo)

		rec, err := s.issues.Get(ctx, s.issueKey("acme/tools#3"))
		s.Require().NoError(err)
		s.Equal(models.StateValid, rec.State)
		s.Nil(rec.CreditedTo)
	})

	s.Run("a later pass credits the now-registered author", func() {
		s.resolver.register("bob", "ghost")

		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#3", "ghost", "valid"))
		s.Require().NoError(err)
		s.Require().NotNil(result.CreditedTo)
		s.Equal(id.ParticipantKey("bob"), *result.CreditedTo)
		s.Equal(int64(1), s.account("bob").ValidCount)
	})

	s.Run("penalty marker is recorded even without a registered author", func() {
		_, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#4", "stranger", "invalid"))
		s.Require().NoError(err)

		// Registering afterwards must not convert the old observation into
		// a penalty.
		s.resolver.register("carol", "stranger")
		result, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#4", "stranger", "invalid"))
		s.Require().NoError(err)
		s.Equal([]models.LabelChange{models.ChangeNone}, result.Changes)

		_, err = s.accounts.Get(ctx, "carol")
		s.Require().Error(err)
	})
}

// =============================================================================
// Deletion Tests
// =============================================================================

func (s *LedgerServiceSuite) TestMarkDeleted() {
	ctx := context.Background()
	s.resolver.register("alice", "octocat")

	_, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#1", "octocat", "valid"))
	s.Require().NoError(err)
	_, err = s.service.ApplyTransition(ctx, s.observation("acme/tools#2", "octocat", "bug"))
	s.Require().NoError(err)

	repo, err := id.ParseRepoKey("acme/tools")
	s.Require().NoError(err)

	s.Run("marks records absent from the seen set", func() {
		marked, err := s.service.MarkDeleted(ctx, repo, []int64{1})
		s.Require().NoError(err)
		s.Equal(1, marked)

		rec, err := s.issues.Get(ctx, s.issueKey("acme/tools#2"))
		s.Require().NoError(err)
		s.NotNil(rec.DeletedAt)
	})

	s.Run("deletion never touches the attached credit", func() {
		rec, err := s.issues.Get(ctx, s.issueKey("acme/tools#1"))
		s.Require().NoError(err)
		s.Nil(rec.DeletedAt)
		s.Equal(int64(1), s.account("alice").ValidCount)
	})

	s.Run("reappearance clears the deletion marker", func() {
		_, err := s.service.ApplyTransition(ctx, s.observation("acme/tools#2", "octocat", "bug"))
		s.Require().NoError(err)

		rec, err := s.issues.Get(ctx, s.issueKey("acme/tools#2"))
		s.Require().NoError(err)
		s.Nil(rec.DeletedAt)
	})

	s.Run("requires a repo key", func() {
		_, err := s.service.MarkDeleted(ctx, id.RepoKey{}, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
