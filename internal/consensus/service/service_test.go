package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"merit/internal/consensus/models"
	"merit/internal/consensus/store"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
)

// =============================================================================
// Consensus Service Test Suite
// =============================================================================
// Justification for unit tests: quorum arithmetic, latest-vote-wins
// resubmission, and snapshot set grouping decide whether ledger effects fire
// at all; each threshold needs an exact vote fixture.

type fakeDirectory struct {
	inactive map[id.ValidatorID]bool
}

func (d *fakeDirectory) IsActive(_ context.Context, validatorID id.ValidatorID) (bool, error) {
	return !d.inactive[validatorID], nil
}

type fakeVerifier struct {
	valid map[string]bool
}

func (v *fakeVerifier) VerifySignature(_ context.Context, keyID string, _, _ []byte) (bool, error) {
	return v.valid[keyID], nil
}

type ConsensusServiceSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	directory *fakeDirectory
	service   *Service
}

func TestConsensusServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsensusServiceSuite))
}

func (s *ConsensusServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.directory = &fakeDirectory{inactive: make(map[id.ValidatorID]bool)}
	s.service = New(s.store, s.directory)
}

func boolPtr(v bool) *bool { return &v }

func (s *ConsensusServiceSuite) issueKey(raw string) id.IssueKey {
	key, err := id.ParseIssueKey(raw)
	s.Require().NoError(err)
	return key
}

func (s *ConsensusServiceSuite) vote(validator string, subject string, verdict bool) {
	err := s.service.Propose(context.Background(), models.Proposal{
		ValidatorID: id.ValidatorID(validator),
		SubjectKey:  subject,
		Kind:        models.KindIssueValidity,
		Verdict:     boolPtr(verdict),
		Epoch:       1,
	}, nil)
	s.Require().NoError(err)
}

func (s *ConsensusServiceSuite) snapshotVote(validator string, repo string, numbers ...int64) {
	err := s.service.Propose(context.Background(), models.Proposal{
		ValidatorID:  id.ValidatorID(validator),
		SubjectKey:   repo,
		Kind:         models.KindSyncSnapshot,
		IssueNumbers: numbers,
		Epoch:        1,
	}, nil)
	s.Require().NoError(err)
}

// =============================================================================
// Propose Tests
// =============================================================================

func (s *ConsensusServiceSuite) TestPropose() {
	ctx := context.Background()

	s.Run("rejects a validity proposal without a verdict", func() {
		err := s.service.Propose(ctx, models.Proposal{
			ValidatorID: "v1",
			SubjectKey:  "acme/tools#1",
			Kind:        models.KindIssueValidity,
		}, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects a snapshot proposal without issue numbers", func() {
		err := s.service.Propose(ctx, models.Proposal{
			ValidatorID: "v1",
			SubjectKey:  "acme/tools",
			Kind:        models.KindSyncSnapshot,
		}, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects an unknown kind", func() {
		err := s.service.Propose(ctx, models.Proposal{
			ValidatorID: "v1",
			SubjectKey:  "acme/tools#1",
			Kind:        "vibes",
			Verdict:     boolPtr(true),
		}, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects an inactive validator", func() {
		s.directory.inactive["v9"] = true
		err := s.service.Propose(ctx, models.Proposal{
			ValidatorID: "v9",
			SubjectKey:  "acme/tools#1",
			Kind:        models.KindIssueValidity,
			Verdict:     boolPtr(true),
		}, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("canonicalizes snapshot issue numbers on store", func() {
		s.snapshotVote("v1", "acme/tools", 9, 3, 3, 1)

		stored, err := s.service.ProposalsByValidator(ctx, "v1")
		s.Require().NoError(err)
		s.Require().Len(stored, 1)
		s.Equal([]int64{1, 3, 9}, stored[0].IssueNumbers)
	})
}

func (s *ConsensusServiceSuite) TestPropose_Signature() {
	ctx := context.Background()
	verifier := &fakeVerifier{valid: map[string]bool{"v1": true}}
	svc := New(s.store, s.directory, WithSignatureVerifier(verifier))

	proposal := func(validator string) models.Proposal {
		return models.Proposal{
			ValidatorID: id.ValidatorID(validator),
			SubjectKey:  "acme/tools#1",
			Kind:        models.KindIssueValidity,
			Verdict:     boolPtr(true),
		}
	}

	s.Run("accepts a verified signature", func() {
		s.NoError(svc.Propose(ctx, proposal("v1"), []byte("sig")))
	})

	s.Run("rejects an unverified signature", func() {
		err := svc.Propose(ctx, proposal("v2"), []byte("sig"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

// =============================================================================
// Issue Validity Resolution Tests
// =============================================================================

func (s *ConsensusServiceSuite) TestResolveIssueValidity() {
	ctx := context.Background()
	key := s.issueKey("acme/tools#5")

	s.Run("no proposals stays unresolved", func() {
		tally, err := s.service.ResolveIssueValidity(ctx, key)
		s.Require().NoError(err)
		s.Equal(models.VerdictUnresolved, tally.Verdict)
		s.Zero(tally.Proposals)
	})

	s.Run("three of five true votes resolve true", func() {
		for _, v := range []string{"v1", "v2", "v3"} {
			s.vote(v, key.String(), true)
		}
		for _, v := range []string{"v4", "v5"} {
			s.vote(v, key.String(), false)
		}

		tally, err := s.service.ResolveIssueValidity(ctx, key)
		s.Require().NoError(err)
		s.Equal(models.VerdictTrue, tally.Verdict)
		s.Equal(5, tally.Proposals)
		s.Equal(3, tally.TrueCount)
		s.Equal(2, tally.FalseCount)
		s.Equal(3, tally.Quorum)
	})

	s.Run("an even split stays unresolved", func() {
		// v3 flips to false: 2 true vs 3 false out of 5, quorum 3.
		s.vote("v3", key.String(), false)
		tally, err := s.service.ResolveIssueValidity(ctx, key)
		s.Require().NoError(err)
		s.Equal(models.VerdictFalse, tally.Verdict)

		other := s.issueKey("acme/tools#6")
		s.vote("v1", other.String(), true)
		s.vote("v2", other.String(), true)
		s.vote("v3", other.String(), false)
		s.vote("v4", other.String(), false)

		split, err := s.service.ResolveIssueValidity(ctx, other)
		s.Require().NoError(err)
		s.Equal(models.VerdictUnresolved, split.Verdict)
		s.Equal(4, split.Proposals)
		s.Equal(3, split.Quorum)
	})

	s.Run("resubmission replaces the previous vote", func() {
		key := s.issueKey("acme/tools#7")
		s.vote("v1", key.String(), false)
		s.vote("v1", key.String(), true)

		tally, err := s.service.ResolveIssueValidity(ctx, key)
		s.Require().NoError(err)
		s.Equal(1, tally.Proposals)
		s.Equal(1, tally.TrueCount)
		s.Zero(tally.FalseCount)
		// A single validator is its own quorum.
		s.Equal(models.VerdictTrue, tally.Verdict)
	})
}

// =============================================================================
// Sync Snapshot Resolution Tests
// =============================================================================

func (s *ConsensusServiceSuite) TestResolveSyncSnapshot() {
	ctx := context.Background()
	repo, err := id.ParseRepoKey("acme/tools")
	s.Require().NoError(err)

	s.Run("no proposals yields no snapshot", func() {
		snap, err := s.service.ResolveSyncSnapshot(ctx, repo)
		s.Require().NoError(err)
		s.Nil(snap)
	})

	s.Run("a majority set wins regardless of element order", func() {
		s.snapshotVote("v1", repo.String(), 1, 2, 3)
		s.snapshotVote("v2", repo.String(), 3, 2, 1)
		s.snapshotVote("v3", repo.String(), 1, 2)

		snap, err := s.service.ResolveSyncSnapshot(ctx, repo)
		s.Require().NoError(err)
		s.Require().NotNil(snap)
		s.Equal([]int64{1, 2, 3}, snap.IssueNumbers)
		s.ElementsMatch([]id.ValidatorID{"v1", "v2"}, snap.Validators)
	})

	s.Run("three disjoint sets leave the snapshot unresolved", func() {
		s.snapshotVote("v1", repo.String(), 1)
		s.snapshotVote("v2", repo.String(), 2)
		s.snapshotVote("v3", repo.String(), 3)

		snap, err := s.service.ResolveSyncSnapshot(ctx, repo)
		s.Require().NoError(err)
		s.Nil(snap)
	})
}
