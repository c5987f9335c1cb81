package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	consensusmodels "merit/internal/consensus/models"
	consensusservice "merit/internal/consensus/service"
	consensusstore "merit/internal/consensus/store"
	"merit/internal/githubsync/metrics"
	"merit/internal/githubsync/models"
	syncstore "merit/internal/githubsync/store"
	ledgeradapters "merit/internal/ledger/adapters"
	ledgerservice "merit/internal/ledger/service"
	ledgerstore "merit/internal/ledger/store"
	"merit/internal/platform/github"
	regservice "merit/internal/registry/service"
	regstore "merit/internal/registry/store"
	rewardsconfig "merit/internal/rewards/config"
	accountsstore "merit/internal/rewards/store/accounts"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/circuit"
	"merit/pkg/platform/sentinel"
)

// =============================================================================
// Sync Service Test Suite
// =============================================================================
// Justification for unit tests: a sync pass chains fetch, vote, resolve,
// apply, and deletion reconciliation; the suite runs a single validator
// against the real consensus and ledger services (quorum of one) with only
// the upstream API faked, so every observed effect is the production
// pipeline end to end.

type fakeFetcher struct {
	issues      map[id.RepoKey][]github.Issue
	stars       map[id.RepoKey][]github.Star
	etag        string
	notModified bool
	fail        error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		issues: make(map[id.RepoKey][]github.Issue),
		stars:  make(map[id.RepoKey][]github.Star),
		etag:   `W/"etag-1"`,
	}
}

func (f *fakeFetcher) ListIssues(_ context.Context, repo id.RepoKey, etag string) ([]github.Issue, string, error) {
	if f.fail != nil {
		return nil, "", f.fail
	}
	if f.notModified && etag == f.etag {
		return nil, etag, &github.NotModifiedError{ETag: etag}
	}
	return f.issues[repo], f.etag, nil
}

func (f *fakeFetcher) ListStargazers(_ context.Context, repo id.RepoKey) ([]github.Star, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.stars[repo], nil
}

type allActive struct{}

func (allActive) IsActive(context.Context, id.ValidatorID) (bool, error) { return true, nil }

type SyncServiceSuite struct {
	suite.Suite
	fetcher   *fakeFetcher
	targets   *syncstore.InMemoryStore
	issues    *ledgerstore.InMemoryStore
	accounts  *accountsstore.InMemoryStore
	registry  *regservice.Service
	ledger    *ledgerservice.Service
	consensus *consensusservice.Service
	service   *Service
	repo      id.RepoKey
}

func TestSyncServiceSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceSuite))
}

func (s *SyncServiceSuite) SetupTest() {
	s.fetcher = newFakeFetcher()
	s.targets = syncstore.NewInMemoryStore()
	s.issues = ledgerstore.NewInMemoryStore()
	s.accounts = accountsstore.NewInMemoryStore()

	s.registry = regservice.New(regstore.NewInMemoryStore())
	resolver := ledgeradapters.NewRegistryResolver(s.registry)
	s.ledger = ledgerservice.New(s.issues, s.accounts, resolver, rewardsconfig.Default())
	s.consensus = consensusservice.New(consensusstore.NewInMemoryStore(), allActive{})

	s.service = New("validator-1", s.fetcher, s.consensus, s.ledger, s.accounts, resolver, s.targets,
		"valid", "invalid")

	var err error
	s.repo, err = id.ParseRepoKey("acme/tools")
	s.Require().NoError(err)
}

func (s *SyncServiceSuite) addTarget(kind models.TargetKind) {
	_, err := s.service.AddTarget(context.Background(), s.repo.String(), kind, "admin")
	s.Require().NoError(err)
}

func (s *SyncServiceSuite) issue(number int64, author string, closed bool, labels ...string) github.Issue {
	return github.Issue{
		Repo:      s.repo,
		Number:    number,
		Author:    author,
		Labels:    labels,
		IsClosed:  closed,
		UpdatedAt: time.Date(2025, 6, 1, 0, 0, int(number), 0, time.UTC),
	}
}

// =============================================================================
// Issue Sync Tests
// =============================================================================

func (s *SyncServiceSuite) TestRunOnce_CreditsResolvedIssue() {
	ctx := context.Background()
	_, err := s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)

	s.addTarget(models.KindIssues)
	s.fetcher.issues[s.repo] = []github.Issue{
		s.issue(42, "octocat", true, "valid"),
		s.issue(43, "octocat", false, "valid"), // open, no vote
	}

	s.Run("a single validator is its own quorum", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.ReposSynced)
		s.Zero(report.ReposFailed)
		s.Equal(1, report.IssuesApplied)

		acc, err := s.accounts.Get(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(int64(1), acc.ValidCount)
	})

	s.Run("sync state advances with the pass", func() {
		state, err := s.service.SyncState(context.Background(), s.repo.String())
		s.Require().NoError(err)
		s.Equal(id.Epoch(1), state.Epoch)
		s.Equal(int64(2), state.IssuesSynced)
		s.Equal(`W/"etag-1"`, state.ETag)
		s.Require().NotNil(state.LastIssueUpdatedAt)
		s.Equal(43, state.LastIssueUpdatedAt.Second())
	})

	s.Run("a second pass is idempotent", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Zero(report.IssuesApplied)

		acc, err := s.accounts.Get(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(int64(1), acc.ValidCount)
	})

	s.Run("an unchanged upstream still completes the pass", func() {
		s.fetcher.notModified = true
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.ReposSynced)

		state, err := s.service.SyncState(context.Background(), s.repo.String())
		s.Require().NoError(err)
		s.Equal(id.Epoch(3), state.Epoch)
		s.Equal(int64(4), state.IssuesSynced, "no issues counted on 304")
	})
}

func (s *SyncServiceSuite) TestRunOnce_PenalizesInvalidIssue() {
	ctx := context.Background()
	_, err := s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)

	s.addTarget(models.KindIssues)
	s.fetcher.issues[s.repo] = []github.Issue{
		s.issue(7, "octocat", true, "invalid"),
	}

	_, err = s.service.RunOnce(ctx)
	s.Require().NoError(err)

	acc, err := s.accounts.Get(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(1), acc.InvalidCount)
	s.Zero(acc.ValidCount)
}

func (s *SyncServiceSuite) TestRunOnce_LaggingObservationNeverOverridesQuorum() {
	ctx := context.Background()
	_, err := s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)

	s.addTarget(models.KindIssues)

	// Two peers have voted valid; this validator's fetch still shows the
	// invalid label, so its local view is the minority.
	verdict := true
	key, err := id.ParseIssueKey("acme/tools#42")
	s.Require().NoError(err)
	for _, peer := range []id.ValidatorID{"validator-2", "validator-3"} {
		err := s.consensus.Propose(ctx, consensusmodels.Proposal{
			ValidatorID: peer,
			SubjectKey:  key.String(),
			Kind:        consensusmodels.KindIssueValidity,
			Verdict:     &verdict,
			Epoch:       1,
		}, nil)
		s.Require().NoError(err)
	}
	s.fetcher.issues[s.repo] = []github.Issue{
		s.issue(42, "octocat", true, "invalid"),
	}

	s.Run("disagreeing observation is not applied", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Zero(report.IssuesApplied)

		_, err = s.accounts.Get(ctx, "alice")
		s.Require().ErrorIs(err, sentinel.ErrNotFound, "no credit and no penalty")
	})

	s.Run("an agreeing observation applies the resolved verdict", func() {
		s.fetcher.issues[s.repo] = []github.Issue{
			s.issue(42, "octocat", true, "valid"),
		}
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.IssuesApplied)

		acc, err := s.accounts.Get(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(int64(1), acc.ValidCount)
		s.Zero(acc.InvalidCount)
	})
}

func (s *SyncServiceSuite) TestRunOnce_MarksVanishedIssuesDeleted() {
	ctx := context.Background()
	_, err := s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)

	s.addTarget(models.KindIssues)
	s.fetcher.issues[s.repo] = []github.Issue{
		s.issue(1, "octocat", true, "valid"),
		s.issue(2, "octocat", true, "valid"),
	}
	_, err = s.service.RunOnce(ctx)
	s.Require().NoError(err)

	// Issue 2 disappears upstream; the resolved snapshot now only covers 1.
	s.fetcher.issues[s.repo] = []github.Issue{
		s.issue(1, "octocat", true, "valid"),
	}
	_, err = s.service.RunOnce(ctx)
	s.Require().NoError(err)

	gone, err := id.ParseIssueKey("acme/tools#2")
	s.Require().NoError(err)
	rec, err := s.issues.Get(ctx, gone)
	s.Require().NoError(err)
	s.NotNil(rec.DeletedAt)

	// Deletion never touches the attached credit.
	acc, err := s.accounts.Get(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(2), acc.ValidCount)
}

func (s *SyncServiceSuite) TestRunOnce_FetchFailure() {
	ctx := context.Background()
	s.addTarget(models.KindIssues)
	s.fetcher.fail = dErrors.New(dErrors.CodeUnavailable, "github is down")

	s.Run("a failed repo is counted, not fatal", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.ReposFailed)
		s.Zero(report.ReposSynced)
	})

	s.Run("repeated failures open the breaker", func() {
		breaker := circuit.New("github",
			circuit.WithFailureThreshold(2),
			circuit.WithSuccessThreshold(1),
		)
		svc := New("validator-1", s.fetcher, consensusservice.New(consensusstore.NewInMemoryStore(), allActive{}),
			s.ledger, s.accounts, ledgeradapters.NewRegistryResolver(s.registry), s.targets,
			"valid", "invalid", WithBreaker(breaker))

		for range 2 {
			_, err := svc.RunOnce(ctx)
			s.Require().NoError(err)
		}
		s.True(svc.BreakerOpen())

		s.fetcher.fail = nil
		_, err := svc.RunOnce(ctx)
		s.Require().NoError(err)
		s.False(svc.BreakerOpen())
	})
}

func (s *SyncServiceSuite) TestRunOnce_OpenBreakerDegradesToProbe() {
	ctx := context.Background()
	breaker := circuit.New("github",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(1),
	)
	svc := New("validator-1", s.fetcher, s.consensus, s.ledger, s.accounts,
		ledgeradapters.NewRegistryResolver(s.registry), s.targets,
		"valid", "invalid", WithBreaker(breaker))

	for _, raw := range []string{"acme/tools", "acme/libs"} {
		_, err := svc.AddTarget(ctx, raw, models.KindIssues, "admin")
		s.Require().NoError(err)
	}
	_, err := svc.AddTarget(ctx, s.repo.String(), models.KindStars, "admin")
	s.Require().NoError(err)

	s.fetcher.fail = dErrors.New(dErrors.CodeUnavailable, "github is down")
	_, err = svc.RunOnce(ctx)
	s.Require().NoError(err)
	s.Require().True(svc.BreakerOpen())

	s.fetcher.fail = nil
	_, err = s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)
	s.fetcher.stars[s.repo] = []github.Star{
		{Login: "octocat", StarredAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
	}

	s.Run("an open circuit shrinks the pass to a single probe", func() {
		report, err := svc.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.ReposSynced)
		s.Equal(2, report.ReposSkipped, "second issue target and star target skipped")
		s.Zero(report.StarsCredited)
	})

	s.Run("a successful probe restores the full pass", func() {
		s.False(svc.BreakerOpen())

		report, err := svc.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(2, report.ReposSynced)
		s.Zero(report.ReposSkipped)
		s.Equal(1, report.StarsCredited)
	})
}

func (s *SyncServiceSuite) TestRunOnce_RecordsRepoOutcomes() {
	ctx := context.Background()
	m := &metrics.Metrics{
		RunDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Name: "run_duration_seconds"}),
		ReposSynced:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repos_total"}, []string{"outcome"}),
		StarsCredited: prometheus.NewCounter(prometheus.CounterOpts{Name: "stars_credited_total"}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{Name: "fetch_failures_total"}),
	}
	svc := New("validator-1", s.fetcher, s.consensus, s.ledger, s.accounts,
		ledgeradapters.NewRegistryResolver(s.registry), s.targets,
		"valid", "invalid", WithMetrics(m))
	_, err := svc.AddTarget(ctx, s.repo.String(), models.KindIssues, "admin")
	s.Require().NoError(err)

	_, err = svc.RunOnce(ctx)
	s.Require().NoError(err)

	s.fetcher.fail = dErrors.New(dErrors.CodeUnavailable, "github is down")
	_, err = svc.RunOnce(ctx)
	s.Require().NoError(err)

	s.Equal(float64(1), promtestutil.ToFloat64(m.ReposSynced.WithLabelValues("synced")))
	s.Equal(float64(1), promtestutil.ToFloat64(m.ReposSynced.WithLabelValues("failed")))
	s.Equal(float64(1), promtestutil.ToFloat64(m.FetchFailures))
}

// =============================================================================
// Star Sync Tests
// =============================================================================

func (s *SyncServiceSuite) TestRunOnce_Stars() {
	ctx := context.Background()
	_, err := s.registry.Register(ctx, "alice", "octocat")
	s.Require().NoError(err)

	s.addTarget(models.KindStars)
	starredAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.fetcher.stars[s.repo] = []github.Star{
		{Login: "octocat", StarredAt: starredAt},
		{Login: "ghost", StarredAt: starredAt},
	}

	s.Run("first-seen star from a registered participant credits once", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, report.StarsCredited)

		acc, err := s.accounts.Get(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(int64(1), acc.StarCount)
	})

	s.Run("replayed stars credit nothing", func() {
		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Zero(report.StarsCredited)

		acc, err := s.accounts.Get(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(int64(1), acc.StarCount)
	})

	s.Run("late registration does not resurrect an already-recorded star", func() {
		_, err := s.registry.Register(ctx, "bob", "ghost")
		s.Require().NoError(err)

		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Zero(report.StarsCredited)
	})
}

// =============================================================================
// Target Management Tests
// =============================================================================

func (s *SyncServiceSuite) TestTargets() {
	ctx := context.Background()

	s.Run("rejects an unknown target kind", func() {
		_, err := s.service.AddTarget(ctx, "acme/tools", "forks", "admin")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("lists registered targets of both kinds", func() {
		s.addTarget(models.KindIssues)
		s.addTarget(models.KindStars)

		targets, err := s.service.ListTargets(ctx)
		s.Require().NoError(err)
		s.Len(targets, 2)
	})

	s.Run("removing an unregistered target is not found", func() {
		err := s.service.RemoveTarget(ctx, "acme/other", models.KindIssues, "admin")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("removed targets are skipped by the next pass", func() {
		s.Require().NoError(s.service.RemoveTarget(ctx, s.repo.String(), models.KindIssues, "admin"))
		s.fetcher.issues[s.repo] = []github.Issue{s.issue(1, "octocat", true, "valid")}

		report, err := s.service.RunOnce(ctx)
		s.Require().NoError(err)
		s.Zero(report.ReposSynced + report.ReposFailed)
	})

	s.Run("sync state before any pass is not found", func() {
		_, err := s.service.SyncState(ctx, "acme/other")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
