// Package service implements the sync collaborator: it observes GitHub,
// votes through the consensus engine, and applies resolved observations to
// the ledger. Every validator process runs the same passes against the same
// shared store; agreement emerges from proposals, never from coordination.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	consensusmodels "merit/internal/consensus/models"
	"merit/internal/githubsync/metrics"
	"merit/internal/githubsync/models"
	"merit/internal/githubsync/store"
	ledgermodels "merit/internal/ledger/models"
	"merit/internal/platform/github"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/circuit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

var tracer = otel.Tracer("merit/internal/githubsync")

// maxConcurrentRepos bounds the fan-out of one sync pass.
const maxConcurrentRepos = 4

//go:generate mockgen -destination=../mocks/mock_fetcher.go -package=mocks merit/internal/githubsync/service Fetcher

// Fetcher is the upstream API port, satisfied by the GitHub client.
type Fetcher interface {
	ListIssues(ctx context.Context, repo id.RepoKey, etag string) ([]github.Issue, string, error)
	ListStargazers(ctx context.Context, repo id.RepoKey) ([]github.Star, error)
}

// Consensus is the voting port.
type Consensus interface {
	Propose(ctx context.Context, p consensusmodels.Proposal, signature []byte) error
	ResolveIssueValidity(ctx context.Context, key id.IssueKey) (consensusmodels.Tally, error)
	ResolveSyncSnapshot(ctx context.Context, repo id.RepoKey) (*consensusmodels.Snapshot, error)
}

// Ledger is the transition port.
type Ledger interface {
	ApplyTransition(ctx context.Context, obs ledgermodels.Observation) (ledgermodels.TransitionResult, error)
	MarkDeleted(ctx context.Context, repo id.RepoKey, seen []int64) (int, error)
}

// StarCrediter increments a participant's star tally.
type StarCrediter interface {
	IncrementStars(ctx context.Context, key id.ParticipantKey, at time.Time) error
}

// IdentityResolver maps logins to registered participants.
type IdentityResolver interface {
	ResolveLogin(ctx context.Context, login id.Login) (id.ParticipantKey, error)
}

// Service runs sync passes for one validator.
type Service struct {
	validatorID  id.ValidatorID
	fetcher      Fetcher
	consensus    Consensus
	ledger       Ledger
	stars        StarCrediter
	resolver     IdentityResolver
	store        store.Store
	breaker      *circuit.Breaker
	validLabel   string
	invalidLabel string
	logger       *slog.Logger
	publisher    audit.Publisher
	metrics      *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func New(validatorID id.ValidatorID, fetcher Fetcher, consensus Consensus, ledger Ledger, stars StarCrediter, resolver IdentityResolver, st store.Store, validLabel, invalidLabel string, opts ...Option) *Service {
	s := &Service{
		validatorID:  validatorID,
		fetcher:      fetcher,
		consensus:    consensus,
		ledger:       ledger,
		stars:        stars,
		resolver:     resolver,
		store:        st,
		breaker:      circuit.New("github"),
		validLabel:   validLabel,
		invalidLabel: invalidLabel,
		logger:       slog.Default(),
		publisher:    audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce executes one full pass: issue targets first, then star targets.
// Per-repo failures are counted and logged but never abort the pass.
func (s *Service) RunOnce(ctx context.Context) (models.RunReport, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "githubsync.RunOnce",
		trace.WithAttributes(attribute.String("validator_id", s.validatorID.String())))
	defer span.End()

	var report models.RunReport

	issueTargets, err := s.store.ListTargets(ctx, models.KindIssues)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issue targets")
	}
	starTargets, err := s.store.ListTargets(ctx, models.KindStars)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list star targets")
	}

	// While the circuit is open the pass degrades to a single probe fetch.
	// The probe either closes the circuit or keeps it open for next time;
	// every other target is skipped without touching upstream.
	if s.breaker.IsOpen() {
		total := len(issueTargets) + len(starTargets)
		if len(issueTargets) > 0 {
			issueTargets = issueTargets[:1]
			starTargets = nil
		} else if len(starTargets) > 0 {
			starTargets = starTargets[:1]
		}
		report.ReposSkipped = total - len(issueTargets) - len(starTargets)
		s.logger.WarnContext(ctx, "github circuit open, degrading pass to a probe",
			"skipped", report.ReposSkipped,
		)
	}

	type repoResult struct {
		applied int
		err     error
	}
	results := make([]repoResult, len(issueTargets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRepos)
	for i, target := range issueTargets {
		g.Go(func() error {
			applied, err := s.syncRepo(gctx, target.Repo)
			results[i] = repoResult{applied: applied, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res.err != nil {
			report.ReposFailed++
			s.observeRepo("failed")
			s.logger.ErrorContext(ctx, "repo sync failed",
				"repo", issueTargets[i].Repo.String(),
				"error", res.err,
			)
			continue
		}
		report.ReposSynced++
		report.IssuesApplied += res.applied
		s.observeRepo("synced")
	}

	for _, target := range starTargets {
		credited, err := s.syncStars(ctx, target.Repo)
		if err != nil {
			report.ReposFailed++
			s.observeRepo("failed")
			s.logger.ErrorContext(ctx, "star sync failed",
				"repo", target.Repo.String(),
				"error", err,
			)
			continue
		}
		report.StarsCredited += credited
	}

	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(report.Duration.Seconds())
	}
	s.logger.InfoContext(ctx, "sync pass completed",
		"repos_synced", report.ReposSynced,
		"repos_failed", report.ReposFailed,
		"issues_applied", report.IssuesApplied,
		"stars_credited", report.StarsCredited,
		"duration", report.Duration,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionSyncCompleted,
		ActorID:   s.validatorID.String(),
		SubjectID: s.validatorID.String(),
		Metadata: map[string]any{
			"repos_synced":   report.ReposSynced,
			"repos_failed":   report.ReposFailed,
			"issues_applied": report.IssuesApplied,
			"stars_credited": report.StarsCredited,
		},
		CreatedAt: requestcontext.Now(ctx),
	})
	return report, nil
}

// syncRepo observes one repository, votes, and applies whatever the current
// proposal set resolves to. Returns how many transitions were applied.
func (s *Service) syncRepo(ctx context.Context, repo id.RepoKey) (int, error) {
	state, err := s.store.GetSyncState(ctx, repo)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return 0, err
		}
		state = &models.SyncState{Repo: repo}
	}
	epoch := state.Epoch + 1

	issues, etag, err := s.fetchIssues(ctx, repo, state.ETag)
	if err != nil {
		var notModified *github.NotModifiedError
		if errors.As(err, &notModified) {
			// Nothing changed upstream; still revisit resolutions, since
			// other validators may have voted since the last pass.
			issues = nil
			etag = state.ETag
		} else {
			return 0, err
		}
	}

	seen := make([]int64, 0, len(issues))
	for _, issue := range issues {
		seen = append(seen, issue.Number)
		if err := s.voteOnIssue(ctx, issue, epoch); err != nil {
			return 0, err
		}
	}
	if len(seen) > 0 {
		snapshot := consensusmodels.Proposal{
			ValidatorID:  s.validatorID,
			SubjectKey:   repo.String(),
			Kind:         consensusmodels.KindSyncSnapshot,
			IssueNumbers: seen,
			Epoch:        epoch,
		}
		if err := s.consensus.Propose(ctx, snapshot, nil); err != nil {
			return 0, err
		}
	}

	applied, err := s.applyResolutions(ctx, repo, issues, epoch)
	if err != nil {
		return 0, err
	}

	resolved, err := s.consensus.ResolveSyncSnapshot(ctx, repo)
	if err != nil {
		return 0, err
	}
	if resolved != nil {
		missing, err := s.ledger.MarkDeleted(ctx, repo, resolved.IssueNumbers)
		if err != nil {
			return 0, err
		}
		if missing > 0 {
			s.logger.InfoContext(ctx, "issues marked deleted upstream",
				"repo", repo.String(),
				"count", missing,
			)
		}
	}

	now := requestcontext.Now(ctx)
	state.Epoch = epoch
	state.LastSyncAt = &now
	state.ETag = etag
	state.IssuesSynced += int64(len(issues))
	for _, issue := range issues {
		if state.LastIssueUpdatedAt == nil || issue.UpdatedAt.After(*state.LastIssueUpdatedAt) {
			t := issue.UpdatedAt
			state.LastIssueUpdatedAt = &t
		}
	}
	if err := s.store.SaveSyncState(ctx, *state); err != nil {
		return 0, err
	}
	return applied, nil
}

// voteOnIssue submits this validator's verdict for one closed, labeled
// issue. Open or unlabeled issues carry no vote.
func (s *Service) voteOnIssue(ctx context.Context, issue github.Issue, epoch id.Epoch) error {
	if !issue.IsClosed {
		return nil
	}
	hasValid := hasLabel(issue.Labels, s.validLabel)
	hasInvalid := hasLabel(issue.Labels, s.invalidLabel)
	if !hasValid && !hasInvalid {
		return nil
	}
	verdict := hasValid && !hasInvalid
	key := id.IssueKey{Repo: issue.Repo, Number: issue.Number}
	return s.consensus.Propose(ctx, consensusmodels.Proposal{
		ValidatorID: s.validatorID,
		SubjectKey:  key.String(),
		Kind:        consensusmodels.KindIssueValidity,
		Verdict:     &verdict,
		Epoch:       epoch,
	}, nil)
}

// applyResolutions walks the observed issues and applies the ones whose
// validity has reached quorum. The ledger's idempotency markers make
// repeated application across passes and validators harmless.
func (s *Service) applyResolutions(ctx context.Context, repo id.RepoKey, issues []github.Issue, epoch id.Epoch) (int, error) {
	var applied int
	for _, issue := range issues {
		if !issue.IsClosed {
			continue
		}
		key := id.IssueKey{Repo: repo, Number: issue.Number}
		tally, err := s.consensus.ResolveIssueValidity(ctx, key)
		if err != nil {
			return applied, err
		}
		if tally.Verdict == consensusmodels.VerdictUnresolved {
			continue
		}
		localValid := hasLabel(issue.Labels, s.validLabel) && !hasLabel(issue.Labels, s.invalidLabel)
		if localValid != (tally.Verdict == consensusmodels.VerdictTrue) {
			// This validator's fetch disagrees with the quorum, so its
			// labels are not trusted input. A validator whose observation
			// matches the verdict applies the transition instead.
			s.logger.WarnContext(ctx, "local observation disagrees with resolved verdict, skipping",
				"issue", key.String(),
				"verdict", string(tally.Verdict),
			)
			continue
		}

		result, err := s.ledger.ApplyTransition(ctx, ledgermodels.Observation{
			Key:      key,
			Author:   id.Login(issue.Author),
			Labels:   issue.Labels,
			IsClosed: issue.IsClosed,
			Epoch:    epoch,
		})
		if err != nil {
			return applied, err
		}
		if result.Applied() {
			applied++
			_ = s.publisher.Publish(ctx, audit.Event{
				Action:    audit.ActionSubjectResolved,
				ActorID:   s.validatorID.String(),
				SubjectID: key.String(),
				Metadata: map[string]any{
					"verdict":     string(tally.Verdict),
					"true_count":  tally.TrueCount,
					"false_count": tally.FalseCount,
					"quorum":      tally.Quorum,
				},
				CreatedAt: requestcontext.Now(ctx),
			})
		}
	}
	return applied, nil
}

// syncStars credits first-seen stars from registered participants. Stars
// from unregistered logins are recorded but credit nothing.
func (s *Service) syncStars(ctx context.Context, repo id.RepoKey) (int, error) {
	stars, err := s.fetchStars(ctx, repo)
	if err != nil {
		return 0, err
	}

	var credited int
	now := requestcontext.Now(ctx)
	for _, star := range stars {
		login, err := id.ParseLogin(star.Login)
		if err != nil {
			continue
		}
		inserted, err := s.store.InsertStar(ctx, models.Star{
			Login:     login,
			Repo:      repo,
			StarredAt: star.StarredAt,
		})
		if err != nil {
			return credited, err
		}
		if !inserted {
			continue
		}
		participant, err := s.resolver.ResolveLogin(ctx, login)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return credited, err
		}
		if err := s.stars.IncrementStars(ctx, participant, now); err != nil {
			return credited, err
		}
		credited++
		if s.metrics != nil {
			s.metrics.StarsCredited.Inc()
		}
	}
	return credited, nil
}

func (s *Service) fetchIssues(ctx context.Context, repo id.RepoKey, etag string) ([]github.Issue, string, error) {
	issues, newETag, err := s.fetcher.ListIssues(ctx, repo, etag)
	s.recordFetch(ctx, err)
	return issues, newETag, err
}

func (s *Service) fetchStars(ctx context.Context, repo id.RepoKey) ([]github.Star, error) {
	stars, err := s.fetcher.ListStargazers(ctx, repo)
	s.recordFetch(ctx, err)
	return stars, err
}

// observeRepo counts one repo sync attempt by outcome.
func (s *Service) observeRepo(outcome string) {
	if s.metrics != nil {
		s.metrics.ReposSynced.WithLabelValues(outcome).Inc()
	}
}

// recordFetch feeds the breaker. A 304 is a healthy response.
func (s *Service) recordFetch(ctx context.Context, err error) {
	var notModified *github.NotModifiedError
	if err == nil || errors.As(err, &notModified) {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "github circuit closed")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.FetchFailures.Inc()
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "github circuit opened", "error", err)
	}
}

// BreakerOpen reports whether the upstream circuit is currently open, for
// readiness reporting.
func (s *Service) BreakerOpen() bool {
	return s.breaker.IsOpen()
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
