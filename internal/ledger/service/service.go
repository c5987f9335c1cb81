// Package service applies sync observations to the issue ledger. The label
// change classification happens exactly once per observation (models.Snapshot)
// and the typed result drives credits, penalties, and reversals.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ledgermetrics "merit/internal/ledger/metrics"
	"merit/internal/ledger/models"
	ledgerstore "merit/internal/ledger/store"
	rewardsconfig "merit/internal/rewards/config"
	accountsstore "merit/internal/rewards/store/accounts"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/platform/tx"
	"merit/pkg/requestcontext"
)

var tracer = otel.Tracer("merit/internal/ledger")

// IdentityResolver maps an external login to a participant key. The ledger
// treats an unresolved author as "valid but uncredited", never as an error.
type IdentityResolver interface {
	ResolveLogin(ctx context.Context, login id.Login) (id.ParticipantKey, error)
	Get(ctx context.Context, rawKey string) (*ParticipantRef, error)
}

// ParticipantRef is the slice of the registry record claims need.
type ParticipantRef struct {
	Key              id.ParticipantKey
	ExternalIdentity id.Login
}

// Service is the issue ledger.
type Service struct {
	issues    ledgerstore.Store
	accounts  accountsstore.Store
	resolver  IdentityResolver
	runner    tx.Runner
	policy    rewardsconfig.Config
	logger    *slog.Logger
	publisher audit.Publisher
	metrics   *ledgermetrics.Metrics
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

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.runner = r
		}
	}
}

func New(issues ledgerstore.Store, accounts accountsstore.Store, resolver IdentityResolver, policy rewardsconfig.Config, opts ...Option) *Service {
	s := &Service{
		issues:    issues,
		accounts:  accounts,
		resolver:  resolver,
		runner:    tx.NewNopRunner(),
		policy:    policy,
		logger:    slog.Default(),
		publisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyTransition applies one sync observation. The label/state snapshot and
// any credit or penalty effect commit together or not at all; a persistence
// failure aborts the whole pass and the caller retries later. Idempotency
// markers make those retries safe.
func (s *Service) ApplyTransition(ctx context.Context, obs models.Observation) (models.TransitionResult, error) {
	start := time.Now()
	obs.Normalize()
	if obs.Key.IsZero() {
		return models.TransitionResult{}, dErrors.New(dErrors.CodeInvalidInput, "observation requires an issue key")
	}

	ctx, span := tracer.Start(ctx, "ledger.ApplyTransition", trace.WithAttributes(
		attribute.String("issue.key", obs.Key.String()),
	))
	defer span.End()

	result := models.TransitionResult{Key: obs.Key}
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		prev, err := s.issues.Get(txCtx, obs.Key)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issue record")
		}

		penalized, err := s.issues.HasMarker(txCtx, obs.Key, models.TransitionPenalty)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check penalty marker")
		}

		snap := models.NewSnapshot(prev, obs, s.policy.ValidLabel, s.policy.InvalidLabel, penalized)
		changes := snap.Changes()

		rec := models.IssueRecord{
			Key:           obs.Key,
			Author:        obs.Author,
			IsClosed:      obs.IsClosed,
			Labels:        obs.Labels,
			State:         snap.State(),
			RecordedEpoch: obs.Epoch,
			UpdatedAt:     requestcontext.Now(txCtx),
		}
		if prev != nil {
			rec.RecordedEpoch = prev.RecordedEpoch
			rec.CreditedTo = prev.CreditedTo
			// Reappearance clears the deletion marker implicitly.
			rec.DeletedAt = nil
		}

		for _, change := range changes {
			switch change {
			case models.ChangeLostValid:
				if err := s.applyLostValid(txCtx, prev, &rec, &result); err != nil {
					return err
				}
			case models.ChangeBecameInvalid:
				if err := s.applyBecameInvalid(txCtx, obs, &result); err != nil {
					return err
				}
			case models.ChangeBecameValid:
				if err := s.applyBecameValid(txCtx, obs, &rec, &result); err != nil {
					return err
				}
			}
		}

		if err := s.issues.Upsert(txCtx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist issue record")
		}
		result.Changes = changes
		return nil
	})
	if err != nil {
		return models.TransitionResult{}, err
	}

	if s.metrics != nil {
		for _, change := range result.Changes {
			s.metrics.ObserveTransition(string(change), start)
		}
	}
	if result.Applied() {
		s.logger.InfoContext(ctx, "ledger transition applied",
			"issue", obs.Key.String(),
			"changes", result.Changes,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return result, nil
}

func (s *Service) applyLostValid(ctx context.Context, prev *models.IssueRecord, rec *models.IssueRecord, result *models.TransitionResult) error {
	// Sole reversal point: only an attached credit is undone.
	if prev == nil || !prev.IsCredited() {
		return nil
	}
	holder := *prev.CreditedTo
	now := requestcontext.Now(ctx)

	if err := s.accounts.IncrementValid(ctx, holder, -1, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reverse credit")
	}
	if err := s.issues.DeleteMarker(ctx, rec.Key, models.TransitionCredit); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove credit marker")
	}
	rec.CreditedTo = nil

	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionCreditReversed,
		SubjectID: rec.Key.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"participant": holder.String()},
		CreatedAt: now,
	})
	return nil
}

func (s *Service) applyBecameInvalid(ctx context.Context, obs models.Observation, result *models.TransitionResult) error {
	// The penalty marker is recorded even when the author is unregistered so
	// a later observation cannot double-penalize.
	applied, err := s.issues.InsertMarker(ctx, obs.Key, models.TransitionPenalty, "")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record penalty marker")
	}
	if !applied {
		result.Reason = "Penalty already recorded"
		return nil
	}

	now := requestcontext.Now(ctx)
	participant, err := s.resolveAuthor(ctx, obs.Author)
	if err != nil {
		return err
	}
	if participant.IsNil() {
		return nil
	}
	if err := s.accounts.IncrementInvalid(ctx, participant, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply penalty")
	}

	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionIssuePenalized,
		SubjectID: obs.Key.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"participant": participant.String(), "author": obs.Author.String()},
		CreatedAt: now,
	})
	return nil
}

func (s *Service) applyBecameValid(ctx context.Context, obs models.Observation, rec *models.IssueRecord, result *models.TransitionResult) error {
	participant, err := s.resolveAuthor(ctx, obs.Author)
	if err != nil {
		return err
	}
	if participant.IsNil() {
		// Author not registered: the record stays valid and uncredited. The
		// observation is not dropped; it remains eligible for credit via a
		// later re-sync or an explicit claim.
		s.logger.DebugContext(ctx, "valid issue without registered author",
			"issue", obs.Key.String(),
			"author", obs.Author.String(),
		)
		return nil
	}

	applied, err := s.issues.InsertMarker(ctx, obs.Key, models.TransitionCredit, participant)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record credit marker")
	}
	if !applied {
		// Another validator won the race; this pass is a no-op.
		result.Reason = models.ReasonAlreadyClaimed
		return nil
	}

	now := requestcontext.Now(ctx)
	if err := s.accounts.IncrementValid(ctx, participant, 1, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply credit")
	}
	rec.CreditedTo = &participant
	result.CreditedTo = &participant

	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionIssueCredited,
		SubjectID: obs.Key.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"participant": participant.String(), "author": obs.Author.String()},
		CreatedAt: now,
	})
	return nil
}

// resolveAuthor maps a login to a participant key, treating "not registered"
// as the zero key rather than an error.
func (s *Service) resolveAuthor(ctx context.Context, author id.Login) (id.ParticipantKey, error) {
	if author.IsNil() {
		return "", nil
	}
	participant, err := s.resolver.ResolveLogin(ctx, author)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return "", nil
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve author")
	}
	return participant, nil
}

// MarkDeleted flags every stored, non-deleted record of repo whose number is
// absent from seen. Deletion never touches credits.
func (s *Service) MarkDeleted(ctx context.Context, repo id.RepoKey, seen []int64) (int, error) {
	if repo.IsZero() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "repo key is required")
	}
	marked, err := s.issues.MarkDeleted(ctx, repo, seen, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark deleted issues")
	}
	if marked > 0 {
		s.logger.InfoContext(ctx, "issues marked deleted upstream",
			"repo", repo.String(),
			"count", marked,
		)
	}
	return marked, nil
}

// Restore clears the deletion marker when an issue reappears upstream.
func (s *Service) Restore(ctx context.Context, key id.IssueKey) error {
	if err := s.issues.Restore(ctx, key); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "issue not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to restore issue")
	}
	return nil
}
