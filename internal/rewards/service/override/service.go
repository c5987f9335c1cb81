// Package override implements the time-bounded administrative bonus
// subsystem. Bonuses adjust published weight without ever touching the
// ledger's point accounting.
package override

import (
	"context"
	"errors"
	"log/slog"
	"time"

	rewardsconfig "merit/internal/rewards/config"
	"merit/internal/rewards/models"
	overridestore "merit/internal/rewards/store/override"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// ParticipantChecker verifies the grantee exists.
type ParticipantChecker interface {
	Get(ctx context.Context, rawKey string) (exists bool, err error)
}

// Service grants, revokes, and lists administrative weight overrides.
type Service struct {
	store     overridestore.Store
	checker   ParticipantChecker
	policy    rewardsconfig.Config
	logger    *slog.Logger
	publisher audit.Publisher
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

func New(store overridestore.Store, checker ParticipantChecker, policy rewardsconfig.Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		checker:   checker,
		policy:    policy,
		logger:    slog.Default(),
		publisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant creates a new active bonus. A non-positive duration falls back to
// the policy default (24h).
func (s *Service) Grant(ctx context.Context, rawParticipant string, bonusWeight float64, reason, grantedBy string, duration time.Duration) (*models.Override, error) {
	participant, err := id.ParseParticipantKey(rawParticipant)
	if err != nil {
		return nil, err
	}
	if bonusWeight <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "bonus weight must be positive")
	}
	if grantedBy == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "granted_by is required")
	}
	if duration <= 0 {
		duration = s.policy.DefaultBonusDuration
	}

	exists, err := s.checker.Get(ctx, participant.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify participant")
	}
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
	}

	now := requestcontext.Now(ctx)
	o := models.Override{
		ID:             id.NewOverrideID(),
		ParticipantKey: participant,
		BonusWeight:    bonusWeight,
		Reason:         reason,
		GrantedBy:      grantedBy,
		GrantedAt:      now,
		ExpiresAt:      now.Add(duration),
		Active:         true,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store override")
	}

	s.logger.InfoContext(ctx, "override granted",
		"override_id", o.ID.String(),
		"participant", participant.String(),
		"bonus_weight", bonusWeight,
		"expires_at", o.ExpiresAt,
		"granted_by", grantedBy,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionOverrideGranted,
		ActorID:   grantedBy,
		SubjectID: participant.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata: map[string]any{
			"override_id":  o.ID.String(),
			"bonus_weight": bonusWeight,
			"reason":       reason,
			"expires_at":   o.ExpiresAt,
		},
		CreatedAt: now,
	})
	return &o, nil
}

// Revoke deactivates a bonus immediately, regardless of its expiry. The row
// stays in place with an annotated reason (audit trail).
func (s *Service) Revoke(ctx context.Context, rawID, revokedBy string) error {
	overrideID, err := id.ParseOverrideID(rawID)
	if err != nil {
		return err
	}
	if revokedBy == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "revoked_by is required")
	}

	o, err := s.store.Get(ctx, overrideID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "override not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load override")
	}
	if !o.Active {
		return dErrors.New(dErrors.CodeConflict, "override is already revoked")
	}

	now := requestcontext.Now(ctx)
	o.Revoke(revokedBy, now)
	if err := s.store.Update(ctx, *o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store revocation")
	}

	s.logger.InfoContext(ctx, "override revoked",
		"override_id", overrideID.String(),
		"revoked_by", revokedBy,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionOverrideRevoked,
		ActorID:   revokedBy,
		SubjectID: o.ParticipantKey.String(),
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"override_id": overrideID.String()},
		CreatedAt: now,
	})
	return nil
}

// ListActive returns bonuses contributing at asOf: active and not expired.
// Expired-but-active rows are excluded without any write.
func (s *Service) ListActive(ctx context.Context, asOf time.Time) ([]models.Override, error) {
	overrides, err := s.store.ListActive(ctx, asOf)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active overrides")
	}
	return overrides, nil
}

// ListAll returns the full override history for audit display.
func (s *Service) ListAll(ctx context.Context) ([]models.Override, error) {
	overrides, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overrides")
	}
	return overrides, nil
}
