// Package service manages validator registration and authentication.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"merit/internal/jwttoken"
	"merit/internal/validator/models"
	"merit/internal/validator/secrets"
	"merit/internal/validator/store"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// Service registers validators, exchanges secrets for tokens, and answers
// activity checks for the consensus engine.
type Service struct {
	store     store.Store
	tokens    *jwttoken.JWTService
	tokenTTL  time.Duration
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

func New(store store.Store, tokens *jwttoken.JWTService, tokenTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tokens:    tokens,
		tokenTTL:  tokenTTL,
		logger:    slog.Default(),
		publisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a validator and returns the generated plaintext secret.
// The secret is shown exactly once; only its hash is stored.
func (s *Service) Register(ctx context.Context, rawID, registeredBy string) (*models.Validator, string, error) {
	validatorID, err := id.ParseValidatorID(rawID)
	if err != nil {
		return nil, "", err
	}

	secret, err := secrets.Generate()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate secret")
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash secret")
	}

	now := requestcontext.Now(ctx)
	v := models.Validator{
		ID:         validatorID,
		SecretHash: hash,
		Active:     true,
		CreatedAt:  now,
	}
	if err := s.store.Create(ctx, v); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "validator id is already registered")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store validator")
	}

	s.logger.InfoContext(ctx, "validator registered",
		"validator_id", validatorID.String(),
		"registered_by", registeredBy,
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionValidatorRegistered,
		ActorID:   registeredBy,
		SubjectID: validatorID.String(),
		RequestID: requestcontext.RequestID(ctx),
		CreatedAt: now,
	})
	return &v, secret, nil
}

// IssueToken authenticates a validator by its shared secret and mints a
// short-lived proposal token.
func (s *Service) IssueToken(ctx context.Context, rawID, secret string) (string, time.Duration, error) {
	validatorID, err := id.ParseValidatorID(rawID)
	if err != nil {
		return "", 0, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	v, err := s.store.Get(ctx, validatorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", 0, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return "", 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load validator")
	}
	if !v.Active {
		return "", 0, dErrors.New(dErrors.CodeForbidden, "validator is deactivated")
	}
	if err := secrets.Verify(secret, v.SecretHash); err != nil {
		return "", 0, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	now := requestcontext.Now(ctx)
	token, err := s.tokens.GenerateToken(validatorID, s.tokenTTL, now)
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}

	s.logger.InfoContext(ctx, "validator token issued", "validator_id", validatorID.String())
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionValidatorTokenIssued,
		ActorID:   validatorID.String(),
		SubjectID: validatorID.String(),
		RequestID: requestcontext.RequestID(ctx),
		CreatedAt: now,
	})
	return token, s.tokenTTL, nil
}

// IsActive answers the consensus engine's membership check.
func (s *Service) IsActive(ctx context.Context, validatorID id.ValidatorID) (bool, error) {
	v, err := s.store.Get(ctx, validatorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return v.Active, nil
}

// TouchLastSeen bumps the activity timestamp after an accepted proposal.
// Failures are logged, never surfaced: liveness bookkeeping must not fail a
// vote.
func (s *Service) TouchLastSeen(ctx context.Context, validatorID id.ValidatorID) {
	if err := s.store.TouchLastSeen(ctx, validatorID, requestcontext.Now(ctx)); err != nil {
		s.logger.WarnContext(ctx, "failed to update validator last seen",
			"validator_id", validatorID.String(),
			"error", err,
		)
	}
}

// SetActive flips a validator's voting eligibility (admin action).
func (s *Service) SetActive(ctx context.Context, rawID string, active bool) error {
	validatorID, err := id.ParseValidatorID(rawID)
	if err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, validatorID, active); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "validator not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update validator")
	}
	s.logger.InfoContext(ctx, "validator activity changed",
		"validator_id", validatorID.String(),
		"active", active,
	)
	return nil
}

// List returns all registered validators.
func (s *Service) List(ctx context.Context) ([]models.Validator, error) {
	validators, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list validators")
	}
	return validators, nil
}
