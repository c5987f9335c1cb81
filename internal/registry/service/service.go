// Package service orchestrates participant registration and identity lookup.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"merit/internal/registry/models"
	regstore "merit/internal/registry/store"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// Service binds participant keys to external identities.
type Service struct {
	store         regstore.Store
	logger        *slog.Logger
	publisher     audit.Publisher
	epochInterval time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditPublisher wires audit event emission.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithEpochInterval sets the registration epoch length.
func WithEpochInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.epochInterval = d
		}
	}
}

func New(store regstore.Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		logger:        slog.Default(),
		publisher:     audit.NopPublisher{},
		epochInterval: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds key to identity. Registering the identical pair again is an
// idempotent no-op returning the existing binding; rebinding either side to a
// different counterpart is a conflict.
func (s *Service) Register(ctx context.Context, rawKey, rawIdentity string) (*models.Participant, error) {
	key, err := id.ParseParticipantKey(rawKey)
	if err != nil {
		return nil, err
	}
	identity, err := id.ParseLogin(rawIdentity)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	p := models.Participant{
		Key:              key,
		ExternalIdentity: identity,
		RegisteredEpoch:  id.EpochAt(now, s.epochInterval),
		RegisteredAt:     now,
	}

	err = s.store.CreateIfAbsent(ctx, p)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "participant registered",
			"participant_key", key.String(),
			"identity", identity.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		_ = s.publisher.Publish(ctx, audit.Event{
			Action:    audit.ActionParticipantRegistered,
			ActorID:   key.String(),
			SubjectID: key.String(),
			RequestID: requestcontext.RequestID(ctx),
			Metadata:  map[string]any{"identity": identity.String()},
			CreatedAt: now,
		})
		return &p, nil

	case errors.Is(err, sentinel.ErrAlreadyApplied):
		existing, findErr := s.store.FindByKey(ctx, key)
		if findErr != nil {
			return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load existing registration")
		}
		return existing, nil

	case errors.Is(err, sentinel.ErrConflict):
		return nil, dErrors.New(dErrors.CodeConflict, "participant key or identity is already bound")

	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register participant")
	}
}

// ResolveLogin maps an external login to its participant key. Unregistered
// logins return sentinel.ErrNotFound wrapped as a not-found domain error.
func (s *Service) ResolveLogin(ctx context.Context, login id.Login) (id.ParticipantKey, error) {
	p, err := s.store.FindByIdentity(ctx, login)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "no participant registered for identity")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity")
	}
	return p.Key, nil
}

// Get returns a participant by key.
func (s *Service) Get(ctx context.Context, rawKey string) (*models.Participant, error) {
	key, err := id.ParseParticipantKey(rawKey)
	if err != nil {
		return nil, err
	}
	p, err := s.store.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load participant")
	}
	return p, nil
}

// List returns all participants ordered by key.
func (s *Service) List(ctx context.Context) ([]models.Participant, error) {
	participants, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list participants")
	}
	return participants, nil
}
