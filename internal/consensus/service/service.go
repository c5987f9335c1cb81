// Package service implements proposal submission and majority resolution.
// Resolution is a pure function of the currently stored proposal set;
// validators running as separate processes coordinate only through the
// shared store.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"merit/internal/consensus/metrics"
	"merit/internal/consensus/models"
	"merit/internal/consensus/store"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	audit "merit/pkg/platform/audit"
	"merit/pkg/requestcontext"
)

var tracer = otel.Tracer("merit/internal/consensus")

// ValidatorDirectory reports whether a validator may vote.
type ValidatorDirectory interface {
	IsActive(ctx context.Context, validatorID id.ValidatorID) (bool, error)
}

// SignatureVerifier is an optional oracle gating proposal submission. The
// engine never parses keys or signatures itself.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, keyID string, message, sig []byte) (bool, error)
}

// Service accepts proposals and resolves subjects by majority.
type Service struct {
	proposals store.Store
	directory ValidatorDirectory
	verifier  SignatureVerifier
	logger    *slog.Logger
	publisher audit.Publisher
	metrics   *metrics.Metrics
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

// WithSignatureVerifier requires every proposal to carry a valid signature.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
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

func New(proposals store.Store, directory ValidatorDirectory, opts ...Option) *Service {
	s := &Service{
		proposals: proposals,
		directory: directory,
		logger:    slog.Default(),
		publisher: audit.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Propose stores a validator's current vote, replacing any previous vote on
// the same subject. Submission is fire-and-forget: the caller never waits
// for resolution.
func (s *Service) Propose(ctx context.Context, p models.Proposal, signature []byte) error {
	if p.ValidatorID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "validator id is required")
	}
	if p.SubjectKey == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "subject key is required")
	}
	switch p.Kind {
	case models.KindIssueValidity:
		if p.Verdict == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "issue validity proposal requires a verdict")
		}
	case models.KindSyncSnapshot:
		if len(p.IssueNumbers) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "sync snapshot proposal requires issue numbers")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown proposal kind")
	}

	active, err := s.directory.IsActive(ctx, p.ValidatorID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check validator")
	}
	if !active {
		return dErrors.New(dErrors.CodeForbidden, "validator is not active")
	}
	if s.verifier != nil {
		ok, err := s.verifier.VerifySignature(ctx, p.ValidatorID.String(), []byte(p.SubjectKey), signature)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "signature verification failed")
		}
		if !ok {
			return dErrors.New(dErrors.CodeForbidden, "invalid proposal signature")
		}
	}

	p.Canonicalize()
	p.SubmittedAt = requestcontext.Now(ctx)
	if err := s.proposals.Upsert(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proposal")
	}

	if s.metrics != nil {
		s.metrics.Proposals.WithLabelValues(string(p.Kind)).Inc()
	}
	s.logger.DebugContext(ctx, "proposal recorded",
		"validator_id", p.ValidatorID.String(),
		"subject", p.SubjectKey,
		"kind", string(p.Kind),
	)
	_ = s.publisher.Publish(ctx, audit.Event{
		Action:    audit.ActionProposalSubmitted,
		ActorID:   p.ValidatorID.String(),
		SubjectID: p.SubjectKey,
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  map[string]any{"kind": string(p.Kind)},
		CreatedAt: p.SubmittedAt,
	})
	return nil
}

// ResolveIssueValidity tallies the current proposals on one issue. With n
// distinct proposing validators the quorum is n/2+1; an even split stays
// Unresolved. Unresolved is a value, never an error.
func (s *Service) ResolveIssueValidity(ctx context.Context, key id.IssueKey) (models.Tally, error) {
	ctx, span := tracer.Start(ctx, "consensus.ResolveIssueValidity",
		trace.WithAttributes(attribute.String("subject", key.String())))
	defer span.End()

	proposals, err := s.proposals.ListBySubject(ctx, key.String())
	if err != nil {
		return models.Tally{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}

	tally := models.Tally{Verdict: models.VerdictUnresolved}
	for _, p := range proposals {
		if p.Kind != models.KindIssueValidity || p.Verdict == nil {
			continue
		}
		tally.Proposals++
		if *p.Verdict {
			tally.TrueCount++
		} else {
			tally.FalseCount++
		}
	}
	if tally.Proposals > 0 {
		tally.Quorum = models.QuorumOf(tally.Proposals)
		switch {
		case tally.TrueCount >= tally.Quorum:
			tally.Verdict = models.VerdictTrue
		case tally.FalseCount >= tally.Quorum:
			tally.Verdict = models.VerdictFalse
		}
	}

	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(string(models.KindIssueValidity), string(tally.Verdict)).Inc()
	}
	return tally, nil
}

// ResolveSyncSnapshot groups current snapshot proposals on a repository by
// their canonical issue-number set. A set proposed by at least quorum
// validators wins; otherwise the snapshot stays unresolved and nil is
// returned.
func (s *Service) ResolveSyncSnapshot(ctx context.Context, repo id.RepoKey) (*models.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "consensus.ResolveSyncSnapshot",
		trace.WithAttributes(attribute.String("subject", repo.String())))
	defer span.End()

	proposals, err := s.proposals.ListBySubject(ctx, repo.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}

	type group struct {
		numbers    []int64
		validators []id.ValidatorID
	}
	groups := make(map[string]*group)
	var n int
	for _, p := range proposals {
		if p.Kind != models.KindSyncSnapshot || len(p.IssueNumbers) == 0 {
			continue
		}
		n++
		p.Canonicalize()
		sig := setSignature(p.IssueNumbers)
		g, ok := groups[sig]
		if !ok {
			g = &group{numbers: p.IssueNumbers}
			groups[sig] = g
		}
		g.validators = append(g.validators, p.ValidatorID)
	}
	if n == 0 {
		s.observeResolution(models.KindSyncSnapshot, "unresolved")
		return nil, nil
	}

	quorum := models.QuorumOf(n)
	for _, g := range groups {
		if len(g.validators) >= quorum {
			s.observeResolution(models.KindSyncSnapshot, "resolved")
			return &models.Snapshot{
				RepoKey:      repo,
				IssueNumbers: g.numbers,
				Validators:   g.validators,
				ResolvedAt:   requestcontext.Now(ctx),
			}, nil
		}
	}
	s.observeResolution(models.KindSyncSnapshot, "unresolved")
	return nil, nil
}

// ProposalsByValidator returns a validator's current votes, for display.
func (s *Service) ProposalsByValidator(ctx context.Context, validatorID id.ValidatorID) ([]models.Proposal, error) {
	proposals, err := s.proposals.ListByValidator(ctx, validatorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	return proposals, nil
}

func (s *Service) observeResolution(kind models.SubjectKind, result string) {
	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(string(kind), result).Inc()
	}
}

// setSignature encodes a canonical issue-number set as a comparable string.
func setSignature(numbers []int64) string {
	buf := make([]byte, 0, len(numbers)*8)
	for _, n := range numbers {
		for shift := 56; shift >= 0; shift -= 8 {
			buf = append(buf, byte(n>>shift))
		}
	}
	return string(buf)
}
