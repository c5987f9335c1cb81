// Package weights computes and publishes the normalized reward weight
// distribution. The distribution is always derived from the full account
// snapshot plus the bonuses effective at computation time; it is never
// updated incrementally.
package weights

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	rewardsconfig "merit/internal/rewards/config"
	"merit/internal/rewards/metrics"
	"merit/internal/rewards/models"
	accountstore "merit/internal/rewards/store/accounts"
	id "merit/pkg/domain"
	dErrors "merit/pkg/domain-errors"
	"merit/pkg/platform/sentinel"
	"merit/pkg/requestcontext"
)

// cacheKey is the shared Redis key read by every instance.
const cacheKey = "merit:weights:current"

// BonusSource yields the overrides effective at a given instant.
type BonusSource interface {
	ListActive(ctx context.Context, asOf time.Time) ([]models.Override, error)
}

// IdentityBinding pairs an account key with its registered external identity.
type IdentityBinding struct {
	Key   id.ParticipantKey
	Login id.Login
}

// Directory lists all registered identity bindings.
type Directory interface {
	Bindings(ctx context.Context) ([]IdentityBinding, error)
}

// PendingCounter counts closed-but-unreviewed issues per author.
type PendingCounter interface {
	CountPendingByAuthor(ctx context.Context, author id.Login) (int64, error)
}

// Cache is the distribution cache port, satisfied by the Redis client.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Service owns weight computation, publication, and the leaderboard
// projection.
type Service struct {
	accounts accountstore.Store
	bonuses  BonusSource
	dir      Directory
	pending  PendingCounter
	policy   rewardsconfig.Config
	cache    Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group

	mu        sync.RWMutex
	current   []models.WeightEntry
	publishAt time.Time
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

// WithCache attaches a shared distribution cache. Without one the service
// serves from its in-process copy only.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
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

func New(accounts accountstore.Store, bonuses BonusSource, dir Directory, pending PendingCounter, policy rewardsconfig.Config, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		bonuses:  bonuses,
		dir:      dir,
		pending:  pending,
		policy:   policy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish recomputes the distribution from scratch and makes it the current
// one, locally and in the shared cache.
func (s *Service) Publish(ctx context.Context) ([]models.WeightEntry, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)

	entries, err := s.compute(ctx, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = entries
	s.publishAt = now
	s.mu.Unlock()

	if s.cache != nil {
		payload, err := json.Marshal(cachedDistribution{PublishedAt: now, Entries: toWire(entries)})
		if err == nil {
			ttl := s.policy.PublishInterval * 10
			if err := s.cache.Set(ctx, cacheKey, payload, ttl); err != nil {
				s.logger.WarnContext(ctx, "weight cache write failed", "error", err)
			}
		}
	}

	if s.metrics != nil {
		s.metrics.PublishDuration.Observe(time.Since(start).Seconds())
		s.metrics.PublishedParticipants.Set(float64(len(entries)))
	}
	s.logger.InfoContext(ctx, "weights published",
		"participants", len(entries),
		"duration", time.Since(start),
	)
	return entries, nil
}

// Current returns the live distribution: the in-process copy when this
// instance has published recently, else the shared cache, else a fresh
// computation collapsed through singleflight.
func (s *Service) Current(ctx context.Context) ([]models.WeightEntry, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	if s.current != nil && now.Sub(s.publishAt) < s.policy.PublishInterval*2 {
		entries := s.current
		s.mu.RUnlock()
		return entries, nil
	}
	s.mu.RUnlock()

	if s.cache != nil {
		payload, err := s.cache.Get(ctx, cacheKey)
		if err == nil && payload != nil {
			var cached cachedDistribution
			if json.Unmarshal(payload, &cached) == nil {
				s.observeCache("hit")
				return fromWire(cached.Entries), nil
			}
		}
		s.observeCache("miss")
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		return s.Publish(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.WeightEntry), nil
}

// Leaderboard joins the current distribution with account detail, registered
// identities, and pending issue counts. Penalized accounts appear with zero
// weight; the list is display-only.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.policy.LeaderboardLimit {
		limit = s.policy.LeaderboardLimit
	}
	now := requestcontext.Now(ctx)

	snapshot, err := s.accounts.Snapshot(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot accounts")
	}
	weights, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	normalized := make(map[id.ParticipantKey]float64, len(weights))
	for _, w := range weights {
		normalized[w.ParticipantKey] = w.Weight
	}

	bindings, err := s.dir.Bindings(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list identities")
	}
	logins := make(map[id.ParticipantKey]id.Login, len(bindings))
	for _, b := range bindings {
		logins[b.Key] = b.Login
	}

	entries := make([]models.LeaderboardEntry, 0, len(snapshot))
	for _, account := range snapshot {
		entry := models.LeaderboardEntry{
			ParticipantKey:   account.ParticipantKey,
			ExternalIdentity: logins[account.ParticipantKey],
			NormalizedWeight: normalized[account.ParticipantKey],
			RawWeight:        account.RawWeight(s.policy),
			ValidCount:       account.ValidCount,
			InvalidCount:     account.InvalidCount,
			StarCount:        account.StarCount,
			NetPoints:        account.NetPoints(s.policy),
			IsPenalized:      account.IsPenalized(s.policy),
			LastActivity:     account.LastActivity,
		}
		if login, ok := logins[account.ParticipantKey]; ok {
			n, err := s.pending.CountPendingByAuthor(ctx, login)
			if err != nil {
				return nil, err
			}
			entry.PendingIssues = n
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.NormalizedWeight != b.NormalizedWeight {
			return a.NormalizedWeight > b.NormalizedWeight
		}
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.ParticipantKey.String() < b.ParticipantKey.String()
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}

	s.logger.DebugContext(ctx, "leaderboard computed",
		"entries", len(entries),
		"as_of", now,
	)
	return entries, nil
}

// Account returns one participant's raw tally.
func (s *Service) Account(ctx context.Context, rawKey string) (*models.RewardAccount, error) {
	key, err := id.ParseParticipantKey(rawKey)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return account, nil
}

// Run republishes on the policy interval until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.PublishInterval)
	defer ticker.Stop()

	if _, err := s.Publish(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial weight publication failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Publish(ctx); err != nil {
				s.logger.ErrorContext(ctx, "weight publication failed", "error", err)
			}
		}
	}
}

// compute builds the normalized distribution as of one instant. Accounts
// enter with rawWeight plus effective bonuses; zero-weight and penalized
// accounts are excluded before normalization.
func (s *Service) compute(ctx context.Context, asOf time.Time) ([]models.WeightEntry, error) {
	snapshot, err := s.accounts.Snapshot(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot accounts")
	}
	overrides, err := s.bonuses.ListActive(ctx, asOf)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list bonuses")
	}

	bonus := make(map[id.ParticipantKey]float64, len(overrides))
	for _, o := range overrides {
		if o.Effective(asOf) {
			bonus[o.ParticipantKey] += o.BonusWeight
		}
	}

	type weighted struct {
		key          id.ParticipantKey
		weight       float64
		lastActivity time.Time
	}
	raw := make([]weighted, 0, len(snapshot))
	seen := make(map[id.ParticipantKey]bool, len(snapshot))
	var total float64
	for _, account := range snapshot {
		seen[account.ParticipantKey] = true
		if account.IsPenalized(s.policy) {
			continue
		}
		w := account.RawWeight(s.policy) + bonus[account.ParticipantKey]
		if w <= 0 {
			continue
		}
		raw = append(raw, weighted{account.ParticipantKey, w, account.LastActivity})
		total += w
	}
	// Bonus holders without an account row still enter the distribution.
	for key, b := range bonus {
		if seen[key] || b <= 0 {
			continue
		}
		raw = append(raw, weighted{key: key, weight: b})
		total += b
	}

	if total == 0 {
		return []models.WeightEntry{}, nil
	}

	entries := make([]models.WeightEntry, 0, len(raw))
	order := make(map[id.ParticipantKey]weighted, len(raw))
	for _, w := range raw {
		entries = append(entries, models.WeightEntry{ParticipantKey: w.key, Weight: w.weight / total})
		order[w.key] = w
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		la, lb := order[a.ParticipantKey].lastActivity, order[b.ParticipantKey].lastActivity
		if !la.Equal(lb) {
			return la.After(lb)
		}
		return a.ParticipantKey.String() < b.ParticipantKey.String()
	})
	return entries, nil
}

func (s *Service) observeCache(outcome string) {
	if s.metrics != nil {
		s.metrics.CacheReads.WithLabelValues(outcome).Inc()
	}
}

// cachedDistribution is the Redis wire form.
type cachedDistribution struct {
	PublishedAt time.Time   `json:"published_at"`
	Entries     []wireEntry `json:"entries"`
}

type wireEntry struct {
	Participant string  `json:"participant"`
	Weight      float64 `json:"weight"`
}

func toWire(entries []models.WeightEntry) []wireEntry {
	out := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wireEntry{Participant: e.ParticipantKey.String(), Weight: e.Weight})
	}
	return out
}

func fromWire(entries []wireEntry) []models.WeightEntry {
	out := make([]models.WeightEntry, 0, len(entries))
	for _, e := range entries {
		key, err := id.ParseParticipantKey(e.Participant)
		if err != nil {
			continue
		}
		out = append(out, models.WeightEntry{ParticipantKey: key, Weight: e.Weight})
	}
	return out
}
