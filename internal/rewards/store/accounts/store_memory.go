package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"merit/internal/rewards/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and development mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.ParticipantKey]models.RewardAccount
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[id.ParticipantKey]models.RewardAccount)}
}

func (s *InMemoryStore) IncrementValid(_ context.Context, key id.ParticipantKey, delta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[key]
	acc.ParticipantKey = key
	acc.ValidCount += delta
	acc.LastActivity = at
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) IncrementInvalid(_ context.Context, key id.ParticipantKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[key]
	acc.ParticipantKey = key
	acc.InvalidCount++
	acc.LastActivity = at
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) IncrementStars(_ context.Context, key id.ParticipantKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[key]
	acc.ParticipantKey = key
	acc.StarCount++
	acc.LastActivity = at
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key id.ParticipantKey) (*models.RewardAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &acc, nil
}

func (s *InMemoryStore) Snapshot(_ context.Context) ([]models.RewardAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RewardAccount, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantKey < out[j].ParticipantKey })
	return out, nil
}
