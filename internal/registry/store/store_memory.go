package store

import (
	"context"
	"sort"
	"sync"

	"merit/internal/registry/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and development mode.
type InMemoryStore struct {
	mu         sync.RWMutex
	byKey      map[id.ParticipantKey]models.Participant
	byIdentity map[id.Login]id.ParticipantKey
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byKey:      make(map[id.ParticipantKey]models.Participant),
		byIdentity: make(map[id.Login]id.ParticipantKey),
	}
}

func (s *InMemoryStore) CreateIfAbsent(_ context.Context, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[p.Key]; ok {
		if existing.SamePair(p.Key, p.ExternalIdentity) {
			return sentinel.ErrAlreadyApplied
		}
		return sentinel.ErrConflict
	}
	if _, ok := s.byIdentity[p.ExternalIdentity]; ok {
		return sentinel.ErrConflict
	}

	s.byKey[p.Key] = p
	s.byIdentity[p.ExternalIdentity] = p.Key
	return nil
}

func (s *InMemoryStore) FindByKey(_ context.Context, key id.ParticipantKey) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) FindByIdentity(_ context.Context, identity id.Login) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byIdentity[identity]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p := s.byKey[key]
	return &p, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(s.byKey))
	for _, p := range s.byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byKey)), nil
}
