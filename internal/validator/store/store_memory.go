package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"merit/internal/validator/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and development mode.
type InMemoryStore struct {
	mu         sync.RWMutex
	validators map[id.ValidatorID]models.Validator
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{validators: make(map[id.ValidatorID]models.Validator)}
}

func (s *InMemoryStore) Create(_ context.Context, v models.Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validators[v.ID]; ok {
		return sentinel.ErrConflict
	}
	s.validators[v.ID] = cloneValidator(v)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, validatorID id.ValidatorID) (*models.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[validatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := cloneValidator(v)
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Validator, 0, len(s.validators))
	for _, v := range s.validators {
		out = append(out, cloneValidator(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SetActive(_ context.Context, validatorID id.ValidatorID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[validatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.Active = active
	s.validators[validatorID] = v
	return nil
}

func (s *InMemoryStore) TouchLastSeen(_ context.Context, validatorID id.ValidatorID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[validatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.LastSeenAt = &at
	s.validators[validatorID] = v
	return nil
}

func cloneValidator(v models.Validator) models.Validator {
	cp := v
	if v.LastSeenAt != nil {
		t := *v.LastSeenAt
		cp.LastSeenAt = &t
	}
	return cp
}
