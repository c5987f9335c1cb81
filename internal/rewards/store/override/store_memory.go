package override

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
	mu        sync.RWMutex
	overrides map[id.OverrideID]models.Override
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{overrides: make(map[id.OverrideID]models.Override)}
}

func (s *InMemoryStore) Create(_ context.Context, o models.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[o.ID]; ok {
		return sentinel.ErrConflict
	}
	s.overrides[o.ID] = o
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, overrideID id.OverrideID) (*models.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &o, nil
}

func (s *InMemoryStore) Update(_ context.Context, o models.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[o.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.overrides[o.ID] = o
	return nil
}

func (s *InMemoryStore) ListActive(_ context.Context, asOf time.Time) ([]models.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Override
	for _, o := range s.overrides {
		if o.Effective(asOf) {
			out = append(out, o)
		}
	}
	sortOverrides(out)
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]models.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	sortOverrides(out)
	return out, nil
}

func sortOverrides(overrides []models.Override) {
	sort.Slice(overrides, func(i, j int) bool {
		if !overrides[i].GrantedAt.Equal(overrides[j].GrantedAt) {
			return overrides[i].GrantedAt.Before(overrides[j].GrantedAt)
		}
		return overrides[i].ID.String() < overrides[j].ID.String()
	})
}
