package store

import (
	"context"
	"sort"
	"sync"

	"merit/internal/githubsync/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

type targetKey struct {
	repo id.RepoKey
	kind models.TargetKind
}

type starKey struct {
	login id.Login
	repo  id.RepoKey
}

// InMemoryStore backs unit tests and development mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	targets map[targetKey]models.TargetRepo
	states  map[id.RepoKey]models.SyncState
	stars   map[starKey]models.Star
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		targets: make(map[targetKey]models.TargetRepo),
		states:  make(map[id.RepoKey]models.SyncState),
		stars:   make(map[starKey]models.Star),
	}
}

func (s *InMemoryStore) AddTarget(_ context.Context, t models.TargetRepo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[targetKey{repo: t.Repo, kind: t.Kind}] = t
	return nil
}

func (s *InMemoryStore) RemoveTarget(_ context.Context, repo id.RepoKey, kind models.TargetKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := targetKey{repo: repo, kind: kind}
	t, ok := s.targets[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.Active = false
	s.targets[key] = t
	return nil
}

func (s *InMemoryStore) ListTargets(_ context.Context, kind models.TargetKind) ([]models.TargetRepo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TargetRepo
	for key, t := range s.targets {
		if key.kind == kind && t.Active {
			out = append(out, t)
		}
	}
	sortTargets(out)
	return out, nil
}

func (s *InMemoryStore) ListAllTargets(_ context.Context) ([]models.TargetRepo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TargetRepo, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	sortTargets(out)
	return out, nil
}

func (s *InMemoryStore) GetSyncState(_ context.Context, repo id.RepoKey) (*models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[repo]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := st
	return &cp, nil
}

func (s *InMemoryStore) SaveSyncState(_ context.Context, st models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Repo] = st
	return nil
}

func (s *InMemoryStore) InsertStar(_ context.Context, star models.Star) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := starKey{login: star.Login, repo: star.Repo}
	if _, ok := s.stars[key]; ok {
		return false, nil
	}
	s.stars[key] = star
	return true, nil
}

func sortTargets(targets []models.TargetRepo) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Repo.String() != targets[j].Repo.String() {
			return targets[i].Repo.String() < targets[j].Repo.String()
		}
		return targets[i].Kind < targets[j].Kind
	})
}
