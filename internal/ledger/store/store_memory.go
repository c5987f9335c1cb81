package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

type markerKey struct {
	issue id.IssueKey
	kind  models.TransitionKind
}

// InMemoryStore backs unit tests and development mode. Each operation is
// atomic under the mutex, mirroring the single-statement semantics of the
// Postgres implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	issues  map[id.IssueKey]models.IssueRecord
	markers map[markerKey]id.ParticipantKey
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		issues:  make(map[id.IssueKey]models.IssueRecord),
		markers: make(map[markerKey]id.ParticipantKey),
	}
}

func (s *InMemoryStore) Get(_ context.Context, key id.IssueKey) (*models.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.issues[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := cloneRecord(rec)
	return &cp, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, rec models.IssueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[rec.Key] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) InsertMarker(_ context.Context, key id.IssueKey, kind models.TransitionKind, participant id.ParticipantKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := markerKey{issue: key, kind: kind}
	if _, ok := s.markers[mk]; ok {
		return false, nil
	}
	s.markers[mk] = participant
	return true, nil
}

func (s *InMemoryStore) DeleteMarker(_ context.Context, key id.IssueKey, kind models.TransitionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, markerKey{issue: key, kind: kind})
	return nil
}

func (s *InMemoryStore) HasMarker(_ context.Context, key id.IssueKey, kind models.TransitionKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.markers[markerKey{issue: key, kind: kind}]
	return ok, nil
}

func (s *InMemoryStore) SetCredited(_ context.Context, key id.IssueKey, participant *id.ParticipantKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.issues[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if participant == nil {
		rec.CreditedTo = nil
	} else {
		p := *participant
		rec.CreditedTo = &p
	}
	s.issues[key] = rec
	return nil
}

func (s *InMemoryStore) MarkDeleted(_ context.Context, repo id.RepoKey, seen []int64, now time.Time) (int, error) {
	seenSet := make(map[int64]struct{}, len(seen))
	for _, n := range seen {
		seenSet[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for key, rec := range s.issues {
		if key.Repo != repo || rec.DeletedAt != nil {
			continue
		}
		if _, ok := seenSet[key.Number]; ok {
			continue
		}
		at := now
		rec.DeletedAt = &at
		s.issues[key] = rec
		marked++
	}
	return marked, nil
}

func (s *InMemoryStore) Restore(_ context.Context, key id.IssueKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.issues[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.DeletedAt = nil
	s.issues[key] = rec
	return nil
}

func (s *InMemoryStore) ListByRepo(_ context.Context, repo id.RepoKey) ([]models.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.IssueRecord
	for key, rec := range s.issues {
		if key.Repo == repo {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Number < out[j].Key.Number })
	return out, nil
}

func (s *InMemoryStore) ListCreditedTo(_ context.Context, participant id.ParticipantKey) ([]models.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.IssueRecord
	for _, rec := range s.issues {
		if rec.CreditedTo != nil && *rec.CreditedTo == participant {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *InMemoryStore) CountPendingByAuthor(_ context.Context, author id.Login, validLabel, invalidLabel string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.issues {
		if rec.Author != author || rec.DeletedAt != nil || rec.IsCredited() {
			continue
		}
		if rec.HasLabel(validLabel) || rec.HasLabel(invalidLabel) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{ByState: make(map[models.State]int64)}
	for _, rec := range s.issues {
		stats.TotalIssues++
		stats.ByState[rec.State]++
		if rec.IsCredited() {
			stats.Credited++
		}
		if rec.DeletedAt != nil {
			stats.Deleted++
		}
	}
	for mk := range s.markers {
		if mk.kind == models.TransitionPenalty {
			stats.Penalized++
		}
	}
	return stats, nil
}

func cloneRecord(rec models.IssueRecord) models.IssueRecord {
	rec.Labels = append([]string{}, rec.Labels...)
	if rec.CreditedTo != nil {
		p := *rec.CreditedTo
		rec.CreditedTo = &p
	}
	if rec.DeletedAt != nil {
		t := *rec.DeletedAt
		rec.DeletedAt = &t
	}
	return rec
}
