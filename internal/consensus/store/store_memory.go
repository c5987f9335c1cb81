package store

import (
	"context"
	"sort"
	"sync"

	"merit/internal/consensus/models"
	id "merit/pkg/domain"
)

type proposalKey struct {
	validator id.ValidatorID
	subject   string
}

// InMemoryStore backs unit tests and development mode.
type InMemoryStore struct {
	mu        sync.RWMutex
	proposals map[proposalKey]models.Proposal
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{proposals: make(map[proposalKey]models.Proposal)}
}

func (s *InMemoryStore) Upsert(_ context.Context, p models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[proposalKey{validator: p.ValidatorID, subject: p.SubjectKey}] = cloneProposal(p)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectKey string) ([]models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Proposal
	for key, p := range s.proposals {
		if key.subject == subjectKey {
			out = append(out, cloneProposal(p))
		}
	}
	sortProposals(out)
	return out, nil
}

func (s *InMemoryStore) ListByValidator(_ context.Context, validatorID id.ValidatorID) ([]models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Proposal
	for key, p := range s.proposals {
		if key.validator == validatorID {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectKey < out[j].SubjectKey })
	return out, nil
}

func sortProposals(proposals []models.Proposal) {
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].ValidatorID < proposals[j].ValidatorID
	})
}

func cloneProposal(p models.Proposal) models.Proposal {
	cp := p
	if p.Verdict != nil {
		v := *p.Verdict
		cp.Verdict = &v
	}
	if p.IssueNumbers != nil {
		cp.IssueNumbers = append([]int64(nil), p.IssueNumbers...)
	}
	return cp
}
