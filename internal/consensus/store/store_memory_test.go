package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merit/internal/consensus/models"
	id "merit/pkg/domain"
)

func boolPtr(b bool) *bool { return &b }

func TestInMemoryStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	subject := "issue_validity:acme/tools#42"

	require.NoError(t, s.Upsert(ctx, models.Proposal{
		ValidatorID: "v1",
		SubjectKey:  subject,
		Kind:        models.KindIssueValidity,
		Verdict:     boolPtr(true),
		SubmittedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Upsert(ctx, models.Proposal{
		ValidatorID: "v2",
		SubjectKey:  subject,
		Kind:        models.KindIssueValidity,
		Verdict:     boolPtr(true),
		SubmittedAt: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
	}))

	t.Run("one row per validator and subject", func(t *testing.T) {
		// v1 changes its mind; the earlier vote must be replaced, not joined.
		require.NoError(t, s.Upsert(ctx, models.Proposal{
			ValidatorID: "v1",
			SubjectKey:  subject,
			Kind:        models.KindIssueValidity,
			Verdict:     boolPtr(false),
			SubmittedAt: time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC),
		}))

		proposals, err := s.ListBySubject(ctx, subject)
		require.NoError(t, err)
		require.Len(t, proposals, 2)
		assert.Equal(t, id.ValidatorID("v1"), proposals[0].ValidatorID)
		assert.False(t, *proposals[0].Verdict)
		assert.True(t, *proposals[1].Verdict)
	})

	t.Run("subjects do not bleed into each other", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, models.Proposal{
			ValidatorID: "v1",
			SubjectKey:  "issue_validity:acme/tools#7",
			Kind:        models.KindIssueValidity,
			Verdict:     boolPtr(true),
		}))

		proposals, err := s.ListBySubject(ctx, subject)
		require.NoError(t, err)
		assert.Len(t, proposals, 2)
	})

	t.Run("list by validator sorts by subject", func(t *testing.T) {
		proposals, err := s.ListByValidator(ctx, "v1")
		require.NoError(t, err)
		require.Len(t, proposals, 2)
		// Lexicographic subject order, so "#42" sorts ahead of "#7".
		assert.Equal(t, subject, proposals[0].SubjectKey)
		assert.Equal(t, "issue_validity:acme/tools#7", proposals[1].SubjectKey)
	})
}

func TestInMemoryStore_ReadIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.Upsert(ctx, models.Proposal{
		ValidatorID:  "v1",
		SubjectKey:   "sync_snapshot:acme/tools:3",
		Kind:         models.KindSyncSnapshot,
		IssueNumbers: []int64{1, 2, 3},
	}))

	proposals, err := s.ListBySubject(ctx, "sync_snapshot:acme/tools:3")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	proposals[0].IssueNumbers[0] = 99

	fresh, err := s.ListBySubject(ctx, "sync_snapshot:acme/tools:3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, fresh[0].IssueNumbers)
}
