package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"merit/internal/consensus/models"
	id "merit/pkg/domain"
	txcontext "merit/pkg/platform/tx"
)

// PostgresStore persists proposals in the consensus_proposals table. The
// primary key (validator_id, subject_key) makes resubmission a plain upsert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const proposalColumns = `validator_id, subject_key, kind, verdict, issue_numbers, epoch, submitted_at`

func (s *PostgresStore) Upsert(ctx context.Context, p models.Proposal) error {
	var verdict any
	if p.Verdict != nil {
		verdict = *p.Verdict
	}
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO consensus_proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (validator_id, subject_key) DO UPDATE SET
			kind = EXCLUDED.kind,
			verdict = EXCLUDED.verdict,
			issue_numbers = EXCLUDED.issue_numbers,
			epoch = EXCLUDED.epoch,
			submitted_at = EXCLUDED.submitted_at
	`, p.ValidatorID.String(), p.SubjectKey, string(p.Kind), verdict,
		pq.Array(p.IssueNumbers), int64(p.Epoch), p.SubmittedAt)
	if err != nil {
		return fmt.Errorf("upsert proposal %s/%s: %w", p.ValidatorID, p.SubjectKey, err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectKey string) ([]models.Proposal, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM consensus_proposals
		WHERE subject_key = $1
		ORDER BY validator_id
	`, subjectKey)
	if err != nil {
		return nil, fmt.Errorf("list proposals for %s: %w", subjectKey, err)
	}
	return scanProposals(rows)
}

func (s *PostgresStore) ListByValidator(ctx context.Context, validatorID id.ValidatorID) ([]models.Proposal, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM consensus_proposals
		WHERE validator_id = $1
		ORDER BY subject_key
	`, validatorID.String())
	if err != nil {
		return nil, fmt.Errorf("list proposals by %s: %w", validatorID, err)
	}
	return scanProposals(rows)
}

func scanProposals(rows *sql.Rows) ([]models.Proposal, error) {
	defer rows.Close()
	var out []models.Proposal
	for rows.Next() {
		var (
			p           models.Proposal
			validatorID string
			kind        string
			verdict     sql.NullBool
			numbers     pq.Int64Array
			epoch       int64
		)
		if err := rows.Scan(&validatorID, &p.SubjectKey, &kind, &verdict, &numbers, &epoch, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		p.ValidatorID = id.ValidatorID(validatorID)
		p.Kind = models.SubjectKind(kind)
		if verdict.Valid {
			v := verdict.Bool
			p.Verdict = &v
		}
		p.IssueNumbers = []int64(numbers)
		p.Epoch = id.Epoch(epoch)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return out, nil
}
