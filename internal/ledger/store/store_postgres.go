package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"merit/internal/ledger/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
	txcontext "merit/pkg/platform/tx"
)

// PostgresStore persists issue records in the issues and issue_transitions
// tables. All methods participate in a surrounding transaction when one is
// present in context, so a whole observation commits or rolls back together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const issueColumns = `repo_owner, repo_name, issue_number, author, is_closed, labels, state, credited_to, deleted_at, recorded_epoch, updated_at`

func (s *PostgresStore) Get(ctx context.Context, key id.IssueKey) (*models.IssueRecord, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE repo_owner = $1 AND repo_name = $2 AND issue_number = $3
	`, key.Repo.Owner, key.Repo.Name, key.Number)
	rec, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec models.IssueRecord) error {
	var creditedTo any
	if rec.CreditedTo != nil {
		creditedTo = rec.CreditedTo.String()
	}
	var deletedAt any
	if rec.DeletedAt != nil {
		deletedAt = *rec.DeletedAt
	}
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (repo_owner, repo_name, issue_number) DO UPDATE SET
			author = EXCLUDED.author,
			is_closed = EXCLUDED.is_closed,
			labels = EXCLUDED.labels,
			state = EXCLUDED.state,
			credited_to = EXCLUDED.credited_to,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at
	`, rec.Key.Repo.Owner, rec.Key.Repo.Name, rec.Key.Number,
		rec.Author.String(), rec.IsClosed, pq.Array(rec.Labels), string(rec.State),
		creditedTo, deletedAt, rec.RecordedEpoch.Int64(), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", rec.Key, err)
	}
	return nil
}

// InsertMarker is the conditional insert-if-absent on (issue, kind). The
// returned bool reports whether this caller won the insert; losers must not
// apply the associated counter effect.
func (s *PostgresStore) InsertMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind, participant id.ParticipantKey) (bool, error) {
	var participantVal any
	if !participant.IsNil() {
		participantVal = participant.String()
	}
	res, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO issue_transitions (repo_owner, repo_name, issue_number, kind, participant_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repo_owner, repo_name, issue_number, kind) DO NOTHING
	`, key.Repo.Owner, key.Repo.Name, key.Number, string(kind), participantVal)
	if err != nil {
		return false, fmt.Errorf("insert %s marker %s: %w", kind, key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert marker rows: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) DeleteMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		DELETE FROM issue_transitions
		WHERE repo_owner = $1 AND repo_name = $2 AND issue_number = $3 AND kind = $4
	`, key.Repo.Owner, key.Repo.Name, key.Number, string(kind))
	if err != nil {
		return fmt.Errorf("delete %s marker %s: %w", kind, key, err)
	}
	return nil
}

func (s *PostgresStore) HasMarker(ctx context.Context, key id.IssueKey, kind models.TransitionKind) (bool, error) {
	var exists bool
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM issue_transitions
			WHERE repo_owner = $1 AND repo_name = $2 AND issue_number = $3 AND kind = $4
		)
	`, key.Repo.Owner, key.Repo.Name, key.Number, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s marker %s: %w", kind, key, err)
	}
	return exists, nil
}

func (s *PostgresStore) SetCredited(ctx context.Context, key id.IssueKey, participant *id.ParticipantKey) error {
	var val any
	if participant != nil {
		val = participant.String()
	}
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE issues SET credited_to = $4
		WHERE repo_owner = $1 AND repo_name = $2 AND issue_number = $3
	`, key.Repo.Owner, key.Repo.Name, key.Number, val)
	if err != nil {
		return fmt.Errorf("set credited %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set credited rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, repo id.RepoKey, seen []int64, now time.Time) (int, error) {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE issues SET deleted_at = $3
		WHERE repo_owner = $1 AND repo_name = $2
		  AND deleted_at IS NULL
		  AND issue_number <> ALL($4::bigint[])
	`, repo.Owner, repo.Name, now, pq.Array(seen))
	if err != nil {
		return 0, fmt.Errorf("mark deleted %s: %w", repo, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark deleted rows: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) Restore(ctx context.Context, key id.IssueKey) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE issues SET deleted_at = NULL
		WHERE repo_owner = $1 AND repo_name = $2 AND issue_number = $3
	`, key.Repo.Owner, key.Repo.Name, key.Number)
	if err != nil {
		return fmt.Errorf("restore issue %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("restore issue rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByRepo(ctx context.Context, repo id.RepoKey) ([]models.IssueRecord, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE repo_owner = $1 AND repo_name = $2
		ORDER BY issue_number
	`, repo.Owner, repo.Name)
	if err != nil {
		return nil, fmt.Errorf("list issues %s: %w", repo, err)
	}
	return scanIssues(rows)
}

func (s *PostgresStore) ListCreditedTo(ctx context.Context, participant id.ParticipantKey) ([]models.IssueRecord, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE credited_to = $1
		ORDER BY repo_owner, repo_name, issue_number
	`, participant.String())
	if err != nil {
		return nil, fmt.Errorf("list credited issues: %w", err)
	}
	return scanIssues(rows)
}

func (s *PostgresStore) CountPendingByAuthor(ctx context.Context, author id.Login, validLabel, invalidLabel string) (int64, error) {
	var n int64
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issues
		WHERE author = $1
		  AND deleted_at IS NULL
		  AND credited_to IS NULL
		  AND NOT (labels && $2::text[])
	`, author.String(), pq.Array([]string{validLabel, invalidLabel})).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending issues: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (models.Stats, error) {
	stats := models.Stats{ByState: make(map[models.State]int64)}
	q := s.querier(ctx)

	rows, err := q.QueryContext(ctx, `SELECT state, COUNT(*) FROM issues GROUP BY state`)
	if err != nil {
		return stats, fmt.Errorf("issue stats by state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("scan issue stats: %w", err)
		}
		stats.ByState[models.State(state)] = count
		stats.TotalIssues += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM issues WHERE credited_to IS NOT NULL),
			(SELECT COUNT(*) FROM issues WHERE deleted_at IS NOT NULL),
			(SELECT COUNT(*) FROM issue_transitions WHERE kind = $1)
	`, string(models.TransitionPenalty)).Scan(&stats.Credited, &stats.Deleted, &stats.Penalized)
	if err != nil {
		return stats, fmt.Errorf("issue stats totals: %w", err)
	}
	return stats, nil
}

func scanIssue(row *sql.Row) (*models.IssueRecord, error) {
	var (
		rec        models.IssueRecord
		owner      string
		name       string
		number     int64
		author     string
		labels     pq.StringArray
		state      string
		creditedTo sql.NullString
		deletedAt  sql.NullTime
		epoch      int64
	)
	if err := row.Scan(&owner, &name, &number, &author, &rec.IsClosed, &labels, &state, &creditedTo, &deletedAt, &epoch, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Key = id.IssueKey{Repo: id.RepoKey{Owner: owner, Name: name}, Number: number}
	rec.Author = id.Login(author)
	rec.Labels = labels
	rec.State = models.State(state)
	if creditedTo.Valid {
		p := id.ParticipantKey(creditedTo.String)
		rec.CreditedTo = &p
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	rec.RecordedEpoch = id.Epoch(epoch)
	return &rec, nil
}

func scanIssues(rows *sql.Rows) ([]models.IssueRecord, error) {
	defer rows.Close()
	var out []models.IssueRecord
	for rows.Next() {
		var (
			rec        models.IssueRecord
			owner      string
			name       string
			number     int64
			author     string
			labels     pq.StringArray
			state      string
			creditedTo sql.NullString
			deletedAt  sql.NullTime
			epoch      int64
		)
		if err := rows.Scan(&owner, &name, &number, &author, &rec.IsClosed, &labels, &state, &creditedTo, &deletedAt, &epoch, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		rec.Key = id.IssueKey{Repo: id.RepoKey{Owner: owner, Name: name}, Number: number}
		rec.Author = id.Login(author)
		rec.Labels = labels
		rec.State = models.State(state)
		if creditedTo.Valid {
			p := id.ParticipantKey(creditedTo.String)
			rec.CreditedTo = &p
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			rec.DeletedAt = &t
		}
		rec.RecordedEpoch = id.Epoch(epoch)
		out = append(out, rec)
	}
	return out, rows.Err()
}
