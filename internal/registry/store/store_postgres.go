package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"merit/internal/registry/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
	txcontext "merit/pkg/platform/tx"
)

// PostgresStore persists participants in the participants table.
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

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, p models.Participant) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO participants (key, external_identity, registered_epoch, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, p.Key.String(), p.ExternalIdentity.String(), p.RegisteredEpoch.Int64(), p.RegisteredAt)
	if err != nil {
		var pqErr *pq.Error
		// 23505 unique_violation: identity already bound to another key.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert participant: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert participant rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// Insert suppressed: either the key is already present, or the identity
	// uniqueness constraint swallowed the row. Idempotent only for the
	// identical pair.
	existing, err := s.FindByKey(ctx, p.Key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("re-read participant after conflict: %w", err)
	}
	if existing.SamePair(p.Key, p.ExternalIdentity) {
		return sentinel.ErrAlreadyApplied
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) FindByKey(ctx context.Context, key id.ParticipantKey) (*models.Participant, error) {
	return s.scanOne(s.querier(ctx).QueryRowContext(ctx, `
		SELECT key, external_identity, registered_epoch, registered_at
		FROM participants WHERE key = $1
	`, key.String()))
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity id.Login) (*models.Participant, error) {
	return s.scanOne(s.querier(ctx).QueryRowContext(ctx, `
		SELECT key, external_identity, registered_epoch, registered_at
		FROM participants WHERE external_identity = $1
	`, identity.String()))
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.Participant, error) {
	var (
		p        models.Participant
		key      string
		identity string
		epoch    int64
	)
	err := row.Scan(&key, &identity, &epoch, &p.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.Key = id.ParticipantKey(key)
	p.ExternalIdentity = id.Login(identity)
	p.RegisteredEpoch = id.Epoch(epoch)
	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT key, external_identity, registered_epoch, registered_at
		FROM participants ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var (
			p        models.Participant
			key      string
			identity string
			epoch    int64
		)
		if err := rows.Scan(&key, &identity, &epoch, &p.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Key = id.ParticipantKey(key)
		p.ExternalIdentity = id.Login(identity)
		p.RegisteredEpoch = id.Epoch(epoch)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.querier(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}
