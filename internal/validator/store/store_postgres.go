package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"merit/internal/validator/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

// PostgresStore persists validators in the validators table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, v models.Validator) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO validators (id, secret_hash, active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, v.ID.String(), v.SecretHash, v.Active, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create validator %s: %w", v.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create validator %s: %w", v.ID, err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, validatorID id.ValidatorID) (*models.Validator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, secret_hash, active, created_at, last_seen_at
		FROM validators WHERE id = $1
	`, validatorID.String())

	var (
		v        models.Validator
		rawID    string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&rawID, &v.SecretHash, &v.Active, &v.CreatedAt, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get validator %s: %w", validatorID, err)
	}
	v.ID = id.ValidatorID(rawID)
	if lastSeen.Valid {
		t := lastSeen.Time
		v.LastSeenAt = &t
	}
	return &v, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Validator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, secret_hash, active, created_at, last_seen_at
		FROM validators ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list validators: %w", err)
	}
	defer rows.Close()

	var out []models.Validator
	for rows.Next() {
		var (
			v        models.Validator
			rawID    string
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&rawID, &v.SecretHash, &v.Active, &v.CreatedAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan validator: %w", err)
		}
		v.ID = id.ValidatorID(rawID)
		if lastSeen.Valid {
			t := lastSeen.Time
			v.LastSeenAt = &t
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validators: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, validatorID id.ValidatorID, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE validators SET active = $2 WHERE id = $1
	`, validatorID.String(), active)
	if err != nil {
		return fmt.Errorf("set validator %s active: %w", validatorID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set validator %s active: %w", validatorID, err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, validatorID id.ValidatorID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE validators SET last_seen_at = $2 WHERE id = $1
	`, validatorID.String(), at)
	if err != nil {
		return fmt.Errorf("touch validator %s: %w", validatorID, err)
	}
	return nil
}
