package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"merit/internal/rewards/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
	txcontext "merit/pkg/platform/tx"
)

// PostgresStore persists reward accounts. Increments are single-statement
// upserts so they are atomic and commutative under concurrency.
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

func (s *PostgresStore) IncrementValid(ctx context.Context, key id.ParticipantKey, delta int64, at time.Time) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO reward_accounts (participant_key, valid_count, last_activity)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_key) DO UPDATE SET
			valid_count = reward_accounts.valid_count + EXCLUDED.valid_count,
			last_activity = EXCLUDED.last_activity
	`, key.String(), delta, at)
	if err != nil {
		return fmt.Errorf("increment valid count: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementInvalid(ctx context.Context, key id.ParticipantKey, at time.Time) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO reward_accounts (participant_key, invalid_count, last_activity)
		VALUES ($1, 1, $2)
		ON CONFLICT (participant_key) DO UPDATE SET
			invalid_count = reward_accounts.invalid_count + 1,
			last_activity = EXCLUDED.last_activity
	`, key.String(), at)
	if err != nil {
		return fmt.Errorf("increment invalid count: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementStars(ctx context.Context, key id.ParticipantKey, at time.Time) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO reward_accounts (participant_key, star_count, last_activity)
		VALUES ($1, 1, $2)
		ON CONFLICT (participant_key) DO UPDATE SET
			star_count = reward_accounts.star_count + 1,
			last_activity = EXCLUDED.last_activity
	`, key.String(), at)
	if err != nil {
		return fmt.Errorf("increment star count: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key id.ParticipantKey) (*models.RewardAccount, error) {
	var (
		acc models.RewardAccount
		raw string
	)
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT participant_key, valid_count, invalid_count, star_count, last_activity
		FROM reward_accounts WHERE participant_key = $1
	`, key.String()).Scan(&raw, &acc.ValidCount, &acc.InvalidCount, &acc.StarCount, &acc.LastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get reward account: %w", err)
	}
	acc.ParticipantKey = id.ParticipantKey(raw)
	return &acc, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]models.RewardAccount, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT participant_key, valid_count, invalid_count, star_count, last_activity
		FROM reward_accounts ORDER BY participant_key
	`)
	if err != nil {
		return nil, fmt.Errorf("snapshot reward accounts: %w", err)
	}
	defer rows.Close()

	var out []models.RewardAccount
	for rows.Next() {
		var (
			acc models.RewardAccount
			raw string
		)
		if err := rows.Scan(&raw, &acc.ValidCount, &acc.InvalidCount, &acc.StarCount, &acc.LastActivity); err != nil {
			return nil, fmt.Errorf("scan reward account: %w", err)
		}
		acc.ParticipantKey = id.ParticipantKey(raw)
		out = append(out, acc)
	}
	return out, rows.Err()
}
