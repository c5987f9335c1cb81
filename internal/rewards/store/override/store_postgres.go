package override

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"merit/internal/rewards/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
	txcontext "merit/pkg/platform/tx"
)

// PostgresStore persists overrides in the weight_overrides table.
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

const overrideColumns = `id, participant_key, bonus_weight, reason, granted_by, granted_at, expires_at, active`

func (s *PostgresStore) Create(ctx context.Context, o models.Override) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO weight_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(o.ID), o.ParticipantKey.String(), o.BonusWeight, o.Reason,
		o.GrantedBy, o.GrantedAt, o.ExpiresAt, o.Active)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert override rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, overrideID id.OverrideID) (*models.Override, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT `+overrideColumns+` FROM weight_overrides WHERE id = $1
	`, uuid.UUID(overrideID))
	o, err := scanOverride(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get override: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) Update(ctx context.Context, o models.Override) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE weight_overrides
		SET reason = $2, active = $3
		WHERE id = $1
	`, uuid.UUID(o.ID), o.Reason, o.Active)
	if err != nil {
		return fmt.Errorf("update override: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update override rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context, asOf time.Time) ([]models.Override, error) {
	// Expiry is a read-time comparison; expired rows are excluded without
	// ever being rewritten.
	return s.list(ctx, `
		SELECT `+overrideColumns+` FROM weight_overrides
		WHERE active AND expires_at > $1
		ORDER BY granted_at, id
	`, asOf)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.Override, error) {
	return s.list(ctx, `
		SELECT `+overrideColumns+` FROM weight_overrides
		ORDER BY granted_at, id
	`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Override, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []models.Override
	for rows.Next() {
		o, err := scanOverride(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOverride(scan func(...any) error) (*models.Override, error) {
	var (
		o   models.Override
		uid uuid.UUID
		key string
	)
	if err := scan(&uid, &key, &o.BonusWeight, &o.Reason, &o.GrantedBy, &o.GrantedAt, &o.ExpiresAt, &o.Active); err != nil {
		return nil, err
	}
	o.ID = id.OverrideID(uid)
	o.ParticipantKey = id.ParticipantKey(key)
	return &o, nil
}
