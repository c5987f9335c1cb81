// Package postgres implements the audit outbox. Events are appended to the
// audit_events table; the Kafka relay marks rows published after shipping
// them. The primary key insert is ON CONFLICT DO NOTHING so redelivery of the
// same event ID is harmless.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "merit/pkg/platform/audit"
	txcontext "merit/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an audit event to the outbox.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, category, action, actor_id, subject_id, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID, string(event.Category), event.Action,
		event.ActorID, event.SubjectID, event.RequestID,
		payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Unpublished returns up to limit outbox rows not yet relayed, oldest first.
func (s *Store) Unpublished(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, action, actor_id, subject_id, request_id, metadata, created_at
		FROM audit_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &category, &e.Action, &e.ActorID, &e.SubjectID, &e.RequestID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.Category(category)
		if err := json.Unmarshal(payload, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkPublished stamps the given events as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_events SET published_at = $2
		WHERE id = ANY($1::uuid[])
	`, pq.Array(raw), at)
	if err != nil {
		return fmt.Errorf("mark audit events published: %w", err)
	}
	return nil
}
