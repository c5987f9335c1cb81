// Package relay ships outbox audit events to Kafka. The outbox table is the
// durable source; Kafka delivery is at-least-once and consumers dedupe on
// event ID.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "merit/pkg/platform/audit"
)

// Outbox is the slice of the Postgres audit store the relay needs.
type Outbox interface {
	Unpublished(ctx context.Context, limit int) ([]audit.Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Relay polls the outbox and produces unpublished events to the audit topic.
type Relay struct {
	outbox   Outbox
	client   *kgo.Client
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// New connects to the brokers and returns a ready relay.
func New(brokers []string, topic string, outbox Outbox, logger *slog.Logger) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureTopic(client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Relay{
		outbox:   outbox,
		client:   client,
		topic:    topic,
		interval: 5 * time.Second,
		batch:    100,
		logger:   logger,
	}, nil
}

// ensureTopic creates the audit topic if the cluster does not have it yet.
// Replication stays at the broker default; retention policy is an operator
// concern, not ours.
func ensureTopic(client *kgo.Client, topic string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adm := kadm.NewClient(client)
	existing, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list audit topic: %w", err)
	}
	if existing.Has(topic) {
		return nil
	}
	if _, err := adm.CreateTopic(ctx, 1, -1, nil, topic); err != nil {
		return fmt.Errorf("create audit topic %q: %w", topic, err)
	}
	return nil
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RelayOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit relay pass failed", "error", err)
			}
		}
	}
}

// wirePayload is the JSON structure produced to Kafka.
type wirePayload struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	SubjectID string         `json:"subject_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// RelayOnce ships one batch of unpublished events.
func (r *Relay) RelayOnce(ctx context.Context) error {
	events, err := r.outbox.Unpublished(ctx, r.batch)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(wirePayload{
			ID:        e.ID.String(),
			Category:  string(e.Category),
			Action:    e.Action,
			ActorID:   e.ActorID,
			SubjectID: e.SubjectID,
			RequestID: e.RequestID,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: r.topic,
			// Key by subject so one subject's events stay ordered.
			Key:   []byte(e.SubjectID),
			Value: payload,
		})
	}

	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return r.outbox.MarkPublished(ctx, ids, time.Now())
}
