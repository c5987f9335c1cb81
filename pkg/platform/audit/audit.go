// Package audit captures key domain actions as events. Services publish
// fire-and-forget; a background worker appends events to the Postgres outbox,
// and the relay ships them to Kafka. Keep Event transport-agnostic so stores
// and sinks can fan out.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Category classifies audit events by their primary purpose, enabling
// different retention policies and routing downstream.
type Category string

const (
	// CategoryCompliance covers ledger-affecting actions: credits, penalties,
	// reversals, overrides. These are the audit trail for payouts.
	CategoryCompliance Category = "compliance"

	// CategorySecurity covers admin/validator authentication and consensus
	// anomalies.
	CategorySecurity Category = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations Category = "operations"
)

// Action names. The categories map below is the source of truth for routing.
const (
	ActionParticipantRegistered = "participant_registered"
	ActionIssueCredited         = "issue_credited"
	ActionIssuePenalized        = "issue_penalized"
	ActionCreditReversed        = "credit_reversed"
	ActionIssueClaimed          = "issue_claimed"
	ActionOverrideGranted       = "override_granted"
	ActionOverrideRevoked       = "override_revoked"
	ActionProposalSubmitted     = "proposal_submitted"
	ActionSubjectResolved       = "subject_resolved"
	ActionValidatorRegistered   = "validator_registered"
	ActionValidatorTokenIssued  = "validator_token_issued"
	ActionTargetAdded           = "target_added"
	ActionTargetRemoved         = "target_removed"
	ActionSyncCompleted         = "sync_completed"
)

var actionCategories = map[string]Category{
	ActionParticipantRegistered: CategoryCompliance,
	ActionIssueCredited:         CategoryCompliance,
	ActionIssuePenalized:        CategoryCompliance,
	ActionCreditReversed:        CategoryCompliance,
	ActionIssueClaimed:          CategoryCompliance,
	ActionOverrideGranted:       CategoryCompliance,
	ActionOverrideRevoked:       CategoryCompliance,

	ActionValidatorRegistered:  CategorySecurity,
	ActionValidatorTokenIssued: CategorySecurity,

	ActionProposalSubmitted: CategoryOperations,
	ActionSubjectResolved:   CategoryOperations,
	ActionTargetAdded:       CategoryOperations,
	ActionTargetRemoved:     CategoryOperations,
	ActionSyncCompleted:     CategoryOperations,
}

// CategoryOf returns the category for an action. Unknown actions default to
// operations.
func CategoryOf(action string) Category {
	if c, ok := actionCategories[action]; ok {
		return c
	}
	return CategoryOperations
}

// Event is one audited action.
type Event struct {
	ID        uuid.UUID
	Category  Category
	Action    string
	ActorID   string
	SubjectID string
	RequestID string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher accepts events from domain services. Implementations must never
// block the caller's critical path.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops all events. Used when auditing is not wired (tests).
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// ChannelPublisher hands events to the worker through a buffered channel.
// A full buffer drops the event with a warning rather than stall the ledger.
type ChannelPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewChannelPublisher creates the publisher and its inbox channel. Pass the
// returned channel to the worker.
func NewChannelPublisher(buffer int, logger *slog.Logger) (*ChannelPublisher, <-chan Event) {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	inbox := make(chan Event, buffer)
	return &ChannelPublisher{inbox: inbox, logger: logger}, inbox
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = CategoryOf(event.Action)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"subject_id", event.SubjectID,
		)
		return nil
	}
}
