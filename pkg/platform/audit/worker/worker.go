// Package worker drains the audit inbox into the store.
package worker

import (
	"context"
	"log/slog"

	audit "merit/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. Store
// failures are logged and the event dropped; auditing never takes the
// ledger down with it.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run processes events until the context is cancelled, then drains whatever
// is still buffered before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	// Detached context: the run context is already cancelled.
	ctx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.append(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "append audit event failed",
			"action", event.Action,
			"event_id", event.ID.String(),
			"error", err,
		)
	}
}
