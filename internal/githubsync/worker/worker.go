// Package worker drives sync passes on a fixed interval.
package worker

import (
	"context"
	"log/slog"
	"time"

	"merit/internal/githubsync/models"
)

// Syncer runs one full pass.
type Syncer interface {
	RunOnce(ctx context.Context) (models.RunReport, error)
}

// Worker loops RunOnce until its context is canceled.
type Worker struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

func New(syncer Syncer, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{syncer: syncer, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled. The first pass starts immediately.
func (w *Worker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "sync worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "sync worker stopped")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Worker) pass(ctx context.Context) {
	if _, err := w.syncer.RunOnce(ctx); err != nil {
		w.logger.ErrorContext(ctx, "sync pass failed", "error", err)
	}
}
