package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fusion/internal/storage"
)

// QueueStore abstracts the reminder queue operations the worker needs.
type QueueStore interface {
	ClaimDueReminder(now time.Time) (*storage.Reminder, error)
	CompleteReminder(id string) error
	FailReminder(id string, errMsg string) error
}

// Worker delivers due reminders from the SQLite queue.
type Worker struct {
	store    QueueStore
	notifier Notifier
	poll     time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 30s.
func NewWorker(store QueueStore, notifier Notifier, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Worker{
		store:    store,
		notifier: notifier,
		poll:     pollInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Run polls for due reminders until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("reminder worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and delivers a single due reminder.
// Returns true if a reminder was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	r, err := w.store.ClaimDueReminder(w.now())
	if err != nil {
		return false, fmt.Errorf("claiming reminder: %w", err)
	}
	if r == nil {
		return false, nil
	}

	if err := w.notifier.Notify(ctx, *r); err != nil {
		w.logger.Warn("reminder delivery failed", "reminder_id", r.ID, "error", err)
		if failErr := w.store.FailReminder(r.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark reminder as failed", "reminder_id", r.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteReminder(r.ID); err != nil {
		return true, fmt.Errorf("completing reminder %s: %w", r.ID, err)
	}
	return true, nil
}
