// Package reminder schedules and delivers due-date and event reminders.
package reminder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

// Store is the reminder queue.
type Store interface {
	ScheduleReminder(r storage.Reminder) error
	CancelReminders(sourceType, sourceID string) (int, error)
}

type offset struct {
	label  string
	before time.Duration
	body   string
}

var taskOffsets = []offset{
	{label: "1d", before: 24 * time.Hour, body: "%s is due tomorrow"},
}

var eventOffsets = []offset{
	{label: "60m", before: time.Hour, body: "%s starts in 1 hour"},
	{label: "15m", before: 15 * time.Minute, body: "%s starts in 15 minutes"},
	{label: "0m", before: 0, body: "%s is starting now"},
}

// Scheduler turns tasks and events into queued reminders. All methods are
// best effort: failures are logged and never returned.
type Scheduler struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewScheduler(store Store) *Scheduler {
	return &Scheduler{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// ReminderID is deterministic so rescheduling the same source replaces rows.
func ReminderID(sourceType, sourceID, label string) string {
	return fmt.Sprintf("%s-%s-%s", sourceType, sourceID, label)
}

// ScheduleTaskReminder queues a reminder one day before the task is due.
// Completed tasks, tasks without a due date and past fire times are skipped.
func (s *Scheduler) ScheduleTaskReminder(t storage.Task) {
	if t.DueDate == nil || t.Completed {
		return
	}
	s.schedule(storage.SourceTask, t.ID, "Task reminder", t.Title, *t.DueDate, taskOffsets)
}

func (s *Scheduler) CancelTaskReminder(id string) {
	s.cancel(storage.SourceTask, id)
}

// ScheduleEventReminder queues reminders one hour and fifteen minutes before
// the event and at its start.
func (s *Scheduler) ScheduleEventReminder(e storage.Event) {
	s.schedule(storage.SourceEvent, e.ID, "Upcoming event", e.Title, e.Start, eventOffsets)
}

func (s *Scheduler) CancelEventReminder(id string) {
	s.cancel(storage.SourceEvent, id)
}

func (s *Scheduler) schedule(sourceType, sourceID, title, subject string, at time.Time, offsets []offset) {
	now := s.now()
	scheduled := 0
	for _, o := range offsets {
		fireAt := at.Add(-o.before)
		if !fireAt.After(now) {
			continue
		}
		r := storage.Reminder{
			ID:         ReminderID(sourceType, sourceID, o.label),
			SourceType: sourceType,
			SourceID:   sourceID,
			Title:      title,
			Body:       fmt.Sprintf(o.body, subject),
			FireAt:     fireAt,
		}
		if err := s.store.ScheduleReminder(r); err != nil {
			s.logger.Warn("scheduling reminder failed", "reminder_id", r.ID, "error", err)
			continue
		}
		scheduled++
	}
	s.logger.Debug("reminders scheduled", "source_type", sourceType, "source_id", sourceID, "count", scheduled)
}

func (s *Scheduler) cancel(sourceType, sourceID string) {
	n, err := s.store.CancelReminders(sourceType, sourceID)
	if err != nil {
		s.logger.Warn("cancelling reminders failed", "source_type", sourceType, "source_id", sourceID, "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("reminders cancelled", "source_type", sourceType, "source_id", sourceID, "count", n)
	}
}

// OnTaskChange drops reminders for tasks that were deleted or completed,
// whichever surface made the change.
func (s *Scheduler) OnTaskChange(c tasks.Change) {
	switch {
	case c.Kind == tasks.Deleted:
		s.CancelTaskReminder(c.Task.ID)
	case c.Kind == tasks.Updated && c.Task.Completed:
		s.CancelTaskReminder(c.Task.ID)
	}
}

func (s *Scheduler) OnEventChange(c calendar.Change) {
	if c.Kind == calendar.Deleted {
		s.CancelEventReminder(c.Event.ID)
	}
}

// Resync re-queues reminders for every open task and event. Past fire times
// are skipped, so delivered reminders are not repeated.
func (s *Scheduler) Resync(ts []storage.Task, es []storage.Event) {
	for _, t := range ts {
		s.ScheduleTaskReminder(t)
	}
	for _, e := range es {
		s.ScheduleEventReminder(e)
	}
}
