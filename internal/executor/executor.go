// Package executor applies validated actions to the task and calendar
// services and reports every outcome as a chat message.
package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/resolver"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

type Tasks interface {
	Tasks() []storage.Task
	CreateTask(in tasks.Input) (storage.Task, error)
	UpdateTask(id string, p tasks.Patch) (storage.Task, error)
	DeleteTask(id string) error
}

type Calendar interface {
	Events() []storage.Event
	CreateEvent(in calendar.Input) (storage.Event, error)
	UpdateEvent(id string, p calendar.Patch) (storage.Event, error)
	DeleteEvent(id string) error
}

// Reminders is best effort; implementations log their own failures.
type Reminders interface {
	ScheduleTaskReminder(t storage.Task)
	CancelTaskReminder(id string)
	ScheduleEventReminder(e storage.Event)
	CancelEventReminder(id string)
}

// Emitter receives the assistant messages produced while executing.
type Emitter interface {
	Emit(text string)
}

// EmitFunc adapts a function to Emitter.
type EmitFunc func(text string)

func (f EmitFunc) Emit(text string) { f(text) }

type Outcome int

const (
	Created Outcome = iota
	Updated
	Deleted
	NotFound
	Ambiguous
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	case Ambiguous:
		return "ambiguous"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Executor struct {
	tasks     Tasks
	calendar  Calendar
	reminders Reminders
	resolver  *resolver.Resolver
	location  *time.Location
	logger    *slog.Logger
}

func New(t Tasks, c Calendar, r Reminders, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.Local
	}
	return &Executor{
		tasks:     t,
		calendar:  c,
		reminders: r,
		resolver:  resolver.New(t, c, loc),
		location:  loc,
		logger:    slog.Default(),
	}
}

// Execute applies a validated payload. It emits at least one message and the
// last one always describes the outcome.
func (e *Executor) Execute(p action.Payload, out Emitter) Outcome {
	var o Outcome
	switch {
	case p.Action == action.Create && p.Type == action.Event:
		o = e.createEvent(p, out)
	case p.Action == action.Create:
		o = e.createTask(p, out)
	case p.Action == action.Update && p.Type == action.Event:
		o = e.updateEvent(p, out)
	case p.Action == action.Update:
		o = e.updateTask(p, out)
	case p.Action == action.Delete && p.Type == action.Event:
		o = e.deleteEvent(p, out)
	case p.Action == action.Delete:
		o = e.deleteTask(p, out)
	default:
		out.Emit(fmt.Sprintf("❌ Unsupported action %q.", p.Action))
		o = Failed
	}
	e.logger.Info("action executed", "action", p.Action, "type", p.Type, "title", p.Title, "outcome", o)
	return o
}

func (e *Executor) createTask(p action.Payload, out Emitter) Outcome {
	in := tasks.Input{
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
	}
	if p.DueDate != nil {
		d := p.DueDate.Time
		in.DueDate = &d
	}

	t, err := e.tasks.CreateTask(in)
	if err != nil {
		out.Emit("❌ Error creating task: " + err.Error())
		return Failed
	}
	if t.DueDate != nil {
		e.reminders.ScheduleTaskReminder(t)
		out.Emit(fmt.Sprintf("✅ Task %q created (due %s).", t.Title, action.FormatDay(*t.DueDate, e.location)))
	} else {
		out.Emit(fmt.Sprintf("✅ Task %q created.", t.Title))
	}
	return Created
}

func (e *Executor) createEvent(p action.Payload, out Emitter) Outcome {
	ev, err := e.calendar.CreateEvent(calendar.Input{
		Title:       p.Title,
		Description: p.Description,
		Start:       p.Start.Time,
		End:         p.End.Time,
	})
	if err != nil {
		out.Emit("❌ Error creating event: " + err.Error())
		return Failed
	}
	e.reminders.ScheduleEventReminder(ev)
	out.Emit(fmt.Sprintf("✅ Event %q scheduled for %s.", ev.Title, action.FormatDateTime(ev.Start, e.location)))
	return Created
}

func (e *Executor) updateTask(p action.Payload, out Emitter) Outcome {
	t, err := e.resolver.ResolveTask(p)
	if err != nil {
		return e.resolutionFailed(err, out)
	}

	e.reminders.CancelTaskReminder(t.ID)

	patch := tasks.Patch{Title: &p.Title}
	if p.Description != "" {
		patch.Description = &p.Description
	}
	if p.Priority != "" {
		patch.Priority = &p.Priority
	}
	if p.DueDate != nil {
		d := p.DueDate.Time
		patch.DueDate = &d
	}

	updated, err := e.tasks.UpdateTask(t.ID, patch)
	if err != nil {
		// Nothing changed, so the old reminder is still owed.
		e.reminders.ScheduleTaskReminder(t)
		out.Emit("❌ Error updating task: " + err.Error())
		return Failed
	}
	e.reminders.ScheduleTaskReminder(updated)
	out.Emit(fmt.Sprintf("✅ Task %q updated.", updated.Title))
	return Updated
}

func (e *Executor) updateEvent(p action.Payload, out Emitter) Outcome {
	ev, err := e.resolver.ResolveEvent(p)
	if err != nil {
		return e.resolutionFailed(err, out)
	}

	e.reminders.CancelEventReminder(ev.ID)

	patch := calendar.Patch{Title: &p.Title}
	if p.Description != "" {
		patch.Description = &p.Description
	}
	if p.Start != nil {
		start := p.Start.Time
		patch.Start = &start
		if p.End == nil {
			end := start.Add(ev.End.Sub(ev.Start))
			patch.End = &end
		}
	}
	if p.End != nil {
		end := p.End.Time
		patch.End = &end
	}

	updated, err := e.calendar.UpdateEvent(ev.ID, patch)
	if err != nil {
		e.reminders.ScheduleEventReminder(ev)
		out.Emit("❌ Error updating event: " + err.Error())
		return Failed
	}
	e.reminders.ScheduleEventReminder(updated)
	out.Emit(fmt.Sprintf("✅ Event %q updated (%s).", updated.Title, action.FormatDateTime(updated.Start, e.location)))
	return Updated
}

func (e *Executor) deleteTask(p action.Payload, out Emitter) Outcome {
	out.Emit(fmt.Sprintf("Looking for task %q to delete...", p.Title))

	t, err := e.resolver.ResolveTask(p)
	if err != nil {
		return e.resolutionFailed(err, out)
	}

	found := fmt.Sprintf("I found the task %q", t.Title)
	if t.DueDate != nil {
		found += " (Due: " + action.FormatDay(*t.DueDate, e.location) + ")"
	}
	out.Emit(found + ". Proceeding to delete...")

	e.reminders.CancelTaskReminder(t.ID)
	if err := e.tasks.DeleteTask(t.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			out.Emit(fmt.Sprintf("❌ Could not find a task with title %q. It may already have been deleted.", t.Title))
			return NotFound
		}
		e.reminders.ScheduleTaskReminder(t)
		out.Emit("❌ Error deleting task: " + err.Error())
		return Failed
	}
	out.Emit("✅ Task deleted successfully")
	return Deleted
}

func (e *Executor) deleteEvent(p action.Payload, out Emitter) Outcome {
	out.Emit(fmt.Sprintf("Looking for event %q to delete...", p.Title))

	ev, err := e.resolver.ResolveEvent(p)
	if err != nil {
		return e.resolutionFailed(err, out)
	}

	out.Emit(fmt.Sprintf("I found the event %q (Starts: %s). Proceeding to delete...", ev.Title, action.FormatDateTime(ev.Start, e.location)))

	e.reminders.CancelEventReminder(ev.ID)
	if err := e.calendar.DeleteEvent(ev.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			out.Emit(fmt.Sprintf("❌ Could not find an event with title %q. It may already have been deleted.", ev.Title))
			return NotFound
		}
		e.reminders.ScheduleEventReminder(ev)
		out.Emit("❌ Error deleting event: " + err.Error())
		return Failed
	}
	out.Emit("✅ Event deleted successfully")
	return Deleted
}

func (e *Executor) resolutionFailed(err error, out Emitter) Outcome {
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		out.Emit("❌ " + nf.Error())
		return NotFound
	}
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		out.Emit(amb.Error())
		return Ambiguous
	}
	out.Emit("❌ " + err.Error())
	return Failed
}
