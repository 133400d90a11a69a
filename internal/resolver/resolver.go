// Package resolver maps the title (and optional date) in an update or delete
// action to exactly one live task or event.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/storage"
)

type TaskSource interface {
	Tasks() []storage.Task
}

type EventSource interface {
	Events() []storage.Event
}

// NotFoundError means nothing matched the title and date.
type NotFoundError struct {
	Action action.Kind
	Type   action.EntityType
	Title  string
	// Date is the searched date, already formatted; empty when none was given.
	Date string
	// DateLabel names the date field, e.g. "due date" or "start".
	DateLabel string
}

func (e *NotFoundError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("Could not find a %s with title %q. Please check the title and try again.", e.Type, e.Title)
	}
	return fmt.Sprintf("Could not find a %s with title %q and %s %s. Please check the title and date and try again.", e.Type, e.Title, e.DateLabel, e.Date)
}

// Candidate is one of several entities sharing a title.
type Candidate struct {
	ID    string
	Title string
	// When is the distinguishing date, formatted; "no due date" for undated tasks.
	When string
}

// AmbiguousError means more than one entity matched. Nothing is mutated;
// the user has to supply a date.
type AmbiguousError struct {
	Action     action.Kind
	Type       action.EntityType
	Title      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found multiple %ss with the title %q:\n", e.Type, e.Title)
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Title, c.When)
	}
	dateHint := "due date"
	if e.Type == action.Event {
		dateHint = "date and time"
	}
	fmt.Fprintf(&b, "\nPlease specify which one you want to %s by including the %s.", e.Action, dateHint)
	return b.String()
}

type Resolver struct {
	tasks    TaskSource
	events   EventSource
	location *time.Location
}

func New(tasks TaskSource, events EventSource, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{tasks: tasks, events: events, location: loc}
}

// ResolveTask finds the task p refers to. An update carrying the id of a live
// task resolves to it directly; otherwise the title (case-insensitive) is
// matched and, when p has a date, narrowed to tasks due that day.
func (r *Resolver) ResolveTask(p action.Payload) (storage.Task, error) {
	all := r.tasks.Tasks()
	if p.Action == action.Update && p.ID != "" {
		for _, t := range all {
			if t.ID == p.ID {
				return t, nil
			}
		}
	}

	date := p.MatchDate()
	var matches []storage.Task
	for _, t := range all {
		if !strings.EqualFold(t.Title, p.Title) {
			continue
		}
		if date != nil && (t.DueDate == nil || !action.SameDay(*t.DueDate, date.Time, r.location)) {
			continue
		}
		matches = append(matches, t)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		e := &NotFoundError{Action: p.Action, Type: action.Task, Title: p.Title, DateLabel: "due date"}
		if date != nil {
			e.Date = action.FormatDay(date.Time, r.location)
		}
		return storage.Task{}, e
	}

	amb := &AmbiguousError{Action: p.Action, Type: action.Task, Title: p.Title}
	for _, t := range matches {
		when := "no due date"
		if t.DueDate != nil {
			when = "Due: " + t.DueDate.In(r.location).Format(action.ShortDayLayout)
		}
		amb.Candidates = append(amb.Candidates, Candidate{ID: t.ID, Title: t.Title, When: when})
	}
	return storage.Task{}, amb
}

// ResolveEvent finds the event p refers to. A start with a time of day must
// match to the minute; a day-only date matches any event starting that day.
func (r *Resolver) ResolveEvent(p action.Payload) (storage.Event, error) {
	all := r.events.Events()
	if p.Action == action.Update && p.ID != "" {
		for _, e := range all {
			if e.ID == p.ID {
				return e, nil
			}
		}
	}

	date := p.MatchDate()
	var matches []storage.Event
	for _, e := range all {
		if !strings.EqualFold(e.Title, p.Title) {
			continue
		}
		if date != nil {
			if date.DateOnly {
				if !action.SameDay(e.Start, date.Time, r.location) {
					continue
				}
			} else if !action.SameMinute(e.Start, date.Time) {
				continue
			}
		}
		matches = append(matches, e)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		e := &NotFoundError{Action: p.Action, Type: action.Event, Title: p.Title, DateLabel: "start"}
		if date != nil {
			if date.DateOnly {
				e.DateLabel = "date"
				e.Date = action.FormatDay(date.Time, r.location)
			} else {
				e.Date = action.FormatDateTime(date.Time, r.location)
			}
		}
		return storage.Event{}, e
	}

	amb := &AmbiguousError{Action: p.Action, Type: action.Event, Title: p.Title}
	for _, e := range matches {
		amb.Candidates = append(amb.Candidates, Candidate{
			ID:    e.ID,
			Title: e.Title,
			When:  "Starts: " + action.FormatDateTime(e.Start, r.location),
		})
	}
	return storage.Event{}, amb
}
