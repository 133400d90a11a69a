// Package action extracts, decodes and validates the structured action block
// the model embeds in its replies.
package action

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	Create Kind = "create"
	Update Kind = "update"
	Delete Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case Create, Update, Delete:
		return true
	}
	return false
}

type EntityType string

const (
	Task  EntityType = "task"
	Event EntityType = "event"
)

func (t EntityType) Valid() bool {
	return t == Task || t == Event
}

// Stamp is a parsed payload date. DateOnly is set when the source string
// carried no time of day.
type Stamp struct {
	time.Time
	DateOnly bool
}

// Payload is one decoded action block. Action and Type hold whatever the
// model wrote; Validate rejects values outside the known sets.
type Payload struct {
	Action      Kind
	Type        EntityType
	ID          string
	Title       string
	Description string
	Priority    string
	DueDate     *Stamp
	Start       *Stamp
	End         *Stamp
	// Date is a day-only disambiguator for update and delete.
	Date *Stamp
}

// MatchDate returns the date used to disambiguate same-titled entities.
// Deletes use due_date (tasks) or start (events), falling back to date.
// Updates carry new values in those fields, so only date applies.
func (p Payload) MatchDate() *Stamp {
	if p.Action != Update {
		if p.Type == Event && p.Start != nil {
			return p.Start
		}
		if p.Type != Event && p.DueDate != nil {
			return p.DueDate
		}
	}
	if p.Date != nil {
		return &Stamp{Time: p.Date.Time, DateOnly: true}
	}
	return nil
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseStamp parses the date formats models emit. Strings without a zone are
// read in loc.
func ParseStamp(s string, loc *time.Location) (Stamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Stamp{Time: t}, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return Stamp{Time: t}, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return Stamp{Time: t, DateOnly: true}, nil
	}
	return Stamp{}, fmt.Errorf("unrecognized date %q", s)
}
