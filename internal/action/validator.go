package action

import (
	"fmt"
	"strings"
)

// ValidationError explains why a payload cannot be executed. Its message is
// written for the user.
type ValidationError struct {
	Action  Kind
	Type    EntityType
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("I couldn't %s the %s: missing required field(s): %s.", e.Action, e.Type, strings.Join(e.Missing, ", "))
}

// Validate checks the action/type pair and the required fields for it:
// create needs title (plus start and end for events), update needs id and
// title, delete needs title.
func Validate(p Payload) error {
	if !p.Action.Valid() {
		return &ValidationError{
			Action: p.Action,
			Type:   p.Type,
			Reason: fmt.Sprintf("I don't know how to %q. I can create, update or delete tasks and events.", string(p.Action)),
		}
	}
	if !p.Type.Valid() {
		return &ValidationError{
			Action: p.Action,
			Type:   p.Type,
			Reason: fmt.Sprintf("I can't %s a %q. I only manage tasks and events.", p.Action, string(p.Type)),
		}
	}

	var missing []string
	switch p.Action {
	case Create:
		if p.Title == "" {
			missing = append(missing, "title")
		}
		if p.Type == Event {
			if p.Start == nil {
				missing = append(missing, "start")
			}
			if p.End == nil {
				missing = append(missing, "end")
			}
		}
	case Update:
		if p.ID == "" {
			missing = append(missing, "id")
		}
		if p.Title == "" {
			missing = append(missing, "title")
		}
	case Delete:
		if p.Title == "" {
			missing = append(missing, "title")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Action: p.Action, Type: p.Type, Missing: missing}
	}
	return nil
}
