package assistant

import (
	"fmt"
	"strings"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/storage"
)

const commandPrefix = "/list-"

// IsCommand reports whether text is a local list command that never reaches
// the model.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), commandPrefix)
}

// runCommand answers a /list-* command from the in-memory collections.
func (a *Assistant) runCommand(text string) string {
	filter := strings.TrimPrefix(strings.TrimSpace(text), commandPrefix)
	if i := strings.IndexAny(filter, " \t"); i >= 0 {
		filter = filter[:i]
	}

	if filter == "events" {
		return a.listEvents()
	}

	all := a.tasks.Tasks()
	var (
		picked []storage.Task
		header string
	)
	switch filter {
	case "all":
		picked = all
		header = fmt.Sprintf("Here are all your tasks (%d):\n", len(all))
	case "pending":
		for _, t := range all {
			if !t.Completed {
				picked = append(picked, t)
			}
		}
		header = fmt.Sprintf("Here are your pending tasks (%d):\n", len(picked))
	case "completed":
		for _, t := range all {
			if t.Completed {
				picked = append(picked, t)
			}
		}
		header = fmt.Sprintf("Here are your completed tasks (%d):\n", len(picked))
	default:
		return fmt.Sprintf("Invalid list filter: %q. Please use /list-all, /list-pending, /list-completed, or /list-events.", filter)
	}

	if len(picked) == 0 {
		return header + "No tasks found matching this filter."
	}

	lines := make([]string, len(picked))
	for i, t := range picked {
		line := fmt.Sprintf("%d. %s", i+1, t.Title)
		if t.DueDate != nil {
			line += fmt.Sprintf(" (Due: %s)", t.DueDate.In(a.location).Format(action.ShortDayLayout))
		}
		status := "Pending"
		if t.Completed {
			status = "Completed"
		}
		lines[i] = line + " [" + status + "]"
	}
	return header + strings.Join(lines, "\n")
}

func (a *Assistant) listEvents() string {
	es := a.events.Events()
	header := fmt.Sprintf("Here are your events (%d):\n", len(es))
	if len(es) == 0 {
		return header + "No events scheduled."
	}
	lines := make([]string, len(es))
	for i, e := range es {
		lines[i] = fmt.Sprintf("%d. %s (%s to %s)", i+1, e.Title,
			action.FormatDateTime(e.Start, a.location), e.End.In(a.location).Format("3:04 PM"))
	}
	return header + strings.Join(lines, "\n")
}
