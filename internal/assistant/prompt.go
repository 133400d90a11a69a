package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/storage"
)

// maxListed bounds how many tasks and events are described to the model.
const maxListed = 50

const instructions = `You are FUSION, a concise assistant that manages the user's tasks and calendar events.

Rules:
1. Help the user create, update and delete tasks and events. Only act when the user asks for it or clearly implies it. When unsure, ask a short clarifying question and do not act.
2. When you act, reply with one short friendly sentence followed by exactly one action block:
` + "```json" + `
{"action":"create","type":"event","title":"Team Meeting","start":"2025-03-07T14:00:00","end":"2025-03-07T15:00:00","description":"Project sync"}
` + "```" + `
3. Fields:
   - action: create, update or delete.
   - type: task or event.
   - Tasks take title, description, due_date and priority (low, medium or high). Choose the priority from the task itself: exams and deadlines are high, routine chores are medium or low.
   - Events take title, description, start and end.
   - update needs the id of the existing item from the lists below plus its title. Include only the fields that change.
   - delete needs the title. Add "date" (YYYY-MM-DD) when several items share a title.
4. Use double quotes only. Dates are ISO 8601 (YYYY-MM-DDTHH:mm:ss) in the user's timezone unless the user names another one.
5. Never put JSON, code or technical terms in the text part of your reply.`

// SystemPrompt renders the instructions together with the current time and
// the user's live tasks and events.
func SystemPrompt(now time.Time, loc *time.Location, window int, ts []storage.Task, es []storage.Event) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Current date and time: %s (%s).\n", now.In(loc).Format(action.LongLayout), loc)
	fmt.Fprintf(&b, "You see the last %d messages of the conversation.\n", window)

	b.WriteString("\nTasks:\n")
	if len(ts) == 0 {
		b.WriteString("(none)\n")
	}
	for i, t := range ts {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(ts)-maxListed)
			break
		}
		fmt.Fprintf(&b, "- id=%s %q priority=%s", t.ID, t.Title, t.Priority)
		if t.DueDate != nil {
			fmt.Fprintf(&b, " due=%s", t.DueDate.In(loc).Format(time.DateTime))
		}
		if t.Completed {
			b.WriteString(" completed")
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nEvents:\n")
	if len(es) == 0 {
		b.WriteString("(none)\n")
	}
	for i, e := range es {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(es)-maxListed)
			break
		}
		fmt.Fprintf(&b, "- id=%s %q start=%s end=%s\n", e.ID, e.Title,
			e.Start.In(loc).Format(time.DateTime), e.End.In(loc).Format(time.DateTime))
	}
	return b.String()
}
