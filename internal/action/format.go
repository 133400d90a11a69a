package action

import "time"

const (
	// DayLayout renders a calendar day, e.g. "June 11, 2025".
	DayLayout = "January 2, 2006"
	// ShortDayLayout renders a compact day, e.g. "Jun 11, 2025".
	ShortDayLayout = "Jan 2, 2006"
	// DateTimeLayout renders a day with time, e.g. "Jun 11, 2025, 3:00 PM".
	DateTimeLayout = "Jan 2, 2006, 3:04 PM"
	// LongLayout is used for the current time in the system prompt.
	LongLayout = "Monday, January 2, 2006 3:04 PM"
)

func FormatDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateTimeLayout)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// SameMinute reports whether a and b agree to the minute.
func SameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
