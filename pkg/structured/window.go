package structured

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is an inclusive date range detected in a question.
type Window struct {
	Start time.Time
	End   time.Time
}

// Bounds renders the window as [start, end] dates for a date_range filter.
func (w Window) Bounds() []any {
	return []any{w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly)}
}

func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + " to " + w.End.Format(time.DateOnly)
}

var (
	lastWeekPattern  = regexp.MustCompile(`\b(?:last|past)\s+week\b`)
	lastMonthPattern = regexp.MustCompile(`\b(?:last|past)\s+month\b`)
	lastNPattern     = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+(days?|weeks?|months?)\b`)
)

// ParseWindow detects relative ranges such as "last week", "last month" and
// "past 3 months". Weeks count 7 days and months 30. The window ends at the
// start of now's day.
func ParseWindow(text string, now time.Time) (Window, bool) {
	t := strings.ToLower(text)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	days := 0
	switch {
	case lastNPattern.MatchString(t):
		m := lastNPattern.FindStringSubmatch(t)
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Window{}, false
		}
		switch {
		case strings.HasPrefix(m[2], "week"):
			days = n * 7
		case strings.HasPrefix(m[2], "month"):
			days = n * 30
		default:
			days = n
		}
	case lastWeekPattern.MatchString(t):
		days = 7
	case lastMonthPattern.MatchString(t):
		days = 30
	default:
		return Window{}, false
	}
	return Window{Start: end.AddDate(0, 0, -days), End: end}, true
}
