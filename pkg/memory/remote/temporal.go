package remote

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/pkg/memory"
)

// lastNPattern matches "last 7 days", "past 2 weeks", "last 1 hour".
var lastNPattern = regexp.MustCompile(`^(?:last|past)\s+(\d+)\s+(hour|day|week|month)s?$`)

// ParseTimeExpr translates a natural-language time expression into a
// time range relative to now. Recognized forms:
//
//	today, yesterday, this week, last week, this month, last month,
//	last N hours/days/weeks/months (also "past N ...")
//
// Calendar expressions use the local week starting Monday.
func ParseTimeExpr(expr string, now time.Time) (*memory.TimeRange, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return nil, fmt.Errorf("empty time expression")
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch expr {
	case "today":
		return &memory.TimeRange{Start: startOfDay, End: now}, nil
	case "yesterday":
		return &memory.TimeRange{
			Start: startOfDay.AddDate(0, 0, -1),
			End:   startOfDay,
		}, nil
	case "this week":
		return &memory.TimeRange{Start: startOfWeek(startOfDay), End: now}, nil
	case "last week":
		thisWeek := startOfWeek(startOfDay)
		return &memory.TimeRange{
			Start: thisWeek.AddDate(0, 0, -7),
			End:   thisWeek,
		}, nil
	case "this month":
		return &memory.TimeRange{
			Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
			End:   now,
		}, nil
	case "last month":
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &memory.TimeRange{
			Start: thisMonth.AddDate(0, -1, 0),
			End:   thisMonth,
		}, nil
	}

	if m := lastNPattern.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid count in time expression %q", expr)
		}
		var start time.Time
		switch m[2] {
		case "hour":
			start = now.Add(-time.Duration(n) * time.Hour)
		case "day":
			start = now.AddDate(0, 0, -n)
		case "week":
			start = now.AddDate(0, 0, -7*n)
		case "month":
			start = now.AddDate(0, -n, 0)
		}
		return &memory.TimeRange{Start: start, End: now}, nil
	}

	return nil, fmt.Errorf("unrecognized time expression %q", expr)
}

// startOfWeek returns the Monday 00:00 of the week containing day.
func startOfWeek(day time.Time) time.Time {
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}
