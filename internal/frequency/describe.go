package frequency

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var ordinalNames = map[Ordinal]string{
	1:           "1st",
	2:           "2nd",
	3:           "3rd",
	4:           "4th",
	5:           "5th",
	LastOrdinal: "Last",
}

// Describe renders p as short English text for bot messages.
func Describe(p Pattern) string {
	switch v := p.(type) {
	case Daily:
		return "Every day"
	case Weekly:
		days := append([]time.Weekday(nil), v.Days...)
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
		if len(dedupeWeekdays(days)) == 7 {
			return "Every day"
		}
		names := make([]string, 0, len(days))
		for _, d := range dedupeWeekdays(days) {
			names = append(names, d.String()[:3])
		}
		return strings.Join(names, ", ")
	case MonthlyDays:
		days := append([]int(nil), v.Days...)
		sort.Ints(days)
		parts := make([]string, 0, len(days))
		for _, d := range days {
			parts = append(parts, fmt.Sprint(d))
		}
		return "Day " + strings.Join(parts, ", ") + " of the month"
	case MonthlyLastDay:
		return "Last day of the month"
	case MonthlyWeekday:
		return fmt.Sprintf("%s %s of the month", ordinalNames[v.Ordinal], v.Weekday)
	case Yearly:
		return fmt.Sprintf("Every year on %s %d", v.Month.String()[:3], v.Day)
	case OneTime:
		return "Once on " + v.Date.String()
	}
	return "No schedule"
}

func dedupeWeekdays(sorted []time.Weekday) []time.Weekday {
	out := sorted[:0:0]
	for i, d := range sorted {
		if i > 0 && sorted[i-1] == d {
			continue
		}
		out = append(out, d)
	}
	return out
}
