package excel

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/habitus/internal/frequency"
	"github.com/example/habitus/pkg/models"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

var ordinals = map[string]frequency.Ordinal{
	"1st": 1, "first": 1,
	"2nd": 2, "second": 2,
	"3rd": 3, "third": 3,
	"4th": 4, "fourth": 4,
	"5th": 5, "fifth": 5,
	"last": frequency.LastOrdinal,
}

// ParseFrequency reads the frequency cell of an import row. It accepts the
// JSON form used by the API or a short text form:
//
//	daily
//	weekly:mon,wed,fri
//	monthly:1,15
//	monthly:last
//	monthly:2nd tue
//	yearly:02-29
//	once:2024-06-01
func ParseFrequency(cell string) (frequency.Frequency, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return frequency.Frequency{}, fmt.Errorf("Frequency is required")
	}
	if strings.HasPrefix(cell, "{") {
		p, err := frequency.Decode([]byte(cell))
		if err != nil {
			return frequency.Frequency{}, err
		}
		return frequency.Frequency{Pattern: p}, nil
	}

	kind, arg, _ := strings.Cut(strings.ToLower(cell), ":")
	arg = strings.TrimSpace(arg)

	var p frequency.Pattern
	switch strings.TrimSpace(kind) {
	case "daily":
		p = frequency.Daily{}
	case "weekly":
		var days []time.Weekday
		for _, name := range splitList(arg) {
			d, ok := weekdays[name]
			if !ok {
				return frequency.Frequency{}, fmt.Errorf("Unknown weekday %q", name)
			}
			days = append(days, d)
		}
		p = frequency.Weekly{Days: days}
	case "monthly":
		mp, err := parseMonthly(arg)
		if err != nil {
			return frequency.Frequency{}, err
		}
		p = mp
	case "yearly":
		t, err := time.Parse("01-02", arg)
		if err != nil {
			// time.Parse rejects Feb 29 without a year.
			if arg != "02-29" {
				return frequency.Frequency{}, fmt.Errorf("Invalid yearly date %q, use MM-DD", arg)
			}
			p = frequency.Yearly{Month: time.February, Day: 29}
			break
		}
		p = frequency.Yearly{Month: t.Month(), Day: t.Day()}
	case "once":
		d, err := frequency.ParseDate(arg)
		if err != nil {
			return frequency.Frequency{}, fmt.Errorf("Invalid date %q, use YYYY-MM-DD", arg)
		}
		p = frequency.OneTime{Date: d}
	default:
		return frequency.Frequency{}, fmt.Errorf("Unknown frequency %q", cell)
	}

	if err := frequency.Validate(p); err != nil {
		return frequency.Frequency{}, err
	}
	return frequency.Frequency{Pattern: p}, nil
}

func parseMonthly(arg string) (frequency.Pattern, error) {
	if arg == "last" {
		return frequency.MonthlyLastDay{}, nil
	}
	if fields := strings.Fields(arg); len(fields) == 2 {
		ord, ok := ordinals[fields[0]]
		if !ok {
			return nil, fmt.Errorf("Unknown ordinal %q", fields[0])
		}
		wd, ok := weekdays[fields[1]]
		if !ok {
			return nil, fmt.Errorf("Unknown weekday %q", fields[1])
		}
		return frequency.MonthlyWeekday{Weekday: wd, Ordinal: ord}, nil
	}

	var days []int
	for _, s := range splitList(arg) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("Invalid day of month %q", s)
		}
		days = append(days, n)
	}
	return frequency.MonthlyDays{Days: days}, nil
}

// ParseTimes reads a list of times of day such as "09:00, 18:30".
func ParseTimes(cell string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range splitList(cell) {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, fmt.Errorf("Invalid time %s", s)
		}
		out = append(out, models.Schedule{Hour: t.Hour(), Minute: t.Minute()})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
