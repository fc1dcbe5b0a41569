package frequency

import (
	"sort"
	"time"
)

const (
	// maxMonthsAhead bounds the monthly searches. Every valid monthly pattern
	// matches at least once in any 12 consecutive months.
	maxMonthsAhead = 12 * 8
	maxYearsAhead  = 8
)

// Next returns the earliest date on or after from that matches p.
// The second result is false when the pattern has no further dates.
func Next(p Pattern, from Date) (Date, bool) {
	switch v := p.(type) {
	case Daily:
		return from, true
	case Weekly:
		return nextWeekly(v, from)
	case MonthlyDays:
		return nextMonthlyDays(v, from)
	case MonthlyLastDay:
		y, m := from.Year, from.Month
		return Date{Year: y, Month: m, Day: daysIn(y, m)}, true
	case MonthlyWeekday:
		return nextMonthlyWeekday(v, from)
	case Yearly:
		return nextYearly(v, from)
	case OneTime:
		if v.Date.Before(from) {
			return Date{}, false
		}
		return v.Date, true
	}
	return Date{}, false
}

// Occurrences returns up to count matching dates starting at from, in
// ascending order and without duplicates.
func Occurrences(p Pattern, from Date, count int) ([]Date, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	it := NewIterator(p, from)
	dates := make([]Date, 0, count)
	for len(dates) < count {
		d, ok := it.Next()
		if !ok {
			break
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Iterator walks the dates of a pattern lazily. Reset rewinds it to the
// starting date.
type Iterator struct {
	pattern Pattern
	start   Date
	cursor  Date
	done    bool
}

func NewIterator(p Pattern, from Date) *Iterator {
	return &Iterator{pattern: p, start: from, cursor: from}
}

func (it *Iterator) Next() (Date, bool) {
	if it.done {
		return Date{}, false
	}
	d, ok := Next(it.pattern, it.cursor)
	if !ok {
		it.done = true
		return Date{}, false
	}
	it.cursor = d.AddDays(1)
	return d, true
}

func (it *Iterator) Reset() {
	it.cursor = it.start
	it.done = false
}

func nextWeekly(v Weekly, from Date) (Date, bool) {
	var set [7]bool
	found := false
	for _, d := range v.Days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
			found = true
		}
	}
	if !found {
		return Date{}, false
	}
	for i := 0; i < 7; i++ {
		d := from.AddDays(i)
		if set[d.Weekday()] {
			return d, true
		}
	}
	return Date{}, false
}

func nextMonthlyDays(v MonthlyDays, from Date) (Date, bool) {
	days := make([]int, 0, len(v.Days))
	for _, d := range v.Days {
		if d >= 1 && d <= 31 {
			days = append(days, d)
		}
	}
	sort.Ints(days)
	if len(days) == 0 {
		return Date{}, false
	}
	for i := 0; i < maxMonthsAhead; i++ {
		y, m := monthAfter(from.Year, from.Month, i)
		n := daysIn(y, m)
		for _, d := range days {
			if d > n {
				break
			}
			if i == 0 && d < from.Day {
				continue
			}
			return Date{Year: y, Month: m, Day: d}, true
		}
	}
	return Date{}, false
}

func nextMonthlyWeekday(v MonthlyWeekday, from Date) (Date, bool) {
	for i := 0; i < maxMonthsAhead; i++ {
		y, m := monthAfter(from.Year, from.Month, i)
		d, ok := weekdayInMonth(y, m, v.Weekday, v.Ordinal)
		if !ok {
			continue
		}
		if i == 0 && d.Before(from) {
			continue
		}
		return d, true
	}
	return Date{}, false
}

// weekdayInMonth returns the ord-th wd of the month, or the last one for
// LastOrdinal. It reports false when the month has no such day.
func weekdayInMonth(year int, month time.Month, wd time.Weekday, ord Ordinal) (Date, bool) {
	if wd < time.Sunday || wd > time.Saturday {
		return Date{}, false
	}
	n := daysIn(year, month)
	if ord == LastOrdinal {
		last := Date{Year: year, Month: month, Day: n}
		back := (int(last.Weekday()) - int(wd) + 7) % 7
		return Date{Year: year, Month: month, Day: n - back}, true
	}
	if ord < 1 || ord > 5 {
		return Date{}, false
	}
	first := Date{Year: year, Month: month, Day: 1}
	day := 1 + (int(wd)-int(first.Weekday())+7)%7 + 7*(int(ord)-1)
	if day > n {
		return Date{}, false
	}
	return Date{Year: year, Month: month, Day: day}, true
}

func nextYearly(v Yearly, from Date) (Date, bool) {
	if v.Month < time.January || v.Month > time.December {
		return Date{}, false
	}
	for i := 0; i < maxYearsAhead; i++ {
		d, ok := yearlyDate(v, from.Year+i)
		if !ok || d.Before(from) {
			continue
		}
		return d, true
	}
	return Date{}, false
}

// yearlyDate places v in the given year. Feb 29 moves to Feb 28 when the
// year is not a leap year.
func yearlyDate(v Yearly, year int) (Date, bool) {
	day := v.Day
	if v.Month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	if day < 1 || day > daysIn(year, v.Month) {
		return Date{}, false
	}
	return Date{Year: year, Month: v.Month, Day: day}, true
}
