// Package frequency models the calendar patterns a tracking recurs on and
// enumerates the dates that satisfy them.
package frequency

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPattern is returned when pattern parameters are out of range.
var ErrInvalidPattern = errors.New("invalid frequency pattern")

// Kind is the discriminator used when a pattern is stored or sent over the wire.
type Kind string

const (
	KindDaily          Kind = "daily"
	KindWeekly         Kind = "weekly"
	KindMonthlyDays    Kind = "monthly_days"
	KindMonthlyLastDay Kind = "monthly_last_day"
	KindMonthlyWeekday Kind = "monthly_weekday"
	KindYearly         Kind = "yearly"
	KindOneTime        Kind = "one_time"
)

// Pattern is one of Daily, Weekly, MonthlyDays, MonthlyLastDay,
// MonthlyWeekday, Yearly or OneTime. The set is closed.
type Pattern interface {
	Kind() Kind
	pattern()
}

// Daily matches every calendar day.
type Daily struct{}

// Weekly matches the listed weekdays. All seven days behave like Daily.
type Weekly struct {
	Days []time.Weekday
}

// MonthlyDays matches the listed days of the month. Days past the end of a
// short month are skipped for that month.
type MonthlyDays struct {
	Days []int
}

// MonthlyLastDay matches the last calendar day of every month.
type MonthlyLastDay struct{}

// Ordinal selects the Nth weekday of a month. LastOrdinal selects the last one.
type Ordinal int

const LastOrdinal Ordinal = -1

// MonthlyWeekday matches the Nth (or last) given weekday of every month.
type MonthlyWeekday struct {
	Weekday time.Weekday
	Ordinal Ordinal
}

// Yearly matches a fixed month and day. Feb 29 falls on Feb 28 in common years.
type Yearly struct {
	Month time.Month
	Day   int
}

// OneTime matches a single date.
type OneTime struct {
	Date Date
}

func (Daily) Kind() Kind          { return KindDaily }
func (Weekly) Kind() Kind         { return KindWeekly }
func (MonthlyDays) Kind() Kind    { return KindMonthlyDays }
func (MonthlyLastDay) Kind() Kind { return KindMonthlyLastDay }
func (MonthlyWeekday) Kind() Kind { return KindMonthlyWeekday }
func (Yearly) Kind() Kind         { return KindYearly }
func (OneTime) Kind() Kind        { return KindOneTime }

func (Daily) pattern()          {}
func (Weekly) pattern()         {}
func (MonthlyDays) pattern()    {}
func (MonthlyLastDay) pattern() {}
func (MonthlyWeekday) pattern() {}
func (Yearly) pattern()         {}
func (OneTime) pattern()        {}

// Validate checks the parameters of p against the shape of its variant.
func Validate(p Pattern) error {
	switch v := p.(type) {
	case Daily, MonthlyLastDay:
		return nil
	case Weekly:
		if len(v.Days) == 0 {
			return invalid("weekly pattern needs at least one day")
		}
		for _, d := range v.Days {
			if d < time.Sunday || d > time.Saturday {
				return invalid("weekday %d out of range 0-6", int(d))
			}
		}
		return nil
	case MonthlyDays:
		if len(v.Days) == 0 {
			return invalid("monthly pattern needs at least one day")
		}
		for _, d := range v.Days {
			if d < 1 || d > 31 {
				return invalid("day of month %d out of range 1-31", d)
			}
		}
		return nil
	case MonthlyWeekday:
		if v.Weekday < time.Sunday || v.Weekday > time.Saturday {
			return invalid("weekday %d out of range 0-6", int(v.Weekday))
		}
		if v.Ordinal != LastOrdinal && (v.Ordinal < 1 || v.Ordinal > 5) {
			return invalid("ordinal %d out of range 1-5 or last", int(v.Ordinal))
		}
		return nil
	case Yearly:
		if v.Month < time.January || v.Month > time.December {
			return invalid("month %d out of range 1-12", int(v.Month))
		}
		// 2000 is a leap year, so Feb 29 passes here.
		if v.Day < 1 || v.Day > daysIn(2000, v.Month) {
			return invalid("day %d out of range for %s", v.Day, v.Month)
		}
		return nil
	case OneTime:
		if v.Date.IsZero() {
			return invalid("one-time pattern needs a date")
		}
		if v.Date != NewDate(v.Date.Year, v.Date.Month, v.Date.Day) {
			return invalid("date %s does not exist", v.Date)
		}
		return nil
	case nil:
		return invalid("pattern is missing")
	default:
		return invalid("unknown pattern %T", p)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPattern, fmt.Sprintf(format, args...))
}
