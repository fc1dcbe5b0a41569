package frequency

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// wirePattern is the JSON shape of every pattern variant, discriminated by Type.
type wirePattern struct {
	Type    Kind   `json:"type"`
	Days    []int  `json:"days,omitempty"`
	Weekday *int   `json:"weekday,omitempty"`
	Ordinal int    `json:"ordinal,omitempty"`
	Month   int    `json:"month,omitempty"`
	Day     int    `json:"day,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Encode serializes p as a JSON object with a "type" field.
func Encode(p Pattern) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	w := wirePattern{Type: p.Kind()}
	switch v := p.(type) {
	case Weekly:
		for _, d := range v.Days {
			w.Days = append(w.Days, int(d))
		}
	case MonthlyDays:
		w.Days = append(w.Days, v.Days...)
	case MonthlyWeekday:
		wd := int(v.Weekday)
		w.Weekday = &wd
		w.Ordinal = int(v.Ordinal)
	case Yearly:
		w.Month = int(v.Month)
		w.Day = v.Day
	case OneTime:
		w.Date = v.Date.String()
	}
	return json.Marshal(w)
}

// Decode parses the output of Encode and validates the result.
func Decode(data []byte) (Pattern, error) {
	var w wirePattern
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	var p Pattern
	switch w.Type {
	case KindDaily:
		p = Daily{}
	case KindWeekly:
		days := make([]time.Weekday, 0, len(w.Days))
		for _, d := range w.Days {
			days = append(days, time.Weekday(d))
		}
		p = Weekly{Days: days}
	case KindMonthlyDays:
		p = MonthlyDays{Days: append([]int(nil), w.Days...)}
	case KindMonthlyLastDay:
		p = MonthlyLastDay{}
	case KindMonthlyWeekday:
		if w.Weekday == nil {
			return nil, invalid("monthly weekday pattern needs a weekday")
		}
		p = MonthlyWeekday{Weekday: time.Weekday(*w.Weekday), Ordinal: Ordinal(w.Ordinal)}
	case KindYearly:
		p = Yearly{Month: time.Month(w.Month), Day: w.Day}
	case KindOneTime:
		d, err := ParseDate(w.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		p = OneTime{Date: d}
	default:
		return nil, invalid("unknown pattern type %q", w.Type)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Frequency carries a Pattern through JSON documents and SQL columns.
// A nil Pattern is encoded as null / NULL.
type Frequency struct {
	Pattern Pattern
}

func (f Frequency) MarshalJSON() ([]byte, error) {
	if f.Pattern == nil {
		return []byte("null"), nil
	}
	return Encode(f.Pattern)
}

func (f *Frequency) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.Pattern = nil
		return nil
	}
	p, err := Decode(data)
	if err != nil {
		return err
	}
	f.Pattern = p
	return nil
}

// Value implements driver.Valuer.
func (f Frequency) Value() (driver.Value, error) {
	if f.Pattern == nil {
		return nil, nil
	}
	b, err := Encode(f.Pattern)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *Frequency) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		f.Pattern = nil
		return nil
	case string:
		return f.UnmarshalJSON([]byte(v))
	case []byte:
		return f.UnmarshalJSON(v)
	}
	return fmt.Errorf("cannot scan %T into Frequency", src)
}
