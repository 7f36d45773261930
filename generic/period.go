package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Payroll month
// =============================================================================

// Period is a closed date range [Start, End].
// Payroll always computes over a calendar month.
type Period struct {
	Start Date
	End   Date
}

// MonthPeriod returns the calendar month of year.
func MonthPeriod(year int, month time.Month) Period {
	start := NewDate(year, month, 1)
	return Period{Start: start, End: Date{Time: start.Time.AddDate(0, 1, -1)}}
}

// ParseMonthPeriod validates a month/year pair coming from a caller.
func ParseMonthPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, &ValidationError{Field: "month", Message: fmt.Sprintf("month must be 1..12, got %d", month)}
	}
	if year < 2000 || year > 9999 {
		return Period{}, &ValidationError{Field: "year", Message: fmt.Sprintf("year out of range: %d", year)}
	}
	return MonthPeriod(year, time.Month(month)), nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) Year() int         { return p.Start.Year() }
func (p Period) Month() time.Month { return p.Start.Month() }

// String returns "2025-03" for month periods and "[start, end]" otherwise.
func (p Period) String() string {
	if m := MonthPeriod(p.Year(), p.Month()); p.Start.Equal(m.Start) && p.End.Equal(m.End) {
		return p.Start.Time.Format("2006-01")
	}
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
