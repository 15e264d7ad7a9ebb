package donation

import "time"

// =============================================================================
// PERIOD - Reporting window over created timestamps
// =============================================================================

// Period is the half-open window [Start, End). A zero Start or End leaves
// that side unbounded.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !t.Before(p.End) {
		return false
	}
	return true
}

// IsZero reports whether the period is unbounded on both sides.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Validate rejects windows that end before they start.
func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + formatBound(p.Start) + ", " + formatBound(p.End) + ")"
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// YearPeriod is the calendar year in loc.
func YearPeriod(year int, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(1, 0, 0)}
}

// MonthPeriod is one calendar month in loc.
func MonthPeriod(year int, month time.Month, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// DayRange covers whole days from the first to the last date, inclusive.
func DayRange(from, to time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	var p Period
	if !from.IsZero() {
		p.Start = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	}
	if !to.IsZero() {
		p.End = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	}
	return p
}
